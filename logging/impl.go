package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

// callerSkip is the number of frames from getCaller up to the code that called a Logger method.
const callerSkip = 4

// noContext stands in for the context of the methods that do not take one.
var noContext = context.Background()

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

// Sublogger names the child "parent.subname". The child starts at the parent's current level and
// can be adjusted independently afterwards.
func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var errs error
	for _, appender := range imp.appenders {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

// AsZap builds a zap logger that writes through the console config and tees into every appender
// that is itself a zapcore.Core, such as the observer of NewObservedTestLogger.
func (imp *impl) AsZap() *zap.SugaredLogger {
	config := NewZapLoggerConfig()
	config.Level = GlobalLogLevel
	ret := zap.Must(config.Build()).Sugar().Named(imp.name)
	for _, appender := range imp.appenders {
		core, ok := appender.(zapcore.Core)
		if !ok {
			continue
		}
		ret = ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}
	return ret
}

func (imp *impl) enabled(ctx context.Context, level Level) bool {
	return GlobalLogLevel.Level() == zapcore.DebugLevel || level >= imp.level.Get() ||
		(level == DEBUG && IsDebugMode(ctx))
}

func (imp *impl) newEntry(level Level, msg string, keysAndValues []interface{}) *LogEntry {
	entry := &LogEntry{}
	entry.Time = time.Now()
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	entry.LoggerName = imp.name
	entry.Caller = getCaller()
	entry.Level = level.AsZap()
	entry.Message = msg
	entry.fields = fieldsOf(keysAndValues)
	return entry
}

// fieldsOf pairs up alternating keys and values. A trailing key without a value is kept with an
// error value so the mistake shows in the output.
func fieldsOf(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) write(entry *LogEntry) {
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// The helpers below are each called directly from a Logger method, which keeps the caller frame
// at a fixed depth.

func (imp *impl) print(ctx context.Context, level Level, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.write(imp.newEntry(level, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) printf(ctx context.Context, level Level, template string, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.write(imp.newEntry(level, fmt.Sprintf(template, args...), tagged(ctx, nil)))
	}
}

func (imp *impl) printw(ctx context.Context, level Level, msg string, keysAndValues []interface{}) {
	if imp.enabled(ctx, level) {
		imp.write(imp.newEntry(level, msg, tagged(ctx, keysAndValues)))
	}
}

// tagged appends the debug tag of ctx, if any, to the key-value pairs.
func tagged(ctx context.Context, keysAndValues []interface{}) []interface{} {
	if tag := debugTag(ctx); tag != "" {
		return append(keysAndValues[:len(keysAndValues):len(keysAndValues)], "debug", tag)
	}
	return keysAndValues
}

func (imp *impl) Debug(args ...interface{}) { imp.print(noContext, DEBUG, args) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.printf(noContext, DEBUG, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.printw(noContext, DEBUG, msg, keysAndValues)
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.printf(ctx, DEBUG, template, args)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.printw(ctx, DEBUG, msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.print(noContext, INFO, args) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.printf(noContext, INFO, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.printw(noContext, INFO, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.print(noContext, WARN, args) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.printf(noContext, WARN, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.printw(noContext, WARN, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.print(noContext, ERROR, args) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.printf(noContext, ERROR, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.printw(noContext, ERROR, msg, keysAndValues)
}

// getCaller returns the file and line of the code that called the Logger method.
func getCaller() zapcore.EntryCaller {
	var caller zapcore.EntryCaller
	var ok bool
	caller.PC, caller.File, caller.Line, ok = runtime.Caller(callerSkip)
	if !ok {
		return caller
	}
	caller.Defined = true
	if fn := runtime.FuncForPC(caller.PC); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
