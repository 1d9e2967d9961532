package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// tbAppender sends entries through testing.TB.Log so each line is attributed to the test that
// produced it, in local time.
type tbAppender struct {
	testing.TB
}

func (a tbAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.Helper()
	line, err := formatLine(entry, fields, true)
	if err != nil {
		return err
	}
	a.Log(line)
	return nil
}

func (tbAppender) Sync() error {
	return nil
}
