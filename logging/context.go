package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugTagKey struct{}

// EnableDebugMode returns ctx with debug output forced on for the C-prefixed Logger methods. Their
// entries carry tag in a "debug" field so one cycle's diagnostics can be picked out; an empty tag
// is replaced by a random one.
func EnableDebugMode(ctx context.Context, tag string) context.Context {
	if tag == "" {
		tag = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugTagKey{}, tag)
}

// IsDebugMode reports whether ctx came from EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return debugTag(ctx) != ""
}

func debugTag(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tag, _ := ctx.Value(debugTagKey{}).(string)
	return tag
}
