package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

type jointReport struct {
	Name   string
	Torque float64
	limit  float64
}

// assertLogMatches checks the tab separated layout of one console line, ignoring the timestamp
// value and the exact line number of the caller.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	for i := 1; i < len(expectedParts); i++ {
		if strings.HasPrefix(expectedParts[i], "logging/") {
			actualFile, _, found := strings.Cut(actualParts[i], ":")
			test.That(t, found, test.ShouldBeTrue)
			expectedFile, _, _ := strings.Cut(expectedParts[i], ":")
			test.That(t, actualFile, test.ShouldEqual, expectedFile)
			continue
		}
		if strings.HasPrefix(expectedParts[i], "{") {
			expectedMap := map[string]any{}
			actualMap := map[string]any{}
			test.That(t, json.Unmarshal([]byte(expectedParts[i]), &expectedMap), test.ShouldBeNil)
			test.That(t, json.Unmarshal([]byte(actualParts[i]), &actualMap), test.ShouldBeNil)
			test.That(t, actualMap, test.ShouldResemble, expectedMap)
			continue
		}
		test.That(t, actualParts[i], test.ShouldEqual, expectedParts[i])
	}
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"wbc", NewAtomicLevelAt(DEBUG), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Info("cycle done")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	wbc	logging/impl_test.go:58	cycle done`)

	logger.Warnf("level %d infeasible", 1)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	wbc	logging/impl_test.go:62	level 1 infeasible`)

	logger.Debugw("factorization", "expected", 6, "rank", 5)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	wbc	logging/impl_test.go:66	factorization	{"expected":6,"rank":5}`)

	// Only public struct fields are serialized.
	logger.Infow("joint", "report", jointReport{"L_HipYaw", 1.5, 100})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	wbc	logging/impl_test.go:71	joint	{"report":{"Name":"L_HipYaw","Torque":1.5}}`)
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"", NewAtomicLevelAt(WARN), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Info("dropped")
	logger.Debugf("dropped %d", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "kept")

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)

	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var parsed Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &parsed), test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, WARN)
}

func TestContextDebugMode(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"", NewAtomicLevelAt(INFO), true, []Appender{NewWriterAppender(notStdout)}}

	ctx := context.Background()
	logger.CDebugf(ctx, "hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	test.That(t, IsDebugMode(ctx), test.ShouldBeFalse)
	test.That(t, IsDebugMode(EnableDebugMode(ctx, "")), test.ShouldBeTrue)
	test.That(t, debugTag(EnableDebugMode(ctx, "")), test.ShouldHaveLength, 6)

	ctx = EnableDebugMode(ctx, "cycle42")
	logger.CDebugw(ctx, "shown", "level", 0)
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "shown")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "cycle42")

	// the plain methods ignore the context tag
	observedLogger, observed := NewObservedTestLogger(t)
	observedLogger.CDebugf(ctx, "tagged %d", 1)
	observedLogger.Debugw("untagged")
	test.That(t, observed.FilterMessage("tagged 1").All()[0].ContextMap()["debug"], test.ShouldEqual, "cycle42")
	test.That(t, observed.FilterMessage("untagged").All()[0].ContextMap(), test.ShouldNotContainKey, "debug")
}

func TestObservedSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("hqp")
	sub.Warnw("qp failed", "level", 2)

	entries := observed.FilterMessage("qp failed").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "hqp")
	test.That(t, entries[0].ContextMap()["level"], test.ShouldEqual, int64(2))
}

func TestAsZap(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Sublogger("qp").AsZap().Infow("solver ready", "kind", "active_set")

	entries := observed.FilterMessage("solver ready").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "qp")
	test.That(t, entries[0].ContextMap()["kind"], test.ShouldEqual, "active_set")
	test.That(t, logger.Sync(), test.ShouldBeNil)
}
