package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.entries = append(r.entries, "debug") }
func (r *recordingLogger) Info(format string, args ...any)  { r.entries = append(r.entries, "info") }
func (r *recordingLogger) Warn(format string, args ...any)  { r.entries = append(r.entries, "warn") }
func (r *recordingLogger) Error(format string, args ...any) { r.entries = append(r.entries, "error") }

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	var typedNil *recordingLogger
	assert.Equal(t, Nop(), OrNop(typedNil))

	rec := &recordingLogger{}
	assert.Equal(t, Logger(rec), OrNop(rec))
}

func TestMultiFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	logger := Multi(a, nil, b)
	logger.Info("hello %s", "world")
	logger.Error("boom")

	require.Equal(t, []string{"info", "error"}, a.entries)
	require.Equal(t, []string{"info", "error"}, b.entries)
}

func TestMultiFlattensNested(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	nested := Multi(Multi(a), b)
	ml, ok := nested.(*multiLogger)
	require.True(t, ok)
	assert.Len(t, ml.loggers, 2)
}

func TestMultiCollapsesToNop(t *testing.T) {
	assert.Equal(t, Nop(), Multi(nil, nil))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input).String(), "input %q", input)
	}
}
