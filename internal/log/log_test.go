package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden", "k", 1)
	assert.Empty(t, buf.String())

	Info("shown", "mode", "TEXT", "odd")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "mode=TEXT")
	assert.NotContains(t, buf.String(), "odd")

	buf.Reset()
	Error("failed", errors.New("boom"), "id", 7)
	assert.Contains(t, buf.String(), "err=boom")
	assert.Contains(t, buf.String(), "id=7")

	buf.Reset()
	SetLevel(LevelError)
	Warn("quiet")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
