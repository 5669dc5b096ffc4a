package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"none", SILENT, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestModuleTagAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)
	m := l.Module("Controller")

	m.Info("hidden %d", 1)
	m.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [Controller] shown 2")
}

func TestSilentDropsEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("X", "boom")
	assert.Empty(t, buf.String())
}

func TestColorWrapsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, true)
	l.Debug("", "msg")
	assert.Contains(t, buf.String(), levelColors[DEBUG]+"[DEBUG]"+resetColor+" msg")
}

func TestUnboundModuleBeforeInitIsQuiet(t *testing.T) {
	// Must not panic when no global logger is installed.
	Module{name: "Test"}.Info("nothing to see")
}
