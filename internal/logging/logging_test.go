package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-record-service/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := logging.NewWithWriter(logging.Config{Level: "debug"}, buf)
	require.NoError(t, err)
	require.Equal(t, 0, buf.Len())

	l.Component("store").Debug().Int64("record_id", 7).Msg("loaded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "store", line["component"])
	assert.Equal(t, "loaded", line["message"])
	assert.EqualValues(t, 7, line["record_id"])
	assert.Contains(t, line, "time")
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := logging.NewWithWriter(logging.Config{Level: "warn"}, buf)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	assert.Equal(t, 0, buf.Len())
	l.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestNewWithWriter_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := logging.NewWithWriter(logging.Config{Format: "console"}, buf)
	require.NoError(t, err)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	l, err := logging.New(logging.Config{Path: path})
	require.NoError(t, err)

	l.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logging.ParseLevel("loud")
	assert.Error(t, err)
	_, err = logging.NewWithWriter(logging.Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
