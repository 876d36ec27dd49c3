package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")
}

func TestNew_DefaultsToInfo(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestWithComponent_AddsField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf).WithComponent("rest")
	l.Info().Int("records", 3).Msg("sending")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "rest", line["component"])
	assert.Equal(t, "sending", line["message"])
	assert.EqualValues(t, 3, line["records"])
}

func TestNewTestLogger_Discards(t *testing.T) {
	l := NewTestLogger()
	l.Error().Msg("nothing")
	l.WithComponent("x").Debug().Msg("still nothing")
}
