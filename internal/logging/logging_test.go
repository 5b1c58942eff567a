// File: internal/logging/logging_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevelParsing(t *testing.T) {
	defer Setup("info", false)

	Setup("debug", false)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup("error", false)
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())

	// Unknown names fall back to info instead of failing.
	Setup("extremely-loud", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewTagsComponent(t *testing.T) {
	defer Setup("info", false)
	Setup("debug", false)

	var buf bytes.Buffer
	log := New("reactor").Output(&buf)
	log.Info().Int("fds", 3).Msg("poller ready")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reactor", line["component"])
	assert.Equal(t, "poller ready", line["message"])
	assert.Equal(t, float64(3), line["fds"])
	assert.Contains(t, line, "time")
}

func TestNopIsSilent(t *testing.T) {
	log := Nop()
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
	// Must not panic or emit anywhere.
	log.Error().Str("k", "v").Msg("dropped")
}
