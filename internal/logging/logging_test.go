package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })

	var buf bytes.Buffer
	Configure(&buf, "warn", "json")
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "test", line["component"])
	require.Equal(t, "ledgerly", line["service"])
}

func TestConfigureBadLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })
	var buf bytes.Buffer
	Configure(&buf, "loud", "console")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
