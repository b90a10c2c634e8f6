package log_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/hydrocast/pkg/log"
)

func TestZerologProviderFields(t *testing.T) {
	var buf bytes.Buffer
	p := log.NewZerologProviderWithWriter(&buf, zerolog.DebugLevel)

	logger := p.GetLoggerWithName("features").With(log.ComponentKey, "features")
	logger.Info("Lag generation completed", log.SamplesKey, 97, log.FeaturesKey, 6)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "features", entry["logger"])
	assert.Equal(t, "features", entry[log.ComponentKey])
	assert.Equal(t, float64(97), entry[log.SamplesKey])
	assert.Equal(t, "Lag generation completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestZerologProviderLevel(t *testing.T) {
	var buf bytes.Buffer
	p := log.NewZerologProviderWithWriter(&buf, zerolog.WarnLevel)

	p.GetLogger().Info("hidden")
	assert.Zero(t, buf.Len())

	p.GetLogger().Error("shown", "error", errors.New("boom"))
	assert.Contains(t, buf.String(), "boom")
}

func TestToLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, log.ToLogLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, log.ToLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, log.ToLogLevel("nonsense"))
}
