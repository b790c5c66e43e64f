package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&config.Config{LogLevel: "debug", LogFormat: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logFile := filepath.Join(t.TempDir(), "gateway.log")
	logger, err = NewLogger(&config.Config{LogLevel: "warn", LogFile: logFile})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	logger.Warn("written to file")
	_ = logger.Sync()
	assert.FileExists(t, logFile)

	_, err = NewLogger(&config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDispatch("openai", "success", 120*time.Millisecond)
	m.ProviderAttempt("openai", "rate_limited")
	m.ProviderAttempt("openai", "rate_limited")
	m.Quarantined("openai")
	m.Recovered("openai")
	m.DroppedCounter().Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("openai", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("openai", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialQuarantine.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialRecovery.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageRecordsDropped))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("openai", "success", time.Second)
	m.ProviderAttempt("openai", "ok")
	m.Quarantined("openai")
	m.Recovered("openai")
	assert.Nil(t, m.DroppedCounter())
}
