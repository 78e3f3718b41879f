package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"position_trader/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	require.NoError(t, err)
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	require.NoError(t, err)

	logger.Info("Test OTel bridging", "key", "value")
	time.Sleep(100 * time.Millisecond)

	logger.WithField("component", "test").Debug("Debug message", "status", "testing", "error", errors.New("x"))
	_ = logger.Sync()
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zap.WarnLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zap.InfoLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)

	_, err = NewZapLogger("verbose")
	assert.Error(t, err)
}

func TestConvertToZapFields_OddCount(t *testing.T) {
	l := NewNopLogger()
	fields := l.convertToZapFields([]interface{}{"a", 1, "dangling"})
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "_dangling", fields[1].Key)
}
