package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger("storefront-api", "production", "warn", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger("storefront-api", "production", "loud", "json")
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	base := zap.NewNop()
	scoped := zap.NewExample()

	assert.Same(t, base, FromContext(context.Background(), base))

	ctx := ContextWithLogger(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, base))

	assert.Same(t, zap.L(), FromContext(context.Background(), nil))
}
