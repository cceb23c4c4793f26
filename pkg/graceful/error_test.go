package graceful

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapErrPreservesCauseAndCode(t *testing.T) {
	cause := errors.New("duplicate campaign name")
	wrapped := WrapErr(CodeBusinessRule, "campaign create rejected", cause, map[string]interface{}{"campaign_id": "c1"})

	assert.Equal(t, CodeBusinessRule, wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "duplicate campaign name")
}

func TestIsCodeMatchesWrappedChain(t *testing.T) {
	inner := WrapErr(CodeTransient, "bus publish failed", errors.New("dial tcp: timeout"), nil)
	outer := fmt.Errorf("publish RegisterCampaign: %w", inner)

	assert.True(t, IsCode(outer, CodeTransient))
	assert.False(t, IsCode(outer, CodeBusinessRule))
}

func TestLogAndWrapLogsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	err := LogAndWrap(context.Background(), log, CodeDecode, "malformed envelope", errors.New("bad json"))
	require.Equal(t, CodeDecode, err.Code)
	require.Equal(t, 1, logs.Len())
}
