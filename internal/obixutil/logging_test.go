package obixutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLevelAcceptsKnownLevels(t *testing.T) {
	assert := require.New(t)

	assert.Nil(SetLevel("debug"))
	assert.Equal(zapcore.DebugLevel, atomicLevel.Level())

	assert.Nil(SetLevel("warn"))
	assert.Equal(zapcore.WarnLevel, atomicLevel.Level())
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	assert := require.New(t)
	assert.NotNil(SetLevel("not-a-level"))
}

func fetchThrottled(sugar *zap.SugaredLogger) *ThrottledLogger {
	return GetThrottledLogger(sugar, 0, 0)
}

func TestThrottledLoggerMemoizesPerCallSite(t *testing.T) {
	assert := require.New(t)

	sugar := zap.NewNop().Sugar()
	tl := fetchThrottled(sugar)
	assert.NotNil(tl)

	tl.Errorw("boom")
	tl2 := fetchThrottled(sugar)
	assert.Same(tl, tl2)
}
