package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zap.AtomicLevel
	}{
		{"debug", "console", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"INFO", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"warn", "", zap.NewAtomicLevelAt(zap.WarnLevel)},
	}
	for _, tt := range tests {
		l, err := New(tt.level, tt.format)
		require.NoError(t, err, tt.level)
		assert.True(t, l.Core().Enabled(tt.enabled.Level()))
		assert.False(t, l.Core().Enabled(tt.enabled.Level()-1))
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "console")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}
