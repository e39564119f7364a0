package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		name, env, level string
		want             zapcore.Level
	}{
		{"production default", "production", "", zapcore.InfoLevel},
		{"dev default", "dev", "", zapcore.DebugLevel},
		{"explicit level wins", "dev", "WARN", zapcore.WarnLevel},
		{"bad level falls back", "", "loud", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("LOG_LEVEL", tt.level)
			assert.Equal(t, tt.want, LevelFromEnv())
		})
	}
}

func TestShouldSampleBounds(t *testing.T) {
	assert.True(t, ShouldSample(1))
	assert.False(t, ShouldSample(0))
}

func TestGetSamplingRate(t *testing.T) {
	t.Setenv("ENV", "local")
	assert.Equal(t, 1.0, GetSamplingRate())
	t.Setenv("ENV", "")
	assert.Equal(t, 0.1, GetSamplingRate())
}

func TestSamplerDescription(t *testing.T) {
	assert.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased")
	var _ sdktrace.Sampler = Sampler(0.5)
}
