package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLogger_HonorsEveryLevel(t *testing.T) {
	cases := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"garbage", false, true, true},
	}
	for _, tc := range cases {
		log := buildLogger(tc.level, "test")
		assert.Equal(t, tc.debugOn, log.Enabled(context.Background(), slog.LevelDebug), "level=%s debug", tc.level)
		assert.Equal(t, tc.infoOn, log.Enabled(context.Background(), slog.LevelInfo), "level=%s info", tc.level)
		assert.Equal(t, tc.warnOn, log.Enabled(context.Background(), slog.LevelWarn), "level=%s warn", tc.level)
		assert.True(t, log.Enabled(context.Background(), slog.LevelError), "level=%s error", tc.level)
	}
}
