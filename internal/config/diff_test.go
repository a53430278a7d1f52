package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()
	base := mustLoad(t, sampleYAML)

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:      "log level only",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			wantLevel: true,
		},
		{
			name:        "listen addr",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1" },
			wantRestart: []string{"server"},
		},
		{
			name: "model and breaker",
			mutate: func(c *config.Config) {
				c.Model.Loopback.TextTokens = []int32{9}
				c.Breaker.MaxFailures = 9
			},
			wantRestart: []string{"model", "breaker"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := mustLoad(t, sampleYAML)
			tt.mutate(next)
			d := config.Diff(base, next)
			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged: got %v, want %v", d.LogLevelChanged, tt.wantLevel)
			}
			if tt.wantLevel && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, next.Server.LogLevel)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}
