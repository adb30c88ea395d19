package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnLockTTL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{
			name: "configured ttl shorter than a full turn is raised",
			cfg: Config{
				LLM:  LLMConfig{TimeoutSeconds: 60, MaxToolRounds: 3},
				Chat: ChatConfig{TurnLockTTLSeconds: 120},
			},
			want: 3*60*time.Second + turnLockMargin,
		},
		{
			name: "longer ttl is kept",
			cfg: Config{
				LLM:  LLMConfig{TimeoutSeconds: 60, MaxToolRounds: 3},
				Chat: ChatConfig{TurnLockTTLSeconds: 600},
			},
			want: 600 * time.Second,
		},
		{
			name: "defaults apply when llm limits are unset",
			cfg:  Config{},
			want: 3*60*time.Second + turnLockMargin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.TurnLockTTL())
		})
	}
}
