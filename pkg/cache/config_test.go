package cache

import (
	"testing"
	"time"
)

func TestTTLPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  TTLPolicy
		wantErr bool
	}{
		{"valid policy", TTLPolicy{Default: time.Minute, Max: time.Hour}, false},
		{"zero policy", TTLPolicy{}, false},
		{"no cap", TTLPolicy{Default: time.Minute}, false},
		{"negative default", TTLPolicy{Default: -time.Minute, Max: time.Hour}, true},
		{"negative max", TTLPolicy{Default: time.Minute, Max: -time.Hour}, true},
		{"default above max", TTLPolicy{Default: time.Hour, Max: time.Minute}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTTLPolicy_Effective(t *testing.T) {
	policy := TTLPolicy{Default: time.Minute, Max: time.Hour}

	tests := []struct {
		name     string
		ttl      time.Duration
		expected time.Duration
	}{
		{"zero uses default", 0, time.Minute},
		{"negative uses default", -time.Second, time.Minute},
		{"within bounds", 10 * time.Minute, 10 * time.Minute},
		{"above max is capped", 2 * time.Hour, time.Hour},
		{"exactly max", time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.Effective(tt.ttl)
			if result != tt.expected {
				t.Errorf("Effective(%v) = %v, want %v", tt.ttl, result, tt.expected)
			}
		})
	}
}

func TestTTLPolicy_EffectiveNoCap(t *testing.T) {
	policy := TTLPolicy{Default: time.Minute}

	if got := policy.Effective(24 * time.Hour); got != 24*time.Hour {
		t.Errorf("Effective(24h) with no cap = %v, want 24h", got)
	}
}
