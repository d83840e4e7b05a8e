package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, 5 * time.Second},
		{"second doubles", 2, 10 * time.Second},
		{"third doubles again", 3, 20 * time.Second},
		{"sixth", 6, 160 * time.Second},
		{"capped", 8, 5 * time.Minute},
		{"far past cap", 30, 5 * time.Minute},
		{"zero treated as first", 0, 5 * time.Second},
		{"negative treated as first", -3, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt))
		})
	}
}

func TestBackoff_BaseAboveMax(t *testing.T) {
	b := Backoff{Base: 10 * time.Second, Max: 5 * time.Second}
	assert.Equal(t, 5*time.Second, b.Delay(1))
}
