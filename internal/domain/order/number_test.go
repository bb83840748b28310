package order

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNumber_Format(t *testing.T) {
	now := time.Date(2026, 9, 1, 23, 59, 0, 0, time.UTC)

	number := NewNumber(now)

	require.Regexp(t, regexp.MustCompile(`^SO-20260901-[23456789ABCDEFGHJKMNPQRSTUVWXYZ]{6}$`), number)
}

func TestNewNumber_UsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+12", 12*3600)
	now := time.Date(2026, 9, 2, 2, 0, 0, 0, loc) // still 2026-09-01 in UTC

	number := NewNumber(now)

	assert.Contains(t, number, "SO-20260901-")
}

func TestNewNumber_Varies(t *testing.T) {
	now := time.Now()

	seen := make(map[string]struct{})
	for range 100 {
		seen[NewNumber(now)] = struct{}{}
	}

	assert.Greater(t, len(seen), 90, "random suffixes should rarely collide")
}

func TestAllDigital(t *testing.T) {
	digital := Item{IsDigital: true}
	physical := Item{}

	tests := []struct {
		name  string
		items []Item
		want  bool
	}{
		{"empty order", nil, false},
		{"all digital", []Item{digital, digital}, true},
		{"mixed", []Item{digital, physical}, false},
		{"all physical", []Item{physical}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Items: tt.items}
			assert.Equal(t, tt.want, o.AllDigital())
		})
	}
}
