package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSendTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		name      string
		base      time.Time
		days      int
		hours     int
		timeOfDay string
		loc       *time.Location
		want      time.Time
	}{
		{
			name: "zero delay is immediate",
			base: t0,
			want: t0,
		},
		{
			name:  "days and hours add up",
			base:  t0,
			days:  2,
			hours: 3,
			want:  t0.Add(51 * time.Hour),
		},
		{
			name:  "negative delays are clamped",
			base:  t0,
			days:  -1,
			hours: -5,
			want:  t0,
		},
		{
			name:      "preferred time later the same day",
			base:      t0,
			timeOfDay: "14:30",
			want:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		},
		{
			name:      "preferred time already passed moves to next day",
			base:      t0,
			timeOfDay: "08:00",
			want:      time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "preferred time applies after the delay",
			base:      t0,
			days:      1,
			timeOfDay: "10:00",
			want:      time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			name:      "preferred time is read in the sequence timezone",
			base:      t0, // 10:00 in Berlin
			timeOfDay: "09:00",
			loc:       berlin,
			want:      time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
		},
		{
			name:      "invalid time of day is ignored",
			base:      t0,
			timeOfDay: "25:99",
			want:      t0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextSendTime(tt.base, tt.days, tt.hours, tt.timeOfDay, tt.loc)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
