package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunTime(t *testing.T) {
	from := time.Date(2024, 3, 1, 8, 58, 30, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 9 * * *", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"0 */4 * * *", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"59 8 * * *", time.Date(2024, 3, 1, 8, 59, 0, 0, time.UTC)},
		{"58 8 * * *", time.Date(2024, 3, 2, 8, 58, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 0", time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)},
		{"0 0 * 2 *", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := NextRunTime(tt.expr, from)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRunTime_AfterExactMatchMovesForward(t *testing.T) {
	ran := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	got, ok := NextRunTime("0 9 * * *", ran)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), got)
}

func TestNextRunTime_Monotonic(t *testing.T) {
	exprs := []string{"0 9 * * *", "*/15 * * * *", "0 */4 * * *", "0 0 1 * *", "30 2 * * 1", "0 0 29 2 *"}
	froms := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2023, 12, 31, 23, 45, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 12, 7, 13, 0, time.FixedZone("UTC+5:30", 5*3600+1800)),
	}

	for _, expr := range exprs {
		f := Parse(expr)
		require.NotNil(t, f, expr)
		for _, from := range froms {
			next, ok := NextRunTime(expr, from)
			if !ok {
				// Leap-day expressions can legitimately fall outside the one-year window.
				assert.Equal(t, "0 0 29 2 *", expr)
				continue
			}
			assert.True(t, next.After(from), "%s from %s gave %s", expr, from, next)
			assert.True(t, f.Matches(next), "%s from %s gave non-matching %s", expr, from, next)
			assert.Zero(t, next.Second())
		}
	}
}

func TestNextRunTime_Impossible(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := NextRunTime("0 0 31 2 *", from)
	assert.False(t, ok)

	_, ok = NextRunTime("0 0 30 2 *", from)
	assert.False(t, ok)

	_, ok = NextRunTime("not a cron", from)
	assert.False(t, ok)
}

func TestNextRunTime_HalfHourZone(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	from := time.Date(2024, 3, 1, 8, 10, 0, 0, loc)

	got, ok := NextRunTime("0 9 * * *", from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, loc), got)
}
