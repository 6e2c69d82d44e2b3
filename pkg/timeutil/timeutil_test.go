package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "strips time of day",
			in:   time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC),
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "already a day start",
			in:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "converts local time to UTC first",
			in:   time.Date(2025, 3, 11, 3, 0, 0, 0, almaty), // 2025-03-10 22:00 UTC
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Day(tt.in))
		})
	}
}

func TestDayKeyRoundTrip(t *testing.T) {
	in := time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)
	key := DayKey(in)
	assert.Equal(t, "2025-03-10", key)

	parsed, err := ParseDayKey(key)
	require.NoError(t, err)
	assert.Equal(t, Day(in), parsed)

	_, err = ParseDayKey("not-a-day")
	assert.Error(t, err)
}

func TestIsSameDay(t *testing.T) {
	assert.True(t, IsSameDay(
		time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC),
		time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)))
	assert.False(t, IsSameDay(
		time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC)))
}

func TestIsConsecutiveDay(t *testing.T) {
	d := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, IsConsecutiveDay(d, d.AddDate(0, 0, 1)))
	assert.False(t, IsConsecutiveDay(d, d))
	assert.False(t, IsConsecutiveDay(d, d.AddDate(0, 0, 2)))
	// Переход через месяц.
	assert.True(t, IsConsecutiveDay(
		time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 3, 13, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b))
	assert.Equal(t, -3, DaysBetween(b, a))
	assert.Equal(t, 0, DaysBetween(a, a))
}

func TestMonthBoundaries(t *testing.T) {
	in := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(in))
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), EndOfMonth(in))

	// Високосный февраль.
	leap := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), EndOfMonth(leap))
}

func TestWeekOfMonth(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want int
	}{
		// Сентябрь 2025 начинается с понедельника.
		{"monday-start month, day 1", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), 1},
		{"monday-start month, day 7", time.Date(2025, 9, 7, 0, 0, 0, 0, time.UTC), 1},
		{"monday-start month, day 8", time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC), 2},
		// Март 2025 начинается с субботы: первая неделя короткая.
		{"saturday-start month, day 1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 1},
		{"saturday-start month, first monday", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), 2},
		// Июнь 2025 начинается с воскресенья.
		{"sunday-start month, day 1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 1},
		{"sunday-start month, day 2", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 2},
		{"sunday-start month, day 30", time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekOfMonth(tt.in))
		})
	}
}

func TestLastNDays(t *testing.T) {
	anchor := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	days := LastNDays(anchor, 3)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), days[2])

	assert.Nil(t, LastNDays(anchor, 0))
	assert.Nil(t, LastNDays(anchor, -1))
}
