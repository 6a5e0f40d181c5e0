package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"montrix/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5s", 5 * time.Second, true},
		{"1m", time.Minute, true},
		{"15m", 15 * time.Minute, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 30S ", 30 * time.Second, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"5x", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseIntervalDuration(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestDropUnclosedKline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 7, 30, 0, time.UTC)
	interval := 5 * time.Minute

	closedOpen := now.Truncate(interval).Add(-interval) // opened 12:00, closed 12:05
	forming := now.Truncate(interval)                   // opened 12:05, still forming

	klines := []market.Candle{
		{OpenTime: closedOpen.UnixMilli(), Close: 100},
		{OpenTime: forming.UnixMilli(), Close: 101},
	}
	kept := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
	require.Len(t, kept, 1)
	assert.Equal(t, closedOpen.UnixMilli(), kept[0].OpenTime)

	// well past close + grace: both candles kept
	later := now.Add(10 * time.Minute)
	kept = dropUnclosedKlineAt(klines, interval, later, 10*time.Second)
	assert.Len(t, kept, 2)

	// empty input stays empty
	assert.Empty(t, dropUnclosedKlineAt(nil, interval, now, 0))
}
