package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProrateMidPeriodUpgrade(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)

	// $10 -> $20 with 15 of 30 days remaining: half the delta.
	got := Prorate(1000, 2000, periodStart, periodEnd, now)
	assert.Equal(t, int64(500), got)
}

func TestProrateDowngradeCredits(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)

	got := Prorate(2000, 1000, periodStart, periodEnd, now)
	assert.Equal(t, int64(-500), got)
}

func TestProrateFullPeriodRemaining(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	got := Prorate(1000, 2000, periodStart, periodEnd, periodStart)
	assert.Equal(t, int64(1000), got)
}

func TestProrateNothingRemaining(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), Prorate(1000, 2000, periodStart, periodEnd, periodEnd))
	assert.Equal(t, int64(0), Prorate(1000, 2000, periodStart, periodEnd, periodEnd.Add(24*time.Hour)))
}

func TestProrateDegeneratePeriod(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), Prorate(1000, 2000, at, at, at))
	assert.Equal(t, int64(0), Prorate(1000, 2000, at.Add(time.Hour), at, at))
}

func TestProrateClampsClockSkew(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	// now before the period start must not charge more than a full period.
	got := Prorate(1000, 2000, periodStart, periodEnd, periodStart.Add(-48*time.Hour))
	assert.Equal(t, int64(1000), got)
}

func TestProratePartialDayRoundsUp(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	// 14.5 days left counts as 15 billable days.
	now := time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)

	got := Prorate(1000, 2000, periodStart, periodEnd, now)
	assert.Equal(t, int64(500), got)
}
