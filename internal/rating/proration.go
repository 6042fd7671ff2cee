// Package rating holds the pure billing math shared by the lifecycle manager
// and the revenue endpoints.
package rating

import (
	"math"
	"time"

	"github.com/smallbiznis/faktur/pkg/money"
)

// Prorate splits a mid-period plan change into the amount the customer owes
// (positive) or is credited (negative), in minor units. Day counts are
// rounded up so a partial day bills as a full one.
func Prorate(oldAmountCents, newAmountCents int64, periodStart, periodEnd, now time.Time) int64 {
	totalDays := ceilDays(periodEnd.Sub(periodStart))
	if totalDays <= 0 {
		return 0
	}
	remainingDays := ceilDays(periodEnd.Sub(now))
	if remainingDays <= 0 {
		return 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	perDayDelta := (float64(newAmountCents) - float64(oldAmountCents)) / float64(totalDays)
	return money.Round(perDayDelta * float64(remainingDays))
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
