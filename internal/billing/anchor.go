// Package billing computes billing-cycle anchor timestamps for recurring
// donations.
package billing

import (
	"errors"
	"time"
)

// ErrInvalidBillingDay is returned for a requested day outside 1..28. Days
// 29-31 are rejected so every month has the anchor day.
var ErrInvalidBillingDay = errors.New("billing day must be between 1 and 28")

// anchorSafetyMargin keeps the computed anchor strictly in the future even
// under clock skew between this host and the processor.
const anchorSafetyMargin = 10 * time.Minute

// NextAnchor returns the next valid billing timestamp for the requested
// day-of-month. A day on or before today's day anchors to that day next
// month; a later day anchors within the current month.
func NextAnchor(now time.Time, day int) (time.Time, error) {
	if day < 1 || day > 28 {
		return time.Time{}, ErrInvalidBillingDay
	}

	anchor := time.Date(now.Year(), now.Month(), day, now.Hour(), now.Minute(), 0, 0, now.Location())
	if day <= now.Day() {
		anchor = anchor.AddDate(0, 1, 0)
	}
	return anchor.Add(anchorSafetyMargin), nil
}
