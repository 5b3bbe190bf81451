package lifecycle

import (
	"time"

	"github.com/givebridge/givebridge/internal/store"
)

// MapProcessorStatus converts the processor's subscription status into the
// internal enum. Every webhook handler and lifecycle operation derives status
// through this single function; call sites never re-map inline.
//
// pausedUntil reflects the processor's pause-collection window: when present
// the subscription is paused regardless of the nominal status string.
func MapProcessorStatus(status string, pausedUntil *time.Time) store.SubscriptionStatus {
	if pausedUntil != nil {
		return store.SubscriptionPaused
	}
	switch status {
	case "active", "trialing":
		return store.SubscriptionActive
	case "past_due", "unpaid":
		return store.SubscriptionPastDue
	case "canceled", "incomplete_expired":
		return store.SubscriptionCanceled
	case "paused":
		return store.SubscriptionPaused
	default:
		// incomplete and anything unrecognized: not yet collectable.
		return store.SubscriptionIncomplete
	}
}
