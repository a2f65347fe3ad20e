package subscription

import (
	"time"

	"github.com/minifleet/minifleet/company"

	"github.com/stripe/stripe-go/v72"
)

// Snapshot is the normalized, resolved view of external subscription truth at
// a point in time. The provider can push it (webhook) or we can pull it; either
// way it goes through ResolveSnapshot before touching local state
type Snapshot struct {
	Status               company.SubscriptionStatus
	PriceID              string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	StripeSubscriptionID string

	// RawStatus is set when the provider status was not in the mapping table
	// and Status fell back to CANCELED, so callers can log it
	RawStatus string
}

// StatusFromStripe maps the provider status vocabulary to the local enum.
// The second return is false for unrecognized statuses, which resolve to
// CANCELED as the safe default
func StatusFromStripe(s stripe.SubscriptionStatus) (company.SubscriptionStatus, bool) {
	switch s {
	case stripe.SubscriptionStatusActive:
		return company.StatusActive, true
	case stripe.SubscriptionStatusCanceled:
		return company.StatusCanceled, true
	case stripe.SubscriptionStatusPastDue:
		return company.StatusPastDue, true
	case stripe.SubscriptionStatusUnpaid:
		return company.StatusUnpaid, true
	case stripe.SubscriptionStatusTrialing:
		return company.StatusTrial, true
	default:
		return company.StatusCanceled, false
	}
}

// ResolveSnapshot normalizes a raw provider subscription into a Snapshot.
//
// Rules, first match wins:
//  1. the terminal "canceled" status always resolves to CANCELED, regardless
//     of what the period timestamps would suggest
//  2. otherwise the status maps through the fixed table, unrecognized values
//     falling back to CANCELED
//
// The pending-cancellation flag is true when either the boolean flag is set OR
// a cancel_at timestamp lies strictly in the future: the provider signals a
// scheduled cancellation through either field depending on the pathway, and
// checking only one under-detects. Missing period timestamps resolve to nil
func ResolveSnapshot(raw *stripe.Subscription, now time.Time) Snapshot {
	snap := Snapshot{
		StripeSubscriptionID: raw.ID,
	}

	status, recognized := StatusFromStripe(raw.Status)
	snap.Status = status
	if !recognized {
		snap.RawStatus = string(raw.Status)
	}

	hasFutureCancelAt := raw.CancelAt > 0 && time.Unix(raw.CancelAt, 0).After(now)
	snap.CancelAtPeriodEnd = raw.CancelAtPeriodEnd || hasFutureCancelAt

	if raw.CurrentPeriodStart > 0 {
		t := time.Unix(raw.CurrentPeriodStart, 0).UTC()
		snap.CurrentPeriodStart = &t
	}
	if raw.CurrentPeriodEnd > 0 {
		t := time.Unix(raw.CurrentPeriodEnd, 0).UTC()
		snap.CurrentPeriodEnd = &t
	}

	if raw.Items != nil && len(raw.Items.Data) > 0 && raw.Items.Data[0].Price != nil {
		snap.PriceID = raw.Items.Data[0].Price.ID
	}

	return snap
}
