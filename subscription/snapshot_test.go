package subscription

import (
	"testing"
	"time"

	"github.com/minifleet/minifleet/company"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v72"
)

func TestStatusFromStripe(t *testing.T) {
	tests := []struct {
		name       string
		input      stripe.SubscriptionStatus
		expected   company.SubscriptionStatus
		recognized bool
	}{
		{"active", stripe.SubscriptionStatusActive, company.StatusActive, true},
		{"trialing", stripe.SubscriptionStatusTrialing, company.StatusTrial, true},
		{"past_due", stripe.SubscriptionStatusPastDue, company.StatusPastDue, true},
		{"unpaid", stripe.SubscriptionStatusUnpaid, company.StatusUnpaid, true},
		{"canceled", stripe.SubscriptionStatusCanceled, company.StatusCanceled, true},
		{"incomplete falls back", stripe.SubscriptionStatusIncomplete, company.StatusCanceled, false},
		{"garbage falls back", stripe.SubscriptionStatus("whatever"), company.StatusCanceled, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, recognized := StatusFromStripe(tc.input)
			assert.Equal(t, tc.expected, status)
			assert.Equal(t, tc.recognized, recognized)
		})
	}
}

func TestResolveSnapshotTerminalCancellationWins(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// period end still in the future, but the provider says canceled
	raw := &stripe.Subscription{
		ID:               "sub_123",
		Status:           stripe.SubscriptionStatusCanceled,
		CurrentPeriodEnd: now.AddDate(0, 1, 0).Unix(),
	}

	snap := ResolveSnapshot(raw, now)
	assert.Equal(t, company.StatusCanceled, snap.Status)
	assert.Empty(t, snap.RawStatus)
}

func TestResolveSnapshotUnrecognizedStatus(t *testing.T) {
	now := time.Now()

	raw := &stripe.Subscription{
		ID:     "sub_123",
		Status: stripe.SubscriptionStatus("paused"),
	}

	snap := ResolveSnapshot(raw, now)
	assert.Equal(t, company.StatusCanceled, snap.Status)
	assert.Equal(t, "paused", snap.RawStatus)
}

func TestResolveSnapshotPendingCancellation(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name              string
		cancelAtPeriodEnd bool
		cancelAt          int64
		expected          bool
	}{
		{"neither signal", false, 0, false},
		{"boolean flag only", true, 0, true},
		{"future cancel_at only", false, now.AddDate(0, 0, 10).Unix(), true},
		{"both signals", true, now.AddDate(0, 0, 10).Unix(), true},
		{"past cancel_at is not pending", false, now.AddDate(0, 0, -10).Unix(), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := &stripe.Subscription{
				ID:                "sub_123",
				Status:            stripe.SubscriptionStatusActive,
				CancelAtPeriodEnd: tc.cancelAtPeriodEnd,
				CancelAt:          tc.cancelAt,
			}
			snap := ResolveSnapshot(raw, now)
			assert.Equal(t, tc.expected, snap.CancelAtPeriodEnd)
		})
	}
}

func TestResolveSnapshotPeriodTimestamps(t *testing.T) {
	now := time.Now()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("present timestamps are converted", func(t *testing.T) {
		raw := &stripe.Subscription{
			ID:                 "sub_123",
			Status:             stripe.SubscriptionStatusActive,
			CurrentPeriodStart: start.Unix(),
			CurrentPeriodEnd:   end.Unix(),
		}
		snap := ResolveSnapshot(raw, now)
		if assert.NotNil(t, snap.CurrentPeriodStart) {
			assert.True(t, start.Equal(*snap.CurrentPeriodStart))
		}
		if assert.NotNil(t, snap.CurrentPeriodEnd) {
			assert.True(t, end.Equal(*snap.CurrentPeriodEnd))
		}
	})

	t.Run("absent timestamps resolve to nil", func(t *testing.T) {
		raw := &stripe.Subscription{
			ID:     "sub_123",
			Status: stripe.SubscriptionStatusActive,
		}
		snap := ResolveSnapshot(raw, now)
		assert.Nil(t, snap.CurrentPeriodStart)
		assert.Nil(t, snap.CurrentPeriodEnd)
	})
}

func TestResolveSnapshotPriceID(t *testing.T) {
	now := time.Now()

	raw := &stripe.Subscription{
		ID:     "sub_123",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_123"}},
			},
		},
	}

	snap := ResolveSnapshot(raw, now)
	assert.Equal(t, "price_123", snap.PriceID)
}
