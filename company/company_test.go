package company

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionStatusEntitled(t *testing.T) {
	tests := []struct {
		status   SubscriptionStatus
		entitled bool
	}{
		{StatusTrial, true},
		{StatusActive, true},
		{StatusPastDue, false},
		{StatusUnpaid, false},
		{StatusCanceled, false},
		{SubscriptionStatus("bogus"), false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.entitled, tc.status.Entitled())
		})
	}
}

func TestReminderRecipientRoles(t *testing.T) {
	assert.Contains(t, ReminderRecipientRoles, RoleOwner)
	assert.Contains(t, ReminderRecipientRoles, RoleManager)
	assert.NotContains(t, ReminderRecipientRoles, RoleMember)
}
