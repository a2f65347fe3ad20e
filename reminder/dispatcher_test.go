package reminder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/maintenance"
	"github.com/minifleet/minifleet/vehicle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailer struct {
	failFor   map[string]error
	delivered []string
}

func (f *fakeMailer) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	for _, recipient := range recipients {
		if err, ok := f.failFor[recipient]; ok {
			return err
		}
	}
	f.delivered = append(f.delivered, subject)
	return nil
}

type fakeMessenger struct {
	failFor   map[string]error
	delivered []string
}

func (f *fakeMessenger) SendSMS(ctx context.Context, phoneNumber, body string) error {
	if err, ok := f.failFor[phoneNumber]; ok {
		return err
	}
	f.delivered = append(f.delivered, phoneNumber)
	return nil
}

func monthsPtr(m int) *int {
	return &m
}

func dispatchFixture(t *testing.T, pending []Reminder, mailer Mailer, messenger Messenger) (*Dispatcher, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	store.pending = pending

	companies := &fakeCompanies{
		companies: map[string]*company.Company{
			"comp_1":       {ID: "comp_1", SubscriptionStatus: company.StatusActive, PhoneNumber: "+15550001111"},
			"comp_nophone": {ID: "comp_nophone", SubscriptionStatus: company.StatusActive},
		},
		users: map[string][]company.User{
			"comp_1": {
				{ID: "user_owner", Email: "owner@fleet.test", CompanyID: "comp_1", Role: company.RoleOwner},
				{ID: "user_manager", Email: "manager@fleet.test", CompanyID: "comp_1", Role: company.RoleManager},
				{ID: "user_member", Email: "member@fleet.test", CompanyID: "comp_1", Role: company.RoleMember},
			},
		},
	}
	vehicles := &fakeVehicles{
		vehicles: map[string]*vehicle.Vehicle{
			"veh_1": {ID: "veh_1", CompanyID: "comp_1", Make: "Ford", Model: "Transit", Year: 2021},
			"veh_2": {ID: "veh_2", CompanyID: "comp_1", Make: "Ram", Model: "ProMaster", Year: 2022},
		},
	}
	mnt := &fakeMaintenance{
		schedules: map[string]*maintenance.Schedule{
			"sched_1": {ID: "sched_1", VehicleID: "veh_1", TemplateID: "tmpl_oil"},
			"sched_2": {ID: "sched_2", VehicleID: "veh_2", TemplateID: "tmpl_oil"},
		},
		templates: map[string]*maintenance.Template{
			"tmpl_oil": {ID: "tmpl_oil", Name: "Oil Change", IntervalMonths: monthsPtr(3)},
		},
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		CompanyManager:     companies,
		VehicleManager:     vehicles,
		MaintenanceManager: mnt,
		ReminderManager:    store,
		Mailer:             mailer,
		Messenger:          messenger,
		Logger:             zap.NewNop(),
	})
	require.NoError(t, err)
	return dispatcher, store
}

func pendingReminder(id, scheduleID, vehicleID, companyID string, channel Channel) Reminder {
	return Reminder{
		ID:         id,
		ScheduleID: scheduleID,
		VehicleID:  vehicleID,
		CompanyID:  companyID,
		DueDate:    time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
		Channel:    channel,
		Status:     StatusPending,
	}
}

func TestDispatchFailureDoesNotAbortBatch(t *testing.T) {
	pending := []Reminder{
		pendingReminder("rem_a", "sched_1", "veh_1", "comp_1", ChannelEmail),
		pendingReminder("rem_b", "sched_2", "veh_2", "comp_1", ChannelEmail),
	}

	mailer := &fakeMailer{
		failFor: map[string]error{},
	}
	// first reminder's delivery blows up, second must still go out
	callCount := 0
	failingMailer := mailerFunc(func(ctx context.Context, recipients []string, subject, body string) error {
		callCount++
		if callCount == 1 {
			return fmt.Errorf("smtp: connection refused")
		}
		return mailer.SendMail(ctx, recipients, subject, body)
	})

	dispatcher, store := dispatchFixture(t, pending, failingMailer, &fakeMessenger{})

	summary, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Outcomes, 2)

	assert.False(t, summary.Outcomes[0].Sent)
	assert.Contains(t, summary.Outcomes[0].Error, "connection refused")
	assert.True(t, summary.Outcomes[1].Sent)

	assert.Equal(t, []string{"rem_b"}, store.sent)
	assert.Contains(t, store.failed["rem_a"], "connection refused")
}

type mailerFunc func(ctx context.Context, recipients []string, subject, body string) error

func (f mailerFunc) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	return f(ctx, recipients, subject, body)
}

func TestDispatchConcurrentPassesSendExactlyOnce(t *testing.T) {
	pending := []Reminder{
		pendingReminder("rem_a", "sched_1", "veh_1", "comp_1", ChannelEmail),
	}

	// hold every delivery open until both passes are inside Dispatch, so
	// neither can finish (and mark) before the other has listed the same
	// pending reminder
	gate := make(chan struct{})
	var sends int32
	mailer := mailerFunc(func(ctx context.Context, recipients []string, subject, body string) error {
		<-gate
		atomic.AddInt32(&sends, 1)
		return nil
	})

	store := newFakeStore()
	store.pending = pending

	companies := &fakeCompanies{
		companies: map[string]*company.Company{
			"comp_1": {ID: "comp_1", SubscriptionStatus: company.StatusActive},
		},
		users: map[string][]company.User{
			"comp_1": {
				{ID: "user_owner", Email: "owner@fleet.test", CompanyID: "comp_1", Role: company.RoleOwner},
			},
		},
	}
	vehicles := &fakeVehicles{
		vehicles: map[string]*vehicle.Vehicle{
			"veh_1": {ID: "veh_1", CompanyID: "comp_1", Make: "Ford", Model: "Transit", Year: 2021},
		},
	}
	mnt := &fakeMaintenance{
		schedules: map[string]*maintenance.Schedule{
			"sched_1": {ID: "sched_1", VehicleID: "veh_1", TemplateID: "tmpl_oil"},
		},
		templates: map[string]*maintenance.Template{
			"tmpl_oil": {ID: "tmpl_oil", Name: "Oil Change", IntervalMonths: monthsPtr(3)},
		},
	}

	newDisp := func() *Dispatcher {
		d, err := NewDispatcher(DispatcherOptions{
			CompanyManager:     companies,
			VehicleManager:     vehicles,
			MaintenanceManager: mnt,
			ReminderManager:    store,
			Mailer:             mailer,
			Messenger:          &fakeMessenger{},
			Logger:             zap.NewNop(),
		})
		require.NoError(t, err)
		return d
	}

	var wg sync.WaitGroup
	summaries := make([]*DispatchSummary, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary, err := newDisp().Dispatch(context.Background())
			assert.NoError(t, err)
			summaries[i] = summary
		}(i)
	}
	// both passes are listing and claiming now; release the adapters
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&sends), "the email must go out exactly once")
	assert.Equal(t, []string{"rem_a"}, store.sent)
	assert.Equal(t, 1, summaries[0].Sent+summaries[1].Sent)
}

func TestDispatchEmailGoesToOwnersAndManagers(t *testing.T) {
	pending := []Reminder{
		pendingReminder("rem_a", "sched_1", "veh_1", "comp_1", ChannelEmail),
	}

	var captured []string
	mailer := mailerFunc(func(ctx context.Context, recipients []string, subject, body string) error {
		captured = recipients
		return nil
	})

	dispatcher, store := dispatchFixture(t, pending, mailer, &fakeMessenger{})

	summary, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.ElementsMatch(t, []string{"owner@fleet.test", "manager@fleet.test"}, captured)
	assert.Equal(t, []string{"rem_a"}, store.sent)
}

func TestDispatchSMSUsesCompanyPhoneNumber(t *testing.T) {
	pending := []Reminder{
		pendingReminder("rem_sms", "sched_1", "veh_1", "comp_1", ChannelSMS),
	}

	messenger := &fakeMessenger{}
	dispatcher, store := dispatchFixture(t, pending, &fakeMailer{}, messenger)

	summary, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, []string{"+15550001111"}, messenger.delivered)
	assert.Equal(t, []string{"rem_sms"}, store.sent)
}

func TestDispatchSMSWithoutPhoneNumberFails(t *testing.T) {
	pending := []Reminder{
		pendingReminder("rem_sms", "sched_1", "veh_1", "comp_nophone", ChannelSMS),
	}

	dispatcher, store := dispatchFixture(t, pending, &fakeMailer{}, &fakeMessenger{})

	summary, err := dispatcher.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, store.failed["rem_sms"], "no phone number")
}
