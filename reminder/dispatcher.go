package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/maintenance"
	"github.com/minifleet/minifleet/vehicle"

	"go.uber.org/zap"
)

// Mailer delivers a reminder over email
type Mailer interface {
	SendMail(ctx context.Context, recipients []string, subject, body string) error
}

// Messenger delivers a reminder over SMS
type Messenger interface {
	SendSMS(ctx context.Context, phoneNumber, body string) error
}

// DispatcherOptions contains the configuration for Dispatcher
type DispatcherOptions struct {
	CompanyManager     CompanyDirectory
	VehicleManager     VehicleDirectory
	MaintenanceManager MaintenanceSource
	ReminderManager    Store
	Mailer             Mailer
	Messenger          Messenger
	Logger             *zap.Logger
}

// Dispatcher delivers pending reminders. Each reminder is claimed
// before its adapter is invoked, so overlapping passes in separate
// processes never double-send. Each reminder is handled in isolation:
// one failed delivery is recorded on its own row and never aborts the
// rest of the batch.
type Dispatcher struct {
	DispatcherOptions
}

// NewDispatcher returns a new Dispatcher
func NewDispatcher(option DispatcherOptions) (*Dispatcher, error) {
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.VehicleManager == nil {
		return nil, fmt.Errorf("nil VehicleManager is invalid")
	}
	if option.MaintenanceManager == nil {
		return nil, fmt.Errorf("nil MaintenanceManager is invalid")
	}
	if option.ReminderManager == nil {
		return nil, fmt.Errorf("nil ReminderManager is invalid")
	}
	if option.Mailer == nil {
		return nil, fmt.Errorf("nil Mailer is invalid")
	}
	if option.Messenger == nil {
		return nil, fmt.Errorf("nil Messenger is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Dispatcher{
		DispatcherOptions: option,
	}, nil
}

// Outcome records what happened to a single reminder during dispatch
type Outcome struct {
	ReminderID string  `json:"reminderId"`
	Channel    Channel `json:"channel"`
	Sent       bool    `json:"sent"`
	Error      string  `json:"error,omitempty"`
}

// DispatchSummary reports what a single dispatch pass did
type DispatchSummary struct {
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
}

// Dispatch sends every pending reminder of entitled companies and
// returns the per-reminder outcomes
func (d *Dispatcher) Dispatch(ctx context.Context) (*DispatchSummary, error) {
	pending, err := d.ReminderManager.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	summary := &DispatchSummary{
		Outcomes: make([]Outcome, 0, len(pending)),
	}
	for i := range pending {
		reminder := &pending[i]

		// only the pass that wins the claim may invoke the adapter
		claimed, err := d.ReminderManager.Claim(ctx, reminder.ID)
		if err != nil {
			d.Logger.Error("Unable to claim reminder",
				zap.String("ReminderID", reminder.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		sendErr := d.deliver(ctx, reminder)
		outcome := Outcome{
			ReminderID: reminder.ID,
			Channel:    reminder.Channel,
		}
		if sendErr != nil {
			d.Logger.Warn("Reminder delivery failed",
				zap.String("ReminderID", reminder.ID),
				zap.String("Channel", string(reminder.Channel)),
				zap.Error(sendErr),
			)
			if err := d.ReminderManager.MarkFailed(ctx, reminder.ID, sendErr); err != nil {
				d.Logger.Error("Unable to mark reminder as failed",
					zap.String("ReminderID", reminder.ID),
					zap.Error(err),
				)
			}
			outcome.Error = sendErr.Error()
			summary.Failed++
		} else {
			if err := d.ReminderManager.MarkSent(ctx, reminder.ID, time.Now()); err != nil {
				d.Logger.Error("Unable to mark reminder as sent",
					zap.String("ReminderID", reminder.ID),
					zap.Error(err),
				)
			}
			outcome.Sent = true
			summary.Sent++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	d.Logger.Info("Reminder dispatch completed",
		zap.Int("Sent", summary.Sent),
		zap.Int("Failed", summary.Failed),
	)
	return summary, nil
}

func (d *Dispatcher) deliver(ctx context.Context, reminder *Reminder) error {
	v, err := d.VehicleManager.GetByID(ctx, reminder.VehicleID)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("vehicle %s does not exist", reminder.VehicleID)
	}

	sched, err := d.MaintenanceManager.GetSchedule(ctx, reminder.ScheduleID)
	if err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("schedule %s does not exist", reminder.ScheduleID)
	}

	tmpl, err := d.MaintenanceManager.GetTemplate(ctx, sched.TemplateID)
	if err != nil {
		return err
	}
	if tmpl == nil {
		return fmt.Errorf("template %s does not exist", sched.TemplateID)
	}

	subject, body := composeMessage(v, tmpl, reminder.DueDate)

	switch reminder.Channel {
	case ChannelEmail:
		users, err := d.CompanyManager.ListUsersByRole(ctx, reminder.CompanyID, company.ReminderRecipientRoles...)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return fmt.Errorf("company %s has no reminder recipients", reminder.CompanyID)
		}
		recipients := make([]string, 0, len(users))
		for _, u := range users {
			recipients = append(recipients, u.Email)
		}
		return d.Mailer.SendMail(ctx, recipients, subject, body)
	case ChannelSMS:
		comp, err := d.CompanyManager.GetByID(ctx, reminder.CompanyID)
		if err != nil {
			return err
		}
		if comp == nil {
			return fmt.Errorf("company %s does not exist", reminder.CompanyID)
		}
		if len(comp.PhoneNumber) == 0 {
			return fmt.Errorf("company %s has no phone number on file", reminder.CompanyID)
		}
		return d.Messenger.SendSMS(ctx, comp.PhoneNumber, body)
	default:
		return fmt.Errorf("unknown reminder channel %s", reminder.Channel)
	}
}

func composeMessage(v *vehicle.Vehicle, tmpl *maintenance.Template, dueDate time.Time) (subject string, body string) {
	name := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if len(v.LicensePlate) > 0 {
		name = fmt.Sprintf("%s (%s)", name, v.LicensePlate)
	}
	subject = fmt.Sprintf("Maintenance due: %s for %s", tmpl.Name, name)
	body = fmt.Sprintf("%s is due for %s on %s.", name, tmpl.Name, dueDate.Format("January 2, 2006"))
	return subject, body
}
