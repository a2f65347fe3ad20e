package external

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMailHonorsContext(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPMailerOptions{
		// TEST-NET-1, guaranteed unroutable
		Host: "192.0.2.1",
		Port: "25",
		From: "reminders@fleet.test",
	})
	require.NoError(t, err)

	t.Run("canceled context fails immediately", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := mailer.SendMail(ctx, []string{"owner@fleet.test"}, "subject", "body")
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("expired deadline fails fast", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()

		start := time.Now()
		err := mailer.SendMail(ctx, []string{"owner@fleet.test"}, "subject", "body")
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second*5)
	})
}

func TestComposeMessageHeaders(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPMailerOptions{
		Host: "smtp.fleet.test",
		Port: "587",
		From: "reminders@fleet.test",
	})
	require.NoError(t, err)

	msg := mailer.composeMessage([]string{"owner@fleet.test", "manager@fleet.test"}, "Maintenance due", "Oil change is due.")

	assert.True(t, strings.HasPrefix(msg, "From: reminders@fleet.test\r\n"))
	assert.Contains(t, msg, "To: owner@fleet.test, manager@fleet.test\r\n")
	assert.Contains(t, msg, "Subject: Maintenance due\r\n")
	assert.Contains(t, msg, "\r\n\r\nOil change is due.\r\n")
}
