package external

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// upper bound on a single delivery when the caller's context has no deadline
const smtpTimeout = time.Second * 30

// SMTPMailerOptions contains the configuration for SMTPMailer
type SMTPMailerOptions struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers reminder emails over plain SMTP
type SMTPMailer struct {
	SMTPMailerOptions
}

// NewSMTPMailer returns a new SMTPMailer
func NewSMTPMailer(option SMTPMailerOptions) (*SMTPMailer, error) {
	if len(option.Host) == 0 {
		return nil, fmt.Errorf("empty Host is invalid")
	}
	if len(option.Port) == 0 {
		return nil, fmt.Errorf("empty Port is invalid")
	}
	if len(option.From) == 0 {
		return nil, fmt.Errorf("empty From is invalid")
	}
	return &SMTPMailer{
		SMTPMailerOptions: option,
	}, nil
}

// SendMail sends a single email to all recipients. The dial and every
// subsequent command are bounded by the context deadline so a hung
// server cannot stall a whole dispatch pass.
func (m *SMTPMailer) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpTimeout)
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", m.Host+":"+m.Port)
	if err != nil {
		return fmt.Errorf("cannot dial smtp server: %w", err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return err
		}
	}
	if len(m.Username) > 0 {
		auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(m.From); err != nil {
		return err
	}
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(m.composeMessage(recipients, subject, body))); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

func (m *SMTPMailer) composeMessage(recipients []string, subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return msg.String()
}
