package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SMSGatewayOptions contains the configuration for SMSGateway
type SMSGatewayOptions struct {
	// Endpoint is the HTTP URL of the SMS provider. Leaving it empty
	// produces a gateway that fails every send with a descriptive
	// error instead of silently dropping messages.
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// SMSGateway delivers reminder texts through an HTTP SMS provider
type SMSGateway struct {
	SMSGatewayOptions
}

// NewSMSGateway returns a new SMSGateway
func NewSMSGateway(option SMSGatewayOptions) *SMSGateway {
	if option.Client == nil {
		option.Client = &http.Client{
			Timeout: time.Second * 10,
		}
	}
	return &SMSGateway{
		SMSGatewayOptions: option,
	}
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SendSMS posts a single text message to the provider
func (g *SMSGateway) SendSMS(ctx context.Context, phoneNumber, body string) error {
	if len(g.Endpoint) == 0 {
		return fmt.Errorf("sms gateway is not configured")
	}

	buf, err := json.Marshal(smsPayload{
		To:   phoneNumber,
		Body: body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(g.APIKey) > 0 {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	res, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned status %d", res.StatusCode)
	}
	return nil
}
