package subscription

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minifleet/minifleet/auth"
	"github.com/minifleet/minifleet/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

type fakeProducer struct {
	published []*broker.BillingEvent
	err       error
}

func (f *fakeProducer) Close() {
}

func (f *fakeProducer) PublishBillingEvent(ev *broker.BillingEvent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ev)
	return nil
}

func webhookService(t *testing.T, producer broker.Producer) *Service {
	t.Helper()

	svc, err := NewService(ServiceOptions{
		Auth:                &auth.Auth{},
		SubscriptionManager: &Manager{},
		Producer:            producer,
		Logger:              zap.NewNop(),

		WebhookSecret: testWebhookSecret,
		SiteURL:       "https://fleet.test",
	})
	require.NoError(t, err)
	return svc
}

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()

	now := time.Now()
	signature := webhook.ComputeSignature(now, []byte(payload), testWebhookSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature)))
	return req
}

func TestHostedRedirectCarriesCheckoutURL(t *testing.T) {
	// the hosted checkout URL comes straight off the provider session
	session := &stripe.CheckoutSession{
		ID:  "cs_123",
		URL: "https://checkout.stripe.test/c/pay/cs_123",
	}

	buf, err := json.Marshal(hostedRedirect{
		URL: session.URL,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://checkout.stripe.test/c/pay/cs_123"}`, string(buf))
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	producer := &fakeProducer{}
	svc := webhookService(t, producer)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=12345,v1=deadbeef")
	w := httptest.NewRecorder()

	svc.handleWebhook(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, producer.published)
}

func TestWebhookQueuesSubscriptionEvents(t *testing.T) {
	producer := &fakeProducer{}
	svc := webhookService(t, producer)

	payload := `{"type":"customer.subscription.updated","data":{"object":{"id":"sub_123","status":"active"}}}`
	w := httptest.NewRecorder()

	svc.handleWebhook(w, signedRequest(t, payload))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, producer.published, 1)
	assert.Equal(t, broker.EventSubscriptionUpdated, producer.published[0].Type)
	assert.Equal(t, "sub_123", producer.published[0].StripeSubscriptionID)
}

func TestWebhookQueuesCheckoutCompleted(t *testing.T) {
	producer := &fakeProducer{}
	svc := webhookService(t, producer)

	payload := `{"type":"checkout.session.completed","data":{"object":{"id":"cs_123","subscription":"sub_456","metadata":{"companyId":"comp_1"}}}}`
	w := httptest.NewRecorder()

	svc.handleWebhook(w, signedRequest(t, payload))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, producer.published, 1)
	assert.Equal(t, broker.EventCheckoutCompleted, producer.published[0].Type)
	assert.Equal(t, "comp_1", producer.published[0].CompanyID)
	assert.Equal(t, "sub_456", producer.published[0].StripeSubscriptionID)
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	producer := &fakeProducer{}
	svc := webhookService(t, producer)

	payload := `{"type":"invoice.finalized","data":{"object":{"id":"in_123"}}}`
	w := httptest.NewRecorder()

	svc.handleWebhook(w, signedRequest(t, payload))

	// acknowledged but nothing to queue
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, producer.published)
}

func TestWebhookRepliesErrorWhenQueueUnavailable(t *testing.T) {
	producer := &fakeProducer{
		err: fmt.Errorf("broker gone"),
	}
	svc := webhookService(t, producer)

	payload := `{"type":"customer.subscription.deleted","data":{"object":{"id":"sub_123","status":"canceled"}}}`
	w := httptest.NewRecorder()

	svc.handleWebhook(w, signedRequest(t, payload))

	// not durably accepted, the provider must retry
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
