package subscription

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/minifleet/minifleet/auth"
	"github.com/minifleet/minifleet/broker"
	"github.com/minifleet/minifleet/company"
	resp "github.com/minifleet/minifleet/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// providers cap webhook payloads well below this
const maxWebhookBody = 1 << 16

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth                *auth.Auth
	SubscriptionManager *Manager
	Producer            broker.Producer
	Logger              *zap.Logger

	WebhookSecret string
	SiteURL       string
}

// Service is the billing API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the billing API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	if len(option.SiteURL) == 0 {
		return nil, fmt.Errorf("empty SiteURL is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// handleWebhook verifies the provider signature, extracts just enough of the
// event to queue it, and replies 200 once the broker has it. Reconciliation is
// deferred to the worker; a 4xx is returned only on signature failure so the
// provider does not retry-storm us over downstream hiccups
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := ioutil.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to read request body"))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
	if err != nil {
		s.Logger.Warn("Webhook signature verification failed",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
		return
	}

	logger := s.Logger.With(zap.String("EventType", string(event.Type)))

	var billingEvent *broker.BillingEvent
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			logger.Error("Unable to decode checkout session from event",
				zap.Error(err),
			)
			break
		}
		if session.Subscription == nil {
			logger.Warn("Checkout session completed without a subscription")
			break
		}
		billingEvent = &broker.BillingEvent{
			Type:                 broker.EventCheckoutCompleted,
			CompanyID:            session.Metadata["companyId"],
			StripeSubscriptionID: session.Subscription.ID,
		}
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			logger.Error("Unable to decode subscription from event",
				zap.Error(err),
			)
			break
		}
		eventType := broker.EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			eventType = broker.EventSubscriptionDeleted
		}
		billingEvent = &broker.BillingEvent{
			Type:                 eventType,
			StripeSubscriptionID: sub.ID,
		}
	default:
		logger.Debug("Ignoring unhandled webhook event type")
	}

	if billingEvent != nil {
		if err := s.Producer.PublishBillingEvent(billingEvent); err != nil {
			logger.Error("Unable to queue billing event",
				zap.Error(err),
			)
			// not durably accepted: let the provider retry the delivery
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
	}

	resp.WriteResponse(w, r, struct {
		Received bool `json:"received"`
	}{
		Received: true,
	})
}

// CheckoutRequest is the model of user request for starting a checkout
type CheckoutRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

// hostedRedirect points the client at a provider-hosted page
type hostedRedirect struct {
	URL string `json:"url"`
}

func (s *Service) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("CompanyID", claims.CompanyID))

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	session, err := s.SubscriptionManager.CreateCheckoutSession(ctx, CheckoutOption{
		CompanyID:  claims.CompanyID,
		PriceID:    req.PriceID,
		SuccessURL: s.SiteURL + "/billing?success=true",
		CancelURL:  s.SiteURL + "/billing?canceled=true",
	})
	if err != nil {
		logger.Error("Unable to create checkout session",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, hostedRedirect{
		URL: session.URL,
	})
}

func (s *Service) startPortal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	session, err := s.SubscriptionManager.CreatePortalSession(ctx, claims.CompanyID, s.SiteURL+"/billing")
	if err != nil {
		s.Logger.Error("Unable to create portal session",
			zap.String("CompanyID", claims.CompanyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to open billing portal"))
		return
	}

	resp.WriteResponse(w, r, hostedRedirect{
		URL: session.URL,
	})
}

// syncSubscription pulls authoritative state from the provider on demand,
// e.g. right after the user returns from checkout
func (s *Service) syncSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	snap, err := s.SubscriptionManager.Sync(ctx, claims.CompanyID)
	if err != nil {
		s.Logger.Error("Unable to synchronize subscription",
			zap.String("CompanyID", claims.CompanyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to synchronize subscription"))
		return
	}
	if snap == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No subscription on record"))
		return
	}

	resp.WriteResponse(w, r, struct {
		Status            company.SubscriptionStatus `json:"status"`
		CancelAtPeriodEnd bool                       `json:"cancelAtPeriodEnd"`
	}{
		Status:            snap.Status,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
	})
}

func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.GetByCompanyID(ctx, claims.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if sub == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No subscription on record"))
		return
	}

	resp.WriteResponse(w, r, sub)
}

// Router will return the routes under billing API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	// signed payloads, not bearer tokens
	r.Post("/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/subscription", s.getSubscription)
		r.Post("/sync", s.syncSubscription)
		r.With(s.Auth.RequireRole(string(company.RoleOwner))).Post("/checkout", s.startCheckout)
		r.With(s.Auth.RequireRole(string(company.RoleOwner))).Post("/portal", s.startPortal)
	})

	return r
}
