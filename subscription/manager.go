package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minifleet/minifleet/broker"
	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/plan"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions contains the configuration for the subscription Manager
type ManagerOptions struct {
	StripeClient *client.API
	DB           *gorm.DB
	PlanManager  *plan.Manager
	Logger       *zap.Logger
}

// Manager reconciles external subscription state into the local record
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Reconcile merges a resolved Snapshot into the Company and Subscription rows
// as a single transaction. Reconciling the same snapshot twice leaves the
// persisted state identical (upsert semantics, no accumulating side effects).
// An unknown company is logged and skipped so webhook deliveries are not
// retried forever for tenants we never knew about
func (m *Manager) Reconcile(ctx context.Context, companyID string, snap Snapshot) error {
	logger := m.Logger.With(zap.String("CompanyID", companyID))

	var comp company.Company
	result := m.DB.WithContext(ctx).First(&comp, "id = ?", companyID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		logger.Warn("Reconciliation requested for unknown company, skipping")
		return nil
	}
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot load company for reconciliation")
	}

	if len(snap.RawStatus) > 0 {
		logger.Warn("Provider status not recognized, defaulting to CANCELED",
			zap.String("RawStatus", snap.RawStatus),
		)
	}

	// a snapshot without a resolvable price id must retain the previously
	// known plan, never null it out on a partial payload
	planID := comp.SubscriptionPlanID
	if len(snap.PriceID) > 0 {
		p, err := m.PlanManager.GetByStripePriceID(ctx, snap.PriceID)
		if err != nil {
			return err
		}
		if p == nil {
			p, err = m.PlanManager.Provision(ctx, snap.PriceID)
			if err != nil {
				return err
			}
		}
		planID = p.ID
	}

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyUpdates := map[string]interface{}{
			"subscription_status":    snap.Status,
			"stripe_subscription_id": snap.StripeSubscriptionID,
		}
		if len(planID) > 0 {
			companyUpdates["subscription_plan_id"] = planID
		}
		if res := tx.Model(&company.Company{}).Where("id = ?", companyID).Updates(companyUpdates); res.Error != nil {
			return res.Error
		}

		var sub Subscription
		res := tx.First(&sub, "company_id = ?", companyID)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			sub = Subscription{
				ID:                   shortuuid.New(),
				CompanyID:            companyID,
				PlanID:               planID,
				StripeSubscriptionID: snap.StripeSubscriptionID,
				Status:               snap.Status,
				CurrentPeriodStart:   snap.CurrentPeriodStart,
				CurrentPeriodEnd:     snap.CurrentPeriodEnd,
				CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
			}
			return tx.Create(&sub).Error
		}
		if res.Error != nil {
			return res.Error
		}

		subUpdates := map[string]interface{}{
			"status":               snap.Status,
			"current_period_start": snap.CurrentPeriodStart,
			"current_period_end":   snap.CurrentPeriodEnd,
			"cancel_at_period_end": snap.CancelAtPeriodEnd,
			// unconditionally rewritten, an older row may miss it after the
			// provider recreated the subscription
			"stripe_subscription_id": snap.StripeSubscriptionID,
		}
		if len(planID) > 0 {
			subUpdates["plan_id"] = planID
		}
		return tx.Model(&Subscription{}).Where("id = ?", sub.ID).Updates(subUpdates).Error
	})
	if err != nil {
		logger.Error("Unable to reconcile subscription in database",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot reconcile subscription")
	}
	return nil
}

// Sync pulls the authoritative subscription state from Stripe and reconciles
// it. A subscription the provider no longer knows about resolves to CANCELED
func (m *Manager) Sync(ctx context.Context, companyID string) (*Snapshot, error) {
	logger := m.Logger.With(zap.String("CompanyID", companyID))

	var comp company.Company
	result := m.DB.WithContext(ctx).First(&comp, "id = ?", companyID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot load company for sync")
	}
	if len(comp.StripeSubscriptionID) == 0 {
		return nil, nil
	}

	raw, err := m.StripeClient.Subscriptions.Get(comp.StripeSubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			logger.Warn("Subscription missing on provider, marking as CANCELED",
				zap.String("StripeSubscriptionID", comp.StripeSubscriptionID),
			)
			snap := Snapshot{
				Status:               company.StatusCanceled,
				StripeSubscriptionID: comp.StripeSubscriptionID,
			}
			if err := m.Reconcile(ctx, companyID, snap); err != nil {
				return nil, err
			}
			return &snap, nil
		}
		return nil, extErrors.Wrap(err, "Unable to fetch from Stripe to synchronize status")
	}

	snap := ResolveSnapshot(raw, time.Now())
	if err := m.Reconcile(ctx, companyID, snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// HandleBillingEvent processes one queued webhook event: retrieve the full
// subscription from Stripe (webhook payloads can omit fields), resolve it,
// and reconcile against the owning company
func (m *Manager) HandleBillingEvent(ctx context.Context, ev *broker.BillingEvent) error {
	logger := m.Logger.With(
		zap.String("EventType", string(ev.Type)),
		zap.String("StripeSubscriptionID", ev.StripeSubscriptionID),
	)

	if len(ev.StripeSubscriptionID) == 0 {
		logger.Warn("Billing event without subscription id, skipping")
		return nil
	}

	raw, err := m.StripeClient.Subscriptions.Get(ev.StripeSubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return extErrors.Wrap(err, "Unable to fetch subscription for billing event")
	}

	companyID := ev.CompanyID
	if len(companyID) == 0 {
		var comp company.Company
		result := m.DB.WithContext(ctx).First(&comp, "stripe_subscription_id = ?", ev.StripeSubscriptionID)
		if result.Error == nil {
			companyID = comp.ID
		} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return extErrors.Wrap(result.Error, "Cannot look up company for billing event")
		}
	}
	if len(companyID) == 0 {
		companyID = raw.Metadata["companyId"]
	}
	if len(companyID) == 0 {
		logger.Warn("No company found for billing event, skipping")
		return nil
	}

	return m.Reconcile(ctx, companyID, ResolveSnapshot(raw, time.Now()))
}

// GetByCompanyID will try to return the local subscription record of a company
func (m *Manager) GetByCompanyID(ctx context.Context, companyID string) (*Subscription, error) {
	var sub Subscription

	result := m.DB.WithContext(ctx).First(&sub, "company_id = ?", companyID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by company id")
	}

	return &sub, nil
}

// CheckoutOption contains the parameters to start a subscription checkout
type CheckoutOption struct {
	CompanyID  string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CreateCheckoutSession ensures the company has a Stripe customer and starts
// a subscription-mode checkout session for the given price
func (m *Manager) CreateCheckoutSession(ctx context.Context, opt CheckoutOption) (*stripe.CheckoutSession, error) {
	var comp company.Company
	result := m.DB.WithContext(ctx).First(&comp, "id = ?", opt.CompanyID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("company %s not found", opt.CompanyID)
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot load company for checkout")
	}

	customerID := comp.StripeCustomerID
	if len(customerID) == 0 {
		var owner company.User
		result := m.DB.WithContext(ctx).
			Where("company_id = ?", opt.CompanyID).
			Where("role = ?", company.RoleOwner).
			First(&owner)
		if result.Error != nil {
			return nil, extErrors.Wrap(result.Error, "Cannot find company owner for checkout")
		}

		cust, err := m.StripeClient.Customers.New(&stripe.CustomerParams{
			Params: stripe.Params{
				Context: ctx,
				Metadata: map[string]string{
					"companyId": opt.CompanyID,
				},
			},
			Email: stripe.String(owner.Email),
			Name:  stripe.String(comp.Name),
		})
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot create customer on Stripe")
		}
		customerID = cust.ID

		if res := m.DB.WithContext(ctx).Model(&company.Company{}).
			Where("id = ?", opt.CompanyID).
			Update("stripe_customer_id", customerID); res.Error != nil {
			return nil, extErrors.Wrap(res.Error, "Cannot persist customer id")
		}
	}

	session, err := m.StripeClient.CheckoutSessions.New(checkoutSessionParams(ctx, customerID, opt))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create checkout session on Stripe")
	}
	return session, nil
}

// checkoutSessionParams stamps the company id on the session and on the
// subscription it creates, so webhook handling can recover the company
// even when the local customer mapping is missing
func checkoutSessionParams(ctx context.Context, customerID string, opt CheckoutOption) *stripe.CheckoutSessionParams {
	return &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"companyId": opt.CompanyID,
			},
		},
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(opt.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"companyId": opt.CompanyID,
			},
		},
		SuccessURL: stripe.String(opt.SuccessURL),
		CancelURL:  stripe.String(opt.CancelURL),
	}
}

// CreatePortalSession starts a billing portal session for the company
func (m *Manager) CreatePortalSession(ctx context.Context, companyID, returnURL string) (*stripe.BillingPortalSession, error) {
	var comp company.Company
	result := m.DB.WithContext(ctx).First(&comp, "id = ?", companyID)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot load company for portal session")
	}
	if len(comp.StripeCustomerID) == 0 {
		return nil, fmt.Errorf("company %s has no billing customer", companyID)
	}

	session, err := m.StripeClient.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer:  stripe.String(comp.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create portal session on Stripe")
	}
	return session, nil
}
