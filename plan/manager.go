package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the configuration for the plan Manager
type ManagerOptions struct {
	StripeClient *client.API
	DB           *gorm.DB
	Logger       *zap.Logger
}

// Manager handles the plan catalog and its mirror on Stripe
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for plans
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Plan{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize plan.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// definedPlan mirrors one entry of the plans JSON file
type definedPlan struct {
	Name          string `json:"name"`
	PriceCents    int64  `json:"priceCents"`
	Interval      string `json:"interval"`
	StripePriceID string `json:"stripePriceId"`
}

// EnsureDefined will read the plans JSON file, create any missing Product/Price
// on Stripe, and upsert the catalog in the database. Changing the price of an
// existing plan requires a new plan; retire the old one instead
func (m *Manager) EnsureDefined(ctx context.Context, pathToPlanJSON string) error {
	jsonBytes, err := ioutil.ReadFile(pathToPlanJSON)
	if err != nil {
		return extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	defined := make([]definedPlan, 0, 2)
	if err := json.Unmarshal(jsonBytes, &defined); err != nil {
		return extErrors.Wrap(err, "Invalid plans JSON file")
	}

	for _, d := range defined {
		priceID := d.StripePriceID
		if len(priceID) == 0 {
			priceID, err = m.createOnStripe(ctx, d)
			if err != nil {
				return extErrors.Wrap(err, "Cannot ensure plan existence on Stripe")
			}
		}
		p := Plan{
			ID:            shortuuid.New(),
			Name:          d.Name,
			StripePriceID: priceID,
			PriceCents:    d.PriceCents,
			Interval:      d.Interval,
			Active:        true,
		}
		result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_price_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active"}),
		}).Create(&p)
		if result.Error != nil {
			return extErrors.Wrap(result.Error, "Cannot upsert defined plan")
		}
	}
	return nil
}

// createOnStripe creates the Product and its recurring Price for a defined plan
func (m *Manager) createOnStripe(ctx context.Context, d definedPlan) (string, error) {
	prodParams := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active: stripe.Bool(true),
		Name:   stripe.String(d.Name),
	}
	product, err := m.StripeClient.Products.New(prodParams)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create plan as Product on Stripe")
	}

	priceParams := &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:     stripe.Bool(true),
		Nickname:   stripe.String(d.Name),
		Currency:   stripe.String("usd"),
		UnitAmount: stripe.Int64(d.PriceCents),
		Product:    stripe.String(product.ID),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(d.Interval),
			IntervalCount: stripe.Int64(1),
			UsageType:     stripe.String("licensed"),
		},
	}
	price, err := m.StripeClient.Prices.New(priceParams)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create plan as Price on Stripe")
	}
	return price.ID, nil
}

// GetByStripePriceID will try to return the plan for an external price id
func (m *Manager) GetByStripePriceID(ctx context.Context, priceID string) (*Plan, error) {
	var p Plan

	result := m.DB.WithContext(ctx).First(&p, "stripe_price_id = ?", priceID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get plan by price id")
	}

	return &p, nil
}

// Provision creates a minimal local Plan from the external price. Used when a
// subscription references a price id the catalog has never seen; the
// subscription update must never be dropped because of a missing plan
func (m *Manager) Provision(ctx context.Context, priceID string) (*Plan, error) {
	price, err := m.StripeClient.Prices.Get(priceID, &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot retrieve price from Stripe")
	}

	name := price.Nickname
	if len(name) == 0 {
		name = "Plan"
	}
	interval := "month"
	if price.Recurring != nil {
		interval = string(price.Recurring.Interval)
	}
	p := &Plan{
		ID:            shortuuid.New(),
		Name:          name,
		StripePriceID: price.ID,
		PriceCents:    price.UnitAmount,
		Interval:      interval,
		Active:        true,
	}

	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_price_id"}},
		DoNothing: true,
	}).Create(p)
	if result.Error != nil {
		m.Logger.Error("Unable to provision plan in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot provision plan")
	}
	if result.RowsAffected == 0 {
		// lost the race against a concurrent provision, read theirs back
		return m.GetByStripePriceID(ctx, priceID)
	}
	return p, nil
}

// List returns the active plans available for purchase
func (m *Manager) List(ctx context.Context) ([]Plan, error) {
	plans := make([]Plan, 0, 2)

	result := m.DB.WithContext(ctx).
		Where("active = ?", true).
		Order("price_cents asc").
		Find(&plans)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list plans")
	}
	return plans, nil
}
