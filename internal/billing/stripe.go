package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
)

// StripeProvider implements StatusProvider against the Stripe API. The
// customer record is provisioned on first lookup so later checkout flows
// always find one.
type StripeProvider struct{}

// InitStripe wires the Stripe API key. Call once at startup before any
// lookup.
func InitStripe(secretKey string) error {
	if secretKey == "" {
		return errors.New("billing: stripe secret key required")
	}
	stripe.Key = secretKey
	return nil
}

// NewStripeProvider returns a StripeProvider. InitStripe must have been
// called first.
func NewStripeProvider() (*StripeProvider, error) {
	if stripe.Key == "" {
		return nil, errors.New("billing: stripe not initialized")
	}
	return &StripeProvider{}, nil
}

// Status finds or creates the Stripe customer for the email and reports
// whether an active subscription exists.
func (p *StripeProvider) Status(ctx context.Context, email string) (Status, error) {
	if email == "" {
		return Status{}, errors.New("billing: email required")
	}

	customerID, err := p.ensureCustomer(ctx, email)
	if err != nil {
		return Status{}, err
	}

	subParams := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	subParams.Context = ctx
	subParams.Limit = stripe.Int64(1)

	it := subscription.List(subParams)
	for it.Next() {
		sub := it.Subscription()
		anchor := time.Unix(sub.BillingCycleAnchor, 0).UTC()
		expires := anchor.AddDate(0, 1, 0)
		st := Status{
			Active:     true,
			ExpiresAt:  &expires,
			CustomerID: customerID,
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			st.PlanID = sub.Items.Data[0].Price.ID
		}
		return st, nil
	}
	if err := it.Err(); err != nil {
		return Status{}, fmt.Errorf("billing: list subscriptions: %w", err)
	}

	return Status{Active: false, CustomerID: customerID}, nil
}

func (p *StripeProvider) ensureCustomer(ctx context.Context, email string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	it := customer.List(listParams)
	for it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("billing: list customers: %w", err)
	}

	createParams := &stripe.CustomerParams{Email: stripe.String(email)}
	createParams.Context = ctx
	c, err := customer.New(createParams)
	if err != nil {
		return "", fmt.Errorf("billing: create customer: %w", err)
	}
	return c.ID, nil
}
