// Package payments places card holds for rides paid by card.
package payments

import (
	"context"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

var ErrNotConfigured = errors.New("stripe key not configured")

// StripeAuthorizer holds card funds with manual-capture PaymentIntents. The
// hold is captured once the ride completes or released when it is cancelled.
type StripeAuthorizer struct {
	currency   string
	customerID string
}

// NewStripeAuthorizer sets the stripe-go API key. An empty key yields an
// authorizer whose calls fail with ErrNotConfigured.
func NewStripeAuthorizer(apiKey, currency string) *StripeAuthorizer {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	if currency == "" {
		currency = "xof"
	}
	return &StripeAuthorizer{currency: strings.ToLower(currency)}
}

// WithCustomer attaches holds to a Stripe customer.
func (s *StripeAuthorizer) WithCustomer(id string) *StripeAuthorizer {
	s.customerID = id
	return s
}

// Hold creates a PaymentIntent with capture_method=manual and returns its ID.
func (s *StripeAuthorizer) Hold(ctx context.Context, amount int64) (string, error) {
	if stripe.Key == "" {
		return "", ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
	}
	params.Context = ctx
	if s.customerID != "" {
		params.Customer = stripe.String(s.customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeAuthorizer) Capture(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeAuthorizer) Cancel(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
