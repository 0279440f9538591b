package payments

import (
	"context"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Charger reserves the recovery fee when a request is created and settles
// it when the request ends.
type Charger interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// NopCharger is used when no payment provider is configured.
type NopCharger struct{}

func (NopCharger) Hold(context.Context, int64, string, string) (string, error) { return "", nil }
func (NopCharger) Capture(context.Context, string) error                       { return nil }
func (NopCharger) Cancel(context.Context, string) error                        { return nil }

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// Amounts are in the currency's minor unit (fils for KWD).
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	if customerID != "" {
		params.AddMetadata("customer_id", customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(ref, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ref, params)
	return err
}
