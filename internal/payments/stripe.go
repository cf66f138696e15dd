// Package payments wraps stripe-go for the booking money flow: a manual
// capture hold when the seat is reserved, capture when the trip completes,
// cancel when either side backs out.
package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Processor is consumed by the booking handlers. NopProcessor stands in when
// no Stripe key is configured, which keeps local runs and tests cash-free.
type Processor interface {
	Hold(ctx context.Context, amountCents int64, currency string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

type StripeProcessor struct{}

func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{}
}

// Hold creates a PaymentIntent with capture_method=manual so the fare is
// reserved but not charged until the ride completes.
func (s *StripeProcessor) Hold(_ context.Context, amountCents int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeProcessor) Capture(_ context.Context, ref string) error {
	_, err := paymentintent.Capture(ref, nil)
	return err
}

func (s *StripeProcessor) Cancel(_ context.Context, ref string) error {
	_, err := paymentintent.Cancel(ref, nil)
	return err
}

type NopProcessor struct{}

func (NopProcessor) Hold(context.Context, int64, string) (string, error) { return "", nil }
func (NopProcessor) Capture(context.Context, string) error               { return nil }
func (NopProcessor) Cancel(context.Context, string) error                { return nil }
