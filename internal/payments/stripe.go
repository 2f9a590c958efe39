package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// ErrInvalidAmount is returned for holds of zero or less in minor units.
var ErrInvalidAmount = errors.New("payments: hold amount must be positive")

const defaultCurrency = "inr"

// StripeClient reserves the visiting charge on a manual-capture PaymentIntent
// while a job is created, then captures it on completion or releases it when
// the job is rejected or abandoned.
type StripeClient struct {
	pi *paymentintent.Client
}

func NewStripeClient(apiKey string) *StripeClient {
	return NewStripeClientWithBackend(apiKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeClientWithBackend points the client at a custom backend.
func NewStripeClientWithBackend(apiKey string, b stripe.Backend) *StripeClient {
	return &StripeClient{pi: &paymentintent.Client{B: b, Key: apiKey}}
}

// Hold returns the PaymentIntent ID holding amount (minor units). Each call
// carries a fresh idempotency key so network retries inside stripe-go never
// produce a second hold.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = defaultCurrency
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String("Visiting charge"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	params.AddMetadata("purpose", "visiting_charge")
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	intent, err := s.pi.New(params)
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

// Capture collects a held charge once the job completes.
func (s *StripeClient) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.pi.Capture(intentID, params)
	return err
}

// Cancel releases a hold. The job was never created or was abandoned.
func (s *StripeClient) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx
	_, err := s.pi.Cancel(intentID, params)
	return err
}
