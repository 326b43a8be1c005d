package donations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/lumenfund/giving-backend/pkg/enums"
	pkgstripe "github.com/lumenfund/giving-backend/pkg/stripe"
)

// CheckoutClient defines the subset of Stripe interactions the donation
// service relies on to open a hosted checkout.
type CheckoutClient interface {
	CreateSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}

// CheckoutParams carries the donation fields a hosted checkout needs.
type CheckoutParams struct {
	DonationID    uuid.UUID
	UserID        uuid.UUID
	AmountCents   int64
	Currency      string
	Kind          enums.DonationKind
	Frequency     *enums.DonationFrequency
	CustomerEmail string
}

// CheckoutSession is the subset of Stripe's session the service persists.
type CheckoutSession struct {
	ID  string
	URL string
}

// NewCheckoutClient wraps the shared pkg/stripe client with the configured
// redirect URLs.
func NewCheckoutClient(client *pkgstripe.Client, successURL, cancelURL string) CheckoutClient {
	return &checkoutClient{
		client:     client,
		successURL: strings.TrimSpace(successURL),
		cancelURL:  strings.TrimSpace(cancelURL),
	}
}

type checkoutClient struct {
	client     *pkgstripe.Client
	successURL string
	cancelURL  string
}

func (c *checkoutClient) CreateSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if c.client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if c.successURL == "" || c.cancelURL == "" {
		return nil, fmt.Errorf("checkout redirect urls required")
	}

	lineItem := &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(params.Currency),
			UnitAmount: stripe.Int64(params.AmountCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(giftName(params.Kind, params.Frequency)),
			},
		},
	}

	mode := stripe.CheckoutSessionModePayment
	sessionParams := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(params.DonationID.String()),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{lineItem},
	}

	if params.Kind == enums.DonationKindRecurring {
		mode = stripe.CheckoutSessionModeSubscription
		interval, count := billingInterval(params.Frequency)
		lineItem.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(count),
		}
		sessionParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"donationId": params.DonationID.String(),
				"userId":     params.UserID.String(),
			},
		}
	}
	sessionParams.Mode = stripe.String(string(mode))
	sessionParams.Context = ctx
	sessionParams.AddMetadata("donationId", params.DonationID.String())
	sessionParams.AddMetadata("userId", params.UserID.String())
	if email := strings.TrimSpace(params.CustomerEmail); email != "" {
		sessionParams.CustomerEmail = stripe.String(email)
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func billingInterval(frequency *enums.DonationFrequency) (string, int64) {
	if frequency == nil {
		return "month", 1
	}
	switch *frequency {
	case enums.DonationFrequencyQuarterly:
		return "month", 3
	case enums.DonationFrequencyYearly:
		return "year", 1
	default:
		return "month", 1
	}
}

func giftName(kind enums.DonationKind, frequency *enums.DonationFrequency) string {
	if kind != enums.DonationKindRecurring {
		return "One-time donation"
	}
	if frequency == nil {
		return "Recurring donation"
	}
	switch *frequency {
	case enums.DonationFrequencyQuarterly:
		return "Quarterly donation"
	case enums.DonationFrequencyYearly:
		return "Yearly donation"
	default:
		return "Monthly donation"
	}
}
