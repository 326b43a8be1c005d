package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	"github.com/lumenfund/giving-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 100
	defaultReconcileLookback = 7 * 24 * time.Hour
)

// subscriptionFetcher is the one Stripe read the sweep needs.
type subscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// DonationReconcileJobParams configures the subscription drift sweep.
type DonationReconcileJobParams struct {
	Logger       *logger.Logger
	DonationRepo donations.Repository
	Payments     subscriptionFetcher
	Limit        int
	Lookback     time.Duration
	Now          func() time.Time
}

// NewDonationReconcileJob builds the job that re-syncs recurring donations
// against Stripe. Webhooks are the primary path; the sweep catches
// deliveries that were lost or arrived while the endpoint was down.
func NewDonationReconcileJob(params DonationReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DonationRepo == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment client required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &donationReconcileJob{
		logg:     params.Logger,
		repo:     params.DonationRepo,
		payments: params.Payments,
		limit:    limit,
		lookback: lookback,
		now:      now,
	}, nil
}

type donationReconcileJob struct {
	logg     *logger.Logger
	repo     donations.Repository
	payments subscriptionFetcher
	limit    int
	lookback time.Duration
	now      func() time.Time
}

var reconcileStatuses = []enums.DonationStatus{
	enums.DonationStatusActive,
	enums.DonationStatusOnHold,
	enums.DonationStatusFailed,
}

func (j *donationReconcileJob) Name() string { return "donation-reconcile" }

func (j *donationReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.repo.ListRecurringForReconcile(ctx, donations.ReconcileQuery{
		Statuses:     reconcileStatuses,
		UpdatedAfter: j.now().UTC().Add(-j.lookback),
		Limit:        j.limit,
	})
	if err != nil {
		return fmt.Errorf("list donations for reconciliation: %w", err)
	}

	var errs error
	synced := 0
	for i := range snapshot {
		if err := j.reconcileDonation(ctx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "donation reconcile loop complete")
	return errs
}

func (j *donationReconcileJob) reconcileDonation(ctx context.Context, donation *models.Donation) error {
	logCtx := j.logg.WithDonationID(ctx, donation.ID.String())
	if donation.StripeSubscriptionID == nil || *donation.StripeSubscriptionID == "" {
		j.logg.Info(logCtx, "donation missing subscription id; skipping")
		return nil
	}

	sub, err := j.payments.GetSubscription(logCtx, *donation.StripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch stripe subscription: %w", err)
	}
	if sub == nil {
		j.logg.Info(logCtx, "stripe subscription not found; skipping")
		return nil
	}

	status, ok := donationStatusFromStripe(sub)
	if !ok {
		j.logg.Info(j.logg.WithField(logCtx, "stripe_status", string(sub.Status)), "subscription still settling; skipping")
		return nil
	}

	donation.Status = status
	if end := subscriptionPeriodEnd(sub); end > 0 {
		next := time.Unix(end, 0).UTC()
		donation.NextPaymentDate = &next
	}
	if err := j.repo.Save(logCtx, donation); err != nil {
		return fmt.Errorf("persist reconciled donation: %w", err)
	}
	j.logg.Info(j.logg.WithField(logCtx, "status", string(status)), "donation reconciled")
	return nil
}

// donationStatusFromStripe maps the provider's view onto the donation
// lifecycle. A canceled subscription wins over a lingering pause marker;
// incomplete subscriptions are still settling their first invoice and are
// left untouched.
func donationStatusFromStripe(sub *stripe.Subscription) (enums.DonationStatus, bool) {
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.DonationStatusCancelled, true
	}
	if sub.PauseCollection != nil {
		return enums.DonationStatusOnHold, true
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.DonationStatusActive, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.DonationStatusFailed, true
	case stripe.SubscriptionStatusPaused:
		return enums.DonationStatusOnHold, true
	default:
		return "", false
	}
}

func subscriptionPeriodEnd(sub *stripe.Subscription) int64 {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return 0
	}
	return sub.Items.Data[0].CurrentPeriodEnd
}
