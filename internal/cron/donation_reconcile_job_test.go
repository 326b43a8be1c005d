package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	"github.com/lumenfund/giving-backend/pkg/logger"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

func TestDonationReconcileJobSyncsStatuses(t *testing.T) {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	periodEnd := int64(1767225600)
	pausedSub := "sub_paused"
	revivedSub := "sub_revived"
	closedSub := "sub_closed"
	repo := &fakeDonationReconcileRepo{
		donations: []models.Donation{
			{ID: uuid.New(), Status: enums.DonationStatusActive, StripeSubscriptionID: &pausedSub},
			{ID: uuid.New(), Status: enums.DonationStatusFailed, StripeSubscriptionID: &revivedSub},
			{ID: uuid.New(), Status: enums.DonationStatusActive, StripeSubscriptionID: &closedSub},
		},
	}
	fetcher := &fakeSubscriptionFetcher{subs: map[string]*stripe.Subscription{
		pausedSub: {
			Status:          stripe.SubscriptionStatusActive,
			PauseCollection: &stripe.SubscriptionPauseCollection{Behavior: "void"},
		},
		revivedSub: {
			Status: stripe.SubscriptionStatusActive,
			Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
				{CurrentPeriodEnd: periodEnd},
			}},
		},
		closedSub: {Status: stripe.SubscriptionStatusCanceled},
	}}
	job := newDonationReconcileJob(t, repo, fetcher)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := repo.lastQuery.Limit; got != defaultReconcileLimit {
		t.Fatalf("expected limit %d, got %d", defaultReconcileLimit, got)
	}
	expectedAfter := now.Add(-defaultReconcileLookback)
	if !repo.lastQuery.UpdatedAfter.Equal(expectedAfter) {
		t.Fatalf("expected updated-after %s, got %s", expectedAfter, repo.lastQuery.UpdatedAfter)
	}
	if len(repo.lastQuery.Statuses) != 3 {
		t.Fatalf("expected 3 candidate statuses, got %d", len(repo.lastQuery.Statuses))
	}
	if len(repo.saved) != 3 {
		t.Fatalf("expected 3 saves, got %d", len(repo.saved))
	}
	byID := map[uuid.UUID]models.Donation{}
	for _, d := range repo.saved {
		byID[d.ID] = d
	}
	if got := byID[repo.donations[0].ID].Status; got != enums.DonationStatusOnHold {
		t.Fatalf("expected paused subscription to hold donation, got %s", got)
	}
	revived := byID[repo.donations[1].ID]
	if revived.Status != enums.DonationStatusActive {
		t.Fatalf("expected healthy subscription to revive donation, got %s", revived.Status)
	}
	if revived.NextPaymentDate == nil || revived.NextPaymentDate.Unix() != periodEnd {
		t.Fatalf("expected next payment date %d, got %v", periodEnd, revived.NextPaymentDate)
	}
	if got := byID[repo.donations[2].ID].Status; got != enums.DonationStatusCancelled {
		t.Fatalf("expected canceled subscription to cancel donation, got %s", got)
	}
}

func TestDonationReconcileJobAggregatesErrors(t *testing.T) {
	brokenSub := "sub_broken"
	healthySub := "sub_healthy"
	repo := &fakeDonationReconcileRepo{
		donations: []models.Donation{
			{ID: uuid.New(), Status: enums.DonationStatusActive, StripeSubscriptionID: &brokenSub},
			{ID: uuid.New(), Status: enums.DonationStatusOnHold, StripeSubscriptionID: &healthySub},
		},
	}
	fetcher := &fakeSubscriptionFetcher{
		subs: map[string]*stripe.Subscription{
			healthySub: {Status: stripe.SubscriptionStatusActive},
		},
		errs: map[string]error{brokenSub: errors.New("stripe down")},
	}
	job := newDonationReconcileJob(t, repo, fetcher)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected sweep to continue past the failure, got %d saves", len(repo.saved))
	}
	if repo.saved[0].Status != enums.DonationStatusActive {
		t.Fatalf("expected surviving donation active, got %s", repo.saved[0].Status)
	}
}

func TestDonationReconcileJobSkipsSettlingSubscription(t *testing.T) {
	subID := "sub_new"
	repo := &fakeDonationReconcileRepo{
		donations: []models.Donation{
			{ID: uuid.New(), Status: enums.DonationStatusActive, StripeSubscriptionID: &subID},
		},
	}
	fetcher := &fakeSubscriptionFetcher{subs: map[string]*stripe.Subscription{
		subID: {Status: stripe.SubscriptionStatusIncomplete},
	}}
	job := newDonationReconcileJob(t, repo, fetcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no saves for settling subscription, got %d", len(repo.saved))
	}
}

func TestDonationReconcileJobSkipsMissingSubscriptionID(t *testing.T) {
	repo := &fakeDonationReconcileRepo{
		donations: []models.Donation{
			{ID: uuid.New(), Status: enums.DonationStatusActive},
		},
	}
	fetcher := &fakeSubscriptionFetcher{}
	job := newDonationReconcileJob(t, repo, fetcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no stripe lookups, got %d", fetcher.calls)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no saves, got %d", len(repo.saved))
	}
}

func TestDonationReconcileJobListErrorPropagates(t *testing.T) {
	repo := &fakeDonationReconcileRepo{listErr: errors.New("db offline")}
	job := newDonationReconcileJob(t, repo, &fakeSubscriptionFetcher{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newDonationReconcileJob(t *testing.T, repo *fakeDonationReconcileRepo, fetcher *fakeSubscriptionFetcher) *donationReconcileJob {
	t.Helper()
	jobIface, err := NewDonationReconcileJob(DonationReconcileJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
		DonationRepo: repo,
		Payments:     fetcher,
	})
	if err != nil {
		t.Fatalf("NewDonationReconcileJob: %v", err)
	}
	job, ok := jobIface.(*donationReconcileJob)
	if !ok {
		t.Fatalf("expected donationReconcileJob, got %T", jobIface)
	}
	return job
}

type fakeDonationReconcileRepo struct {
	donations []models.Donation
	listErr   error
	saveErr   error
	lastQuery donations.ReconcileQuery
	saved     []models.Donation
}

func (f *fakeDonationReconcileRepo) WithTx(tx *gorm.DB) donations.Repository { return f }

func (f *fakeDonationReconcileRepo) Create(ctx context.Context, donation *models.Donation) error {
	return nil
}

func (f *fakeDonationReconcileRepo) Save(ctx context.Context, donation *models.Donation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *donation)
	return nil
}

func (f *fakeDonationReconcileRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	return nil, nil
}

func (f *fakeDonationReconcileRepo) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Donation, error) {
	return nil, nil
}

func (f *fakeDonationReconcileRepo) List(ctx context.Context, params donations.ListDonationsQuery) ([]models.Donation, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (f *fakeDonationReconcileRepo) ListRecurringForReconcile(ctx context.Context, params donations.ReconcileQuery) ([]models.Donation, error) {
	f.lastQuery = params
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.donations, nil
}

type fakeSubscriptionFetcher struct {
	subs  map[string]*stripe.Subscription
	errs  map[string]error
	calls int
}

func (f *fakeSubscriptionFetcher) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	f.calls++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	return f.subs[id], nil
}
