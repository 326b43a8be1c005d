package donations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
)

func setupDonationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	donations := `
CREATE TABLE IF NOT EXISTS donations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  kind TEXT NOT NULL,
  frequency TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  stripe_customer_id TEXT,
  stripe_subscription_id TEXT,
  stripe_checkout_session_id TEXT,
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  next_payment_date DATETIME,
  last_gift_date DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(donations).Error)
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS donations").Error
	})
	return db
}

type seedDonation struct {
	userID         uuid.UUID
	kind           enums.DonationKind
	status         enums.DonationStatus
	subscriptionID *string
	createdAt      time.Time
}

func createDonation(t *testing.T, db *gorm.DB, seed seedDonation) *models.Donation {
	t.Helper()

	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               seed.userID,
		AmountCents:          2500,
		Currency:             "usd",
		Kind:                 seed.kind,
		Status:               seed.status,
		StripeSubscriptionID: seed.subscriptionID,
		StartDate:            seed.createdAt,
		CreatedAt:            seed.createdAt,
		UpdatedAt:            seed.createdAt,
	}
	if seed.kind == enums.DonationKindRecurring {
		frequency := enums.DonationFrequencyMonthly
		donation.Frequency = &frequency
	}
	require.NoError(t, db.Create(donation).Error)
	return donation
}

func TestRepositoryFindByID(t *testing.T) {
	db := setupDonationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	donation := createDonation(t, db, seedDonation{
		userID:    uuid.New(),
		kind:      enums.DonationKindOneTime,
		status:    enums.DonationStatusPending,
		createdAt: time.Now().UTC(),
	})

	found, err := repo.FindByID(ctx, donation.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, donation.UserID, found.UserID)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryFindByStripeSubscriptionID(t *testing.T) {
	db := setupDonationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	subID := "sub_123"
	donation := createDonation(t, db, seedDonation{
		userID:         uuid.New(),
		kind:           enums.DonationKindRecurring,
		status:         enums.DonationStatusActive,
		subscriptionID: &subID,
		createdAt:      time.Now().UTC(),
	})

	found, err := repo.FindByStripeSubscriptionID(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, donation.ID, found.ID)

	missing, err := repo.FindByStripeSubscriptionID(ctx, "sub_unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryList(t *testing.T) {
	db := setupDonationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	donor := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	first := createDonation(t, db, seedDonation{userID: donor, kind: enums.DonationKindOneTime, status: enums.DonationStatusCompleted, createdAt: now.Add(-2 * time.Hour)})
	second := createDonation(t, db, seedDonation{userID: donor, kind: enums.DonationKindRecurring, status: enums.DonationStatusActive, createdAt: now.Add(-time.Hour)})
	createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindOneTime, status: enums.DonationStatusPending, createdAt: now})

	page, next, err := repo.List(ctx, ListDonationsQuery{UserID: &donor, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.NotNil(t, next)
	require.Equal(t, second.ID, page[0].ID)

	rest, final, err := repo.List(ctx, ListDonationsQuery{UserID: &donor, Limit: 1, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Nil(t, final)
	require.Equal(t, first.ID, rest[0].ID)

	active := enums.DonationStatusActive
	filtered, _, err := repo.List(ctx, ListDonationsQuery{UserID: &donor, Status: &active, Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, second.ID, filtered[0].ID)
}

func TestRepositoryListRecurringForReconcile(t *testing.T) {
	db := setupDonationsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	subActive := "sub_active"
	subHold := "sub_hold"
	subStale := "sub_stale"
	subCancelled := "sub_cancelled"
	subOneTime := "sub_one_time"

	wantActive := createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindRecurring, status: enums.DonationStatusActive, subscriptionID: &subActive, createdAt: now})
	wantHold := createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindRecurring, status: enums.DonationStatusOnHold, subscriptionID: &subHold, createdAt: now})
	// No linked subscription yet, nothing to reconcile against.
	createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindRecurring, status: enums.DonationStatusActive, createdAt: now})
	// Terminal rows never re-open.
	createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindRecurring, status: enums.DonationStatusCancelled, subscriptionID: &subCancelled, createdAt: now})
	// One-time gifts have no subscription lifecycle.
	createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindOneTime, status: enums.DonationStatusActive, subscriptionID: &subOneTime, createdAt: now})
	stale := createDonation(t, db, seedDonation{userID: uuid.New(), kind: enums.DonationKindRecurring, status: enums.DonationStatusActive, subscriptionID: &subStale, createdAt: now.Add(-48 * time.Hour)})

	rows, err := repo.ListRecurringForReconcile(ctx, ReconcileQuery{
		Statuses:     []enums.DonationStatus{enums.DonationStatusActive, enums.DonationStatusOnHold, enums.DonationStatusFailed},
		UpdatedAfter: now.Add(-24 * time.Hour),
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got := map[uuid.UUID]bool{}
	for _, row := range rows {
		got[row.ID] = true
	}
	require.True(t, got[wantActive.ID])
	require.True(t, got[wantHold.ID])
	require.False(t, got[stale.ID])

	// Without a window the stale row comes back first (oldest touched).
	all, err := repo.ListRecurringForReconcile(ctx, ReconcileQuery{
		Statuses: []enums.DonationStatus{enums.DonationStatusActive, enums.DonationStatusOnHold},
		Limit:    1,
	})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, stale.ID, all[0].ID)
}
