package donations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

// Repository manages persistence for donations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, donation *models.Donation) error
	Save(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Donation, error)
	List(ctx context.Context, params ListDonationsQuery) ([]models.Donation, *pagination.Cursor, error)
	ListRecurringForReconcile(ctx context.Context, params ReconcileQuery) ([]models.Donation, error)
}

// ListDonationsQuery filters the donation listing.
type ListDonationsQuery struct {
	UserID *uuid.UUID
	Status *enums.DonationStatus
	Limit  int
	Cursor *pagination.Cursor
}

// ReconcileQuery selects recurring donations whose subscription state
// should be re-checked against Stripe.
type ReconcileQuery struct {
	Statuses     []enums.DonationStatus
	UpdatedAfter time.Time
	Limit        int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a donation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

func (r *repository) Save(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Save(donation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).First(&donation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).
		First(&donation, "stripe_subscription_id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repository) List(ctx context.Context, params ListDonationsQuery) ([]models.Donation, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Donation{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var donations []models.Donation
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&donations).Error; err != nil {
		return nil, nil, err
	}

	if len(donations) > limit {
		donations = donations[:limit]
		// The cursor predicate is strictly exclusive, so it must point at
		// the last row handed back rather than the first row held over.
		last := donations[len(donations)-1]
		return donations, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return donations, nil, nil
}

// ListRecurringForReconcile returns recurring donations with a linked
// subscription whose status may have drifted from Stripe's view. Rows
// are ordered oldest-touched first so stale records drain ahead of
// recently reconciled ones.
func (r *repository) ListRecurringForReconcile(ctx context.Context, params ReconcileQuery) ([]models.Donation, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("kind = ?", enums.DonationKindRecurring).
		Where("stripe_subscription_id IS NOT NULL")
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if !params.UpdatedAfter.IsZero() {
		query = query.Where("updated_at >= ?", params.UpdatedAfter)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var donations []models.Donation
	if err := query.Order("updated_at ASC").Find(&donations).Error; err != nil {
		return nil, err
	}
	return donations, nil
}
