package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

// Repository manages persistence for ledger transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) (bool, error)
	ExistsByPaymentIntentID(ctx context.Context, paymentIntentID string) (bool, error)
	ListByDonationID(ctx context.Context, params ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error)
}

// ListTransactionsQuery filters the ledger history for one donation.
type ListTransactionsQuery struct {
	DonationID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create appends a transaction. Inserts that collide on
// stripe_payment_intent_id are skipped at the database and reported as
// inserted=false, so redelivered events can never double-book a payment.
func (r *repository) Create(ctx context.Context, txn *models.Transaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_payment_intent_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ExistsByPaymentIntentID(ctx context.Context, paymentIntentID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) ListByDonationID(ctx context.Context, params ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("donation_id = ?", params.DonationID)
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var txns []models.Transaction
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	if len(txns) > limit {
		txns = txns[:limit]
		// The cursor predicate is strictly exclusive, so it must point at
		// the last row handed back rather than the first row held over.
		last := txns[len(txns)-1]
		return txns, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return txns, nil, nil
}
