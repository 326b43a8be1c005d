package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	pkgerrors "github.com/lumenfund/giving-backend/pkg/errors"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

// Service defines operations over the donation transaction ledger.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordTransactionInput) (*models.Transaction, bool, error)
	Has(ctx context.Context, paymentIntentID string) (bool, error)
	ListByDonation(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo Repository
}

// RecordTransactionInput captures the immutable data a ledger row requires.
type RecordTransactionInput struct {
	DonationID            uuid.UUID
	UserID                uuid.UUID
	AmountCents           int64
	Currency              string
	Kind                  enums.DonationKind
	Status                enums.TransactionStatus
	StripePaymentIntentID string
	CardBrand             *string
	CardLast4             *string
	FailureReason         *string
	OccurredAt            time.Time
}

// ListParams carries the controller-facing pagination inputs.
type ListParams struct {
	DonationID uuid.UUID
	Limit      int
	Cursor     string
}

// ListResult is one page of ledger history plus the next cursor.
type ListResult struct {
	Items  []models.Transaction
	Cursor string
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger repository required")
	}
	return &service{repo: repo}, nil
}

// WithTx returns a service whose writes run inside the given transaction.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

// Record appends one transaction. A payment-intent reference that is already
// booked is reported as recorded=false with no error, so callers replaying a
// delivery can treat the write as settled.
func (s *service) Record(ctx context.Context, input RecordTransactionInput) (*models.Transaction, bool, error) {
	if input.DonationID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}
	if input.UserID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if strings.TrimSpace(input.StripePaymentIntentID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	if input.AmountCents <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Kind.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid donation kind %q", input.Kind))
	}
	if !input.Status.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", input.Status))
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	txn := &models.Transaction{
		ID:                    uuid.New(),
		DonationID:            input.DonationID,
		UserID:                input.UserID,
		AmountCents:           input.AmountCents,
		Currency:              currency,
		Kind:                  input.Kind,
		Status:                input.Status,
		StripePaymentIntentID: strings.TrimSpace(input.StripePaymentIntentID),
		CardBrand:             input.CardBrand,
		CardLast4:             input.CardLast4,
		FailureReason:         input.FailureReason,
		OccurredAt:            occurredAt,
	}

	inserted, err := s.repo.Create(ctx, txn)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transaction")
	}
	return txn, inserted, nil
}

// Has reports whether a transaction already exists for the payment intent.
func (s *service) Has(ctx context.Context, paymentIntentID string) (bool, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	exists, err := s.repo.ExistsByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment intent")
	}
	return exists, nil
}

func (s *service) ListByDonation(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.DonationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}

	query := ListTransactionsQuery{
		DonationID: params.DonationID,
		Limit:      params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListByDonationID(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}
