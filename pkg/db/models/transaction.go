package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenfund/giving-backend/pkg/enums"
)

// Transaction records one realized payment attempt against a donation.
// Rows are immutable; the unique stripe_payment_intent_id makes the
// ledger idempotent under webhook redelivery.
type Transaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DonationID  uuid.UUID               `gorm:"column:donation_id;type:uuid;not null;index"`
	UserID      uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	AmountCents int64                   `gorm:"column:amount_cents;not null"`
	Currency    string                  `gorm:"column:currency;not null;default:'usd'"`
	Kind        enums.DonationKind      `gorm:"column:kind;type:donation_kind;not null"`
	Status      enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`

	StripePaymentIntentID string  `gorm:"column:stripe_payment_intent_id;not null;uniqueIndex:ux_transactions_payment_intent"`
	CardBrand             *string `gorm:"column:card_brand"`
	CardLast4             *string `gorm:"column:card_last4"`
	FailureReason         *string `gorm:"column:failure_reason"`

	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
