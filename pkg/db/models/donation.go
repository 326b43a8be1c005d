package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenfund/giving-backend/pkg/enums"
)

// Donation is a donor's pledge: one row per gift, whether a single
// charge or an ongoing subscription. Status follows the billing
// lifecycle; the transactions table records the individual attempts.
type Donation struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	AmountCents int64                    `gorm:"column:amount_cents;not null"`
	Currency    string                   `gorm:"column:currency;not null;default:'usd'"`
	Kind        enums.DonationKind       `gorm:"column:kind;type:donation_kind;not null"`
	Frequency   *enums.DonationFrequency `gorm:"column:frequency;type:donation_frequency"`
	Status      enums.DonationStatus     `gorm:"column:status;type:donation_status;not null;default:'pending'"`

	StripeCustomerID        *string `gorm:"column:stripe_customer_id;index"`
	StripeSubscriptionID    *string `gorm:"column:stripe_subscription_id;index"`
	StripeCheckoutSessionID *string `gorm:"column:stripe_checkout_session_id"`

	StartDate       time.Time  `gorm:"column:start_date;not null"`
	EndDate         *time.Time `gorm:"column:end_date"`
	NextPaymentDate *time.Time `gorm:"column:next_payment_date"`
	LastGiftDate    *time.Time `gorm:"column:last_gift_date"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
