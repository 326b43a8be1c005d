package receipts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenfund/giving-backend/pkg/enums"
)

// Receipt is the wire payload the receipt worker renders into a donor
// email. Amount carries the pre-formatted decimal string so the worker
// never re-derives money values.
type Receipt struct {
	DonationID  uuid.UUID                `json:"donationId"`
	UserID      uuid.UUID                `json:"userId"`
	Email       string                   `json:"email"`
	DonorName   string                   `json:"donorName,omitempty"`
	AmountCents int64                    `json:"amountCents"`
	Amount      string                   `json:"amount"`
	Currency    string                   `json:"currency"`
	Kind        enums.DonationKind       `json:"kind"`
	Frequency   *enums.DonationFrequency `json:"frequency,omitempty"`
	CardBrand   string                   `json:"cardBrand,omitempty"`
	CardLast4   string                   `json:"cardLast4,omitempty"`
	FirstGift   bool                     `json:"firstGift"`
	OccurredAt  time.Time                `json:"occurredAt"`
}

// FormatAmount renders cents as a two-decimal major-unit string.
func FormatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// CardSummary returns the "visa ending in 4242" fragment, or "" when the
// processor did not expose card details.
func (r Receipt) CardSummary() string {
	brand := strings.TrimSpace(r.CardBrand)
	last4 := strings.TrimSpace(r.CardLast4)
	if brand == "" || last4 == "" {
		return ""
	}
	return brand + " ending in " + last4
}
