package enums

import "fmt"

// DonationStatus tracks where a gift sits in its billing lifecycle.
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusActive    DonationStatus = "active"
	DonationStatusOnHold    DonationStatus = "on_hold"
	DonationStatusCompleted DonationStatus = "completed"
	DonationStatusFailed    DonationStatus = "failed"
	DonationStatusCancelled DonationStatus = "cancelled"
)

var validDonationStatuses = []DonationStatus{
	DonationStatusPending,
	DonationStatusActive,
	DonationStatusOnHold,
	DonationStatusCompleted,
	DonationStatusFailed,
	DonationStatusCancelled,
}

// String implements fmt.Stringer.
func (s DonationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s DonationStatus) IsValid() bool {
	for _, candidate := range validDonationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
// Completed applies to one-time gifts only; cancelled to any kind.
func (s DonationStatus) IsTerminal() bool {
	return s == DonationStatusCompleted || s == DonationStatusCancelled
}

// ParseDonationStatus converts raw input into a DonationStatus.
func ParseDonationStatus(value string) (DonationStatus, error) {
	for _, candidate := range validDonationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation status %q", value)
}
