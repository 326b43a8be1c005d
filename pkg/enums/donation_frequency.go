package enums

import "fmt"

// DonationFrequency is the billing cadence of a recurring gift.
type DonationFrequency string

const (
	DonationFrequencyMonthly   DonationFrequency = "monthly"
	DonationFrequencyQuarterly DonationFrequency = "quarterly"
	DonationFrequencyYearly    DonationFrequency = "yearly"
)

var validDonationFrequencies = []DonationFrequency{
	DonationFrequencyMonthly,
	DonationFrequencyQuarterly,
	DonationFrequencyYearly,
}

// String implements fmt.Stringer.
func (f DonationFrequency) String() string {
	return string(f)
}

// IsValid reports whether the value is known.
func (f DonationFrequency) IsValid() bool {
	for _, candidate := range validDonationFrequencies {
		if candidate == f {
			return true
		}
	}
	return false
}

// Months returns the cadence length in months.
func (f DonationFrequency) Months() int {
	switch f {
	case DonationFrequencyQuarterly:
		return 3
	case DonationFrequencyYearly:
		return 12
	default:
		return 1
	}
}

// ParseDonationFrequency converts raw input into a DonationFrequency.
func ParseDonationFrequency(value string) (DonationFrequency, error) {
	for _, candidate := range validDonationFrequencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation frequency %q", value)
}
