package core

import (
	"github.com/pkg/errors"
)

const (
	// MinOwners is the smallest owner set the registry accepts
	MinOwners = 2

	// MaxPercent means every owner has to approve
	MaxPercent = 100
)

// RequiredApprovals returns the number of distinct approvals a proposal needs
// when the registry holds ownerCount owners and the threshold is pct percent.
//
// Anything below 100 percent rounds up past the exact fraction, and the result
// never drops below two so a single owner can not act alone.
func RequiredApprovals(ownerCount, pct uint64) uint64 {
	raw := ownerCount * pct / MaxPercent
	if pct == MaxPercent {
		return raw
	}

	if raw+1 < MinOwners {
		return MinOwners
	}
	return raw + 1
}

// ValidatePercent checks that pct is in (0, 100].
func ValidatePercent(pct uint64) error {
	if pct == 0 || pct > MaxPercent {
		return errors.Wrapf(ErrInvalidConfig, "threshold percent %d out of range (0, %d]", pct, MaxPercent)
	}
	return nil
}
