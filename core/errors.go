package core

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrUnauthorized     = errors.New("caller is not an owner")
	ErrNotFound         = errors.New("proposal not found")
	ErrAlreadyApproved  = errors.New("proposal already approved by caller")
	ErrAlreadyRefused   = errors.New("proposal already refused by caller")
	ErrAlreadyExecuted  = errors.New("proposal already executed")
	ErrAlreadyCancelled = errors.New("proposal already cancelled")
	ErrAlreadyOwner     = errors.New("address is already an owner")
	ErrNotOwner         = errors.New("address is not an owner")
	ErrExecutionFailed  = errors.New("action execution failed")

	// ErrExecutionInProgress is returned for any vote on a proposal whose
	// action is being executed right now.
	ErrExecutionInProgress = errors.New("proposal execution in progress")

	// ErrQuorumNotReached is returned when execution is requested for a
	// proposal that does not hold enough approvals.
	ErrQuorumNotReached = errors.New("proposal quorum not reached")

	// ErrOwnerFloor is returned when a removal would leave fewer than
	// MinOwners owners.
	ErrOwnerFloor = errors.New("owner set would fall below minimum")
)
