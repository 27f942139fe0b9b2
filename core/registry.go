package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// OwnerRegistry is the authoritative owner set together with the fixed
// threshold percentage. It is not safe for concurrent use on its own, the
// Engine serializes every access through its owner lock.
type OwnerRegistry struct {
	owners  map[common.Address]struct{}
	percent uint64
}

func NewOwnerRegistry(owners []common.Address, pct uint64) (*OwnerRegistry, error) {
	if len(owners) < MinOwners {
		return nil, errors.Wrapf(ErrInvalidConfig, "need at least %d owners, got %d", MinOwners, len(owners))
	}
	if err := ValidatePercent(pct); err != nil {
		return nil, err
	}

	set := make(map[common.Address]struct{}, len(owners))
	for _, owner := range owners {
		if owner == (common.Address{}) {
			return nil, errors.Wrap(ErrInvalidConfig, "owner is the zero address")
		}
		if _, ok := set[owner]; ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "duplicate owner %s", owner)
		}
		set[owner] = struct{}{}
	}

	return &OwnerRegistry{
		owners:  set,
		percent: pct,
	}, nil
}

func (r *OwnerRegistry) IsOwner(addr common.Address) bool {
	_, ok := r.owners[addr]
	return ok
}

func (r *OwnerRegistry) Count() uint64 {
	return uint64(len(r.owners))
}

func (r *OwnerRegistry) Percent() uint64 {
	return r.percent
}

// Threshold recomputes the required approvals from the current owner count.
func (r *OwnerRegistry) Threshold() uint64 {
	return RequiredApprovals(r.Count(), r.percent)
}

// CancelSlack is the number of refusals a proposal tolerates before quorum
// becomes unreachable.
func (r *OwnerRegistry) CancelSlack() uint64 {
	return r.Count() - r.Threshold()
}

// Owners returns the owner set sorted by address.
func (r *OwnerRegistry) Owners() []common.Address {
	res := make([]common.Address, 0, len(r.owners))
	for owner := range r.owners {
		res = append(res, owner)
	}
	sortAddresses(res)
	return res
}

func (r *OwnerRegistry) add(addr common.Address) error {
	if r.IsOwner(addr) {
		return errors.Wrapf(ErrAlreadyOwner, "add %s", addr)
	}
	r.owners[addr] = struct{}{}
	return nil
}

func (r *OwnerRegistry) remove(addr common.Address) error {
	if !r.IsOwner(addr) {
		return errors.Wrapf(ErrNotOwner, "remove %s", addr)
	}
	if r.Count() <= MinOwners {
		return errors.Wrapf(ErrOwnerFloor, "remove %s leaves %d owners", addr, r.Count()-1)
	}
	delete(r.owners, addr)
	return nil
}
