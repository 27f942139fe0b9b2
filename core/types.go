package core

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ProposalStatus uint8

const (
	Pending ProposalStatus = iota
	Executed
	Cancelled
)

func (s ProposalStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executed:
		return "executed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type ProposalType uint8

const (
	// ValueTransfer is a proposal for sending value and payload to a target
	ValueTransfer ProposalType = iota

	// AddOwner is a proposal for admitting a candidate into the owner set
	AddOwner

	// RemoveOwner is a proposal for evicting a member from the owner set
	RemoveOwner
)

func (t ProposalType) String() string {
	switch t {
	case ValueTransfer:
		return "transfer"
	case AddOwner:
		return "add_owner"
	case RemoveOwner:
		return "remove_owner"
	default:
		return "unknown"
	}
}

type BaseProposal struct {
	ID       uint64
	Type     ProposalType
	Proposer common.Address

	Approvals uint64
	Refusals  uint64

	// ApprovedBy records every owner that approved, each at most once
	ApprovedBy map[common.Address]bool

	// RefusedBy is only filled for value transfers
	RefusedBy map[common.Address]bool
	Status    ProposalStatus

	mu        sync.Mutex
	executing bool
}

func newBaseProposal(id uint64, typ ProposalType, proposer common.Address) BaseProposal {
	return BaseProposal{
		ID:         id,
		Type:       typ,
		Proposer:   proposer,
		Approvals:  1,
		ApprovedBy: map[common.Address]bool{proposer: true},
		RefusedBy:  map[common.Address]bool{},
		Status:     Pending,
	}
}

func (p *BaseProposal) Executed() bool {
	return p.Status == Executed
}

func (p *BaseProposal) Cancelled() bool {
	return p.Status == Cancelled
}

// Approvers returns the approving owners in a stable order.
func (p *BaseProposal) Approvers() []common.Address {
	return sortedKeys(p.ApprovedBy)
}

// Refusers returns the refusing owners in a stable order.
func (p *BaseProposal) Refusers() []common.Address {
	return sortedKeys(p.RefusedBy)
}

// checkOpen returns the error matching a terminal or busy proposal.
func (p *BaseProposal) checkOpen() error {
	switch p.Status {
	case Executed:
		return ErrAlreadyExecuted
	case Cancelled:
		return ErrAlreadyCancelled
	}
	if p.executing {
		return ErrExecutionInProgress
	}
	return nil
}

func (p *BaseProposal) checkVote(voter common.Address) error {
	if p.ApprovedBy[voter] {
		return ErrAlreadyApproved
	}
	if p.RefusedBy[voter] {
		return ErrAlreadyRefused
	}
	return nil
}

func (p *BaseProposal) approve(voter common.Address) {
	p.ApprovedBy[voter] = true
	p.Approvals++
}

func (p *BaseProposal) refuse(voter common.Address) {
	p.RefusedBy[voter] = true
	p.Refusals++
}

func (p *BaseProposal) copyBase() BaseProposal {
	approved := make(map[common.Address]bool, len(p.ApprovedBy))
	for k, v := range p.ApprovedBy {
		approved[k] = v
	}
	refused := make(map[common.Address]bool, len(p.RefusedBy))
	for k, v := range p.RefusedBy {
		refused[k] = v
	}
	return BaseProposal{
		ID:         p.ID,
		Type:       p.Type,
		Proposer:   p.Proposer,
		Approvals:  p.Approvals,
		Refusals:   p.Refusals,
		ApprovedBy: approved,
		RefusedBy:  refused,
		Status:     p.Status,
	}
}

type TransferProposal struct {
	BaseProposal
	To      common.Address
	Amount  *big.Int
	Payload hexutil.Bytes
}

// Copy returns a detached snapshot; the caller must hold the proposal lock.
func (p *TransferProposal) Copy() *TransferProposal {
	amount := new(big.Int)
	if p.Amount != nil {
		amount.Set(p.Amount)
	}
	return &TransferProposal{
		BaseProposal: p.copyBase(),
		To:           p.To,
		Amount:       amount,
		Payload:      common.CopyBytes(p.Payload),
	}
}

type MembershipProposal struct {
	BaseProposal

	// Subject is the candidate for AddOwner and the target for RemoveOwner
	Subject common.Address
}

// Copy returns a detached snapshot; the caller must hold the proposal lock.
func (p *MembershipProposal) Copy() *MembershipProposal {
	return &MembershipProposal{
		BaseProposal: p.copyBase(),
		Subject:      p.Subject,
	}
}

func sortedKeys(m map[common.Address]bool) []common.Address {
	res := make([]common.Address, 0, len(m))
	for addr, ok := range m {
		if ok {
			res = append(res, addr)
		}
	}
	sortAddresses(res)
	return res
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
