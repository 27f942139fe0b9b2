package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AddOwnerProposal returns a snapshot of the add-owner proposal id.
func (e *Engine) AddOwnerProposal(id uint64) (*MembershipProposal, error) {
	return e.membershipSnapshot(AddOwner, id)
}

// RemoveOwnerProposal returns a snapshot of the remove-owner proposal id.
func (e *Engine) RemoveOwnerProposal(id uint64) (*MembershipProposal, error) {
	return e.membershipSnapshot(RemoveOwner, id)
}

func (e *Engine) membershipSnapshot(typ ProposalType, id uint64) (*MembershipProposal, error) {
	p, err := e.store.membership(typ, id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Copy(), nil
}

// SubmitAddOwner proposes admitting candidate into the owner set.
func (e *Engine) SubmitAddOwner(ctx context.Context, proposer, candidate common.Address) (uint64, error) {
	return e.submitMembership(AddOwner, proposer, candidate)
}

// SubmitRemoveOwner proposes evicting target from the owner set.
func (e *Engine) SubmitRemoveOwner(ctx context.Context, proposer, target common.Address) (uint64, error) {
	return e.submitMembership(RemoveOwner, proposer, target)
}

// ApproveAddOwner approves an add-owner proposal and admits the candidate
// once the current threshold is met.
func (e *Engine) ApproveAddOwner(ctx context.Context, approver common.Address, id uint64) error {
	return e.approveMembership(AddOwner, approver, id)
}

// ApproveRemoveOwner approves a remove-owner proposal and evicts the target
// once the current threshold is met.
func (e *Engine) ApproveRemoveOwner(ctx context.Context, approver common.Address, id uint64) error {
	return e.approveMembership(RemoveOwner, approver, id)
}

// checkSubject validates the subject of a membership change against the
// current owner set.
func (e *Engine) checkSubject(typ ProposalType, subject common.Address) error {
	switch typ {
	case AddOwner:
		if subject == (common.Address{}) {
			return errors.Wrap(ErrInvalidConfig, "candidate is the zero address")
		}
		if e.registry.IsOwner(subject) {
			return errors.Wrapf(ErrAlreadyOwner, "candidate %s", subject)
		}
	case RemoveOwner:
		if !e.registry.IsOwner(subject) {
			return errors.Wrapf(ErrNotOwner, "target %s", subject)
		}
		if e.registry.Count() <= MinOwners {
			return errors.Wrapf(ErrOwnerFloor, "removing %s leaves %d owners", subject, e.registry.Count()-1)
		}
	}
	return nil
}

func (e *Engine) submitMembership(typ ProposalType, proposer, subject common.Address) (uint64, error) {
	e.ownersMu.RLock()
	if !e.registry.IsOwner(proposer) {
		e.ownersMu.RUnlock()
		return 0, e.reject(errors.Wrapf(ErrUnauthorized, "submit by %s", proposer), typ, 0, proposer)
	}
	if err := e.checkSubject(typ, subject); err != nil {
		e.ownersMu.RUnlock()
		return 0, e.reject(err, typ, 0, proposer)
	}
	p, err := e.store.newMembership(typ, proposer, subject)
	e.ownersMu.RUnlock()
	if err != nil {
		return 0, err
	}

	e.logger.WithFields(logrus.Fields{
		"id":       p.ID,
		"type":     typ.String(),
		"proposer": proposer.Hex(),
		"subject":  subject.Hex(),
	}).Info("submit membership proposal")
	e.sink.Emit(Event{Kind: EventSubmitted, Actor: proposer, ProposalType: typ, ProposalID: p.ID, Owner: subject})
	return p.ID, nil
}

func (e *Engine) approveMembership(typ ProposalType, approver common.Address, id uint64) error {
	e.ownersMu.Lock()
	p, required, ready, err := e.applyMembershipApproval(typ, approver, id)
	var owners, threshold uint64
	if err == nil && ready {
		owners, threshold = e.registry.Count(), e.registry.Threshold()
	}
	e.ownersMu.Unlock()
	if err != nil {
		return err
	}

	logger := e.logger.WithFields(logrus.Fields{
		"id":        id,
		"type":      typ.String(),
		"approver":  approver.Hex(),
		"subject":   p.Subject.Hex(),
		"approvals": p.Approvals,
		"required":  required,
	})
	logger.Info("approve membership proposal")
	e.sink.Emit(Event{Kind: EventApproved, Actor: approver, ProposalType: typ, ProposalID: id, Owner: p.Subject})
	if !ready {
		return nil
	}

	kind := EventOwnerAdded
	if typ == RemoveOwner {
		kind = EventOwnerRemoved
	}
	logger.WithFields(logrus.Fields{
		"owners":    owners,
		"threshold": threshold,
	}).Info("execute membership proposal")
	e.sink.Emit(Event{Kind: kind, Actor: approver, ProposalType: typ, ProposalID: id, Owner: p.Subject})
	e.sink.Emit(Event{Kind: EventExecuted, Actor: approver, ProposalType: typ, ProposalID: id, Owner: p.Subject})
	return nil
}

// applyMembershipApproval does the checks and the state change of a membership
// approval under the owner write lock. It returns a snapshot of the proposal.
func (e *Engine) applyMembershipApproval(typ ProposalType, approver common.Address, id uint64) (*MembershipProposal, uint64, bool, error) {
	if !e.registry.IsOwner(approver) {
		return nil, 0, false, e.reject(errors.Wrapf(ErrUnauthorized, "approve by %s", approver), typ, id, approver)
	}
	p, err := e.store.membership(typ, id)
	if err != nil {
		return nil, 0, false, e.reject(err, typ, id, approver)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOpen(); err != nil {
		return nil, 0, false, e.reject(errors.Wrapf(err, "approve %s proposal %d", typ, id), typ, id, approver)
	}
	if err := p.checkVote(approver); err != nil {
		return nil, 0, false, e.reject(errors.Wrapf(err, "approve %s proposal %d", typ, id), typ, id, approver)
	}

	// The subject may have changed status through another membership
	// proposal since submission.
	if typ == AddOwner && e.registry.IsOwner(p.Subject) {
		return nil, 0, false, e.reject(errors.Wrapf(ErrAlreadyOwner, "candidate %s", p.Subject), typ, id, approver)
	}
	if typ == RemoveOwner && !e.registry.IsOwner(p.Subject) {
		return nil, 0, false, e.reject(errors.Wrapf(ErrNotOwner, "target %s", p.Subject), typ, id, approver)
	}

	required := e.registry.Threshold()
	ready := p.Approvals+1 >= required
	if ready {
		if typ == AddOwner {
			err = e.registry.add(p.Subject)
		} else {
			err = e.registry.remove(p.Subject)
		}
		if err != nil {
			return nil, 0, false, e.reject(err, typ, id, approver)
		}
		p.Status = Executed
	}
	p.approve(approver)

	if err := e.store.saveMembership(p, e.registry); err != nil {
		return nil, 0, false, err
	}
	return p.Copy(), required, ready, nil
}
