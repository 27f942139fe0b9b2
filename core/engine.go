package core

import (
	"context"
	"math/big"
	"sync"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Owners           []common.Address
	ThresholdPercent uint64
}

type Option func(*Engine)

// WithStorage persists every proposal and the owner set to db. When db
// already holds an owner set, it takes precedence over Config.Owners.
func WithStorage(db KV) Option {
	return func(e *Engine) {
		e.store = NewProposalStore(db)
	}
}

func WithExecutor(executor Executor) Option {
	return func(e *Engine) {
		e.executor = executor
	}
}

func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine is the approval engine. It exclusively owns the owner registry and
// every proposal record.
//
// Lock order is ownersMu, then the store lock, then a proposal lock. Value
// transfers hold ownersMu for reading so they run in parallel, membership
// approvals hold it for writing so the owner count can not change under a
// quorum check. No lock is held while the executor runs.
type Engine struct {
	ownersMu sync.RWMutex
	registry *OwnerRegistry

	store    *ProposalStore
	executor Executor
	sink     EventSink
	logger   logrus.FieldLogger
}

func NewEngine(config Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		store: NewProposalStore(nil),
		executor: ExecutorFunc(func(context.Context, common.Address, []byte, *big.Int) error {
			return errors.New("no executor configured")
		}),
		sink:   nopSink{},
		logger: log.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	meta, err := e.store.loadMeta()
	if err != nil {
		return nil, err
	}

	if meta != nil {
		e.registry, err = NewOwnerRegistry(meta.Owners, meta.Percent)
		if err != nil {
			return nil, errors.Wrap(err, "restore owner registry")
		}
		if err := e.store.load(); err != nil {
			return nil, err
		}
		e.logger.WithFields(logrus.Fields{
			"owners":    e.registry.Count(),
			"percent":   e.registry.Percent(),
			"transfers": e.store.seqs[ValueTransfer],
		}).Info("restored approval engine")
		return e, nil
	}

	e.registry, err = NewOwnerRegistry(config.Owners, config.ThresholdPercent)
	if err != nil {
		return nil, err
	}
	if err := e.store.saveMeta(e.registry); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"owners":    e.registry.Count(),
		"percent":   e.registry.Percent(),
		"threshold": e.registry.Threshold(),
	}).Info("initialized approval engine")
	return e, nil
}

func (e *Engine) IsOwner(addr common.Address) bool {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	return e.registry.IsOwner(addr)
}

func (e *Engine) Owners() []common.Address {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	return e.registry.Owners()
}

// Threshold returns the approvals currently required for quorum.
func (e *Engine) Threshold() uint64 {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	return e.registry.Threshold()
}

func (e *Engine) Percent() uint64 {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	return e.registry.Percent()
}

// Transfer returns a snapshot of the value-transfer proposal id.
func (e *Engine) Transfer(id uint64) (*TransferProposal, error) {
	p, err := e.store.transfer(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Copy(), nil
}

// PendingTransfers returns snapshots of every value transfer still pending.
func (e *Engine) PendingTransfers() []*TransferProposal {
	var res []*TransferProposal
	for _, id := range e.store.transferIDs() {
		p, err := e.Transfer(id)
		if err != nil {
			continue
		}
		if p.Status == Pending {
			res = append(res, p)
		}
	}
	return res
}

// Submit creates a pending value-transfer proposal approved by proposer.
func (e *Engine) Submit(ctx context.Context, proposer, to common.Address, amount *big.Int, payload []byte) (uint64, error) {
	if amount != nil && amount.Sign() < 0 {
		return 0, errors.Wrapf(ErrInvalidConfig, "negative amount %s", amount)
	}

	e.ownersMu.RLock()
	if !e.registry.IsOwner(proposer) {
		e.ownersMu.RUnlock()
		return 0, e.reject(errors.Wrapf(ErrUnauthorized, "submit by %s", proposer), ValueTransfer, 0, proposer)
	}
	p, err := e.store.newTransfer(proposer, to, amount, payload)
	e.ownersMu.RUnlock()
	if err != nil {
		return 0, err
	}

	e.logger.WithFields(logrus.Fields{
		"id":       p.ID,
		"proposer": proposer.Hex(),
		"to":       to.Hex(),
		"amount":   p.Amount.String(),
	}).Info("submit transfer proposal")
	e.sink.Emit(Event{Kind: EventSubmitted, Actor: proposer, ProposalType: ValueTransfer, ProposalID: p.ID})
	return p.ID, nil
}

// Approve records approver's approval. When the proposal reaches the current
// threshold the executor runs; on failure the proposal stays pending with the
// approval kept and ErrExecutionFailed is returned.
func (e *Engine) Approve(ctx context.Context, approver common.Address, id uint64) error {
	e.ownersMu.RLock()
	if !e.registry.IsOwner(approver) {
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(ErrUnauthorized, "approve by %s", approver), ValueTransfer, id, approver)
	}
	p, err := e.store.transfer(id)
	if err != nil {
		e.ownersMu.RUnlock()
		return e.reject(err, ValueTransfer, id, approver)
	}

	p.mu.Lock()
	if err := p.checkOpen(); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(err, "approve proposal %d", id), ValueTransfer, id, approver)
	}
	if err := p.checkVote(approver); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(err, "approve proposal %d", id), ValueTransfer, id, approver)
	}

	p.approve(approver)
	if err := e.store.saveTransfer(p); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return err
	}
	approvals := p.Approvals
	required := e.registry.Threshold()
	ready := approvals >= required
	if ready {
		p.executing = true
	}
	p.mu.Unlock()
	e.ownersMu.RUnlock()

	e.logger.WithFields(logrus.Fields{
		"id":        id,
		"approver":  approver.Hex(),
		"approvals": approvals,
		"required":  required,
	}).Info("approve transfer proposal")
	e.sink.Emit(Event{Kind: EventApproved, Actor: approver, ProposalType: ValueTransfer, ProposalID: id})

	if !ready {
		return nil
	}
	return e.execute(ctx, approver, p)
}

// Refuse records refuser's refusal and cancels the proposal once the
// remaining owners can no longer reach quorum.
func (e *Engine) Refuse(ctx context.Context, refuser common.Address, id uint64) error {
	e.ownersMu.RLock()
	if !e.registry.IsOwner(refuser) {
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(ErrUnauthorized, "refuse by %s", refuser), ValueTransfer, id, refuser)
	}
	p, err := e.store.transfer(id)
	if err != nil {
		e.ownersMu.RUnlock()
		return e.reject(err, ValueTransfer, id, refuser)
	}

	p.mu.Lock()
	if err := p.checkOpen(); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(err, "refuse proposal %d", id), ValueTransfer, id, refuser)
	}
	if err := p.checkVote(refuser); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(err, "refuse proposal %d", id), ValueTransfer, id, refuser)
	}

	p.refuse(refuser)
	refusals := p.Refusals
	slack := e.registry.CancelSlack()
	cancelled := refusals > slack
	if cancelled {
		p.Status = Cancelled
	}
	if err := e.store.saveTransfer(p); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return err
	}
	p.mu.Unlock()
	e.ownersMu.RUnlock()

	logger := e.logger.WithFields(logrus.Fields{
		"id":       id,
		"refuser":  refuser.Hex(),
		"refusals": refusals,
		"slack":    slack,
	})
	logger.Info("refuse transfer proposal")
	e.sink.Emit(Event{Kind: EventRefused, Actor: refuser, ProposalType: ValueTransfer, ProposalID: id})
	if cancelled {
		logger.Info("cancel transfer proposal")
		e.sink.Emit(Event{Kind: EventCancelled, Actor: refuser, ProposalType: ValueTransfer, ProposalID: id})
	}
	return nil
}

// Execute re-triggers execution of a pending proposal that already holds
// quorum, typically after a previous ErrExecutionFailed.
func (e *Engine) Execute(ctx context.Context, caller common.Address, id uint64) error {
	e.ownersMu.RLock()
	if !e.registry.IsOwner(caller) {
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(ErrUnauthorized, "execute by %s", caller), ValueTransfer, id, caller)
	}
	p, err := e.store.transfer(id)
	if err != nil {
		e.ownersMu.RUnlock()
		return e.reject(err, ValueTransfer, id, caller)
	}

	p.mu.Lock()
	if err := p.checkOpen(); err != nil {
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(err, "execute proposal %d", id), ValueTransfer, id, caller)
	}
	if required := e.registry.Threshold(); p.Approvals < required {
		approvals := p.Approvals
		p.mu.Unlock()
		e.ownersMu.RUnlock()
		return e.reject(errors.Wrapf(ErrQuorumNotReached, "proposal %d has %d of %d approvals", id, approvals, required), ValueTransfer, id, caller)
	}
	p.executing = true
	p.mu.Unlock()
	e.ownersMu.RUnlock()

	return e.execute(ctx, caller, p)
}

// execute runs the executor for p, which the caller has marked executing.
func (e *Engine) execute(ctx context.Context, actor common.Address, p *TransferProposal) error {
	p.mu.Lock()
	to, payload := p.To, common.CopyBytes(p.Payload)
	value := new(big.Int).Set(p.Amount)
	p.mu.Unlock()

	// a panicking executor must not leave the proposal locked out
	settled := false
	defer func() {
		if !settled {
			p.mu.Lock()
			p.executing = false
			p.mu.Unlock()
		}
	}()

	execErr := e.executor.Execute(ctx, to, payload, value)

	p.mu.Lock()
	p.executing = false
	settled = true
	if execErr != nil {
		p.mu.Unlock()
		e.logger.WithFields(logrus.Fields{
			"id": p.ID,
			"to": to.Hex(),
		}).Errorf("execute transfer proposal error: %s", execErr)
		return errors.Wrapf(ErrExecutionFailed, "proposal %d: %s", p.ID, execErr)
	}
	p.Status = Executed
	err := e.store.saveTransfer(p)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"id":     p.ID,
		"to":     to.Hex(),
		"amount": value.String(),
	}).Info("execute transfer proposal")
	e.sink.Emit(Event{Kind: EventExecuted, Actor: actor, ProposalType: ValueTransfer, ProposalID: p.ID})
	return nil
}

func (e *Engine) reject(err error, typ ProposalType, id uint64, actor common.Address) error {
	e.logger.WithFields(logrus.Fields{
		"id":    id,
		"type":  typ.String(),
		"actor": actor.Hex(),
	}).Debugf("reject operation: %s", err)
	return err
}
