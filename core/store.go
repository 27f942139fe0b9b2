package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	metaKey           = "meta"
	seqKeyPrefix      = "seq/"
	proposalKeyPrefix = "proposal/"
)

// KV is the part of storage.Storage the proposal store writes through.
type KV interface {
	Get(key []byte) []byte
	Put(key, value []byte)
	NewBatch() storage.Batch
}

type registryMeta struct {
	Owners  []common.Address `json:"owners"`
	Percent uint64           `json:"percent"`
}

// ProposalStore is the append-only, ID-indexed collection of proposals.
// Every proposal kind has its own ID sequence and its own map, so approvals
// recorded for one kind can never be confused with another.
type ProposalStore struct {
	mu sync.RWMutex
	db KV

	transfers map[uint64]*TransferProposal
	additions map[uint64]*MembershipProposal
	removals  map[uint64]*MembershipProposal
	seqs      map[ProposalType]uint64
}

// NewProposalStore creates a store. A nil db keeps everything in memory.
func NewProposalStore(db KV) *ProposalStore {
	return &ProposalStore{
		db:        db,
		transfers: make(map[uint64]*TransferProposal),
		additions: make(map[uint64]*MembershipProposal),
		removals:  make(map[uint64]*MembershipProposal),
		seqs:      make(map[ProposalType]uint64),
	}
}

func seqKey(typ ProposalType) []byte {
	return []byte(seqKeyPrefix + typ.String())
}

func proposalKey(typ ProposalType, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", proposalKeyPrefix, typ, id))
}

func encodeSeq(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// loadMeta returns the persisted owner set, or nil when nothing was stored yet.
func (s *ProposalStore) loadMeta() (*registryMeta, error) {
	if s.db == nil {
		return nil, nil
	}
	data := s.db.Get([]byte(metaKey))
	if data == nil {
		return nil, nil
	}
	meta := &registryMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, errors.Wrap(err, "unmarshal registry meta")
	}
	return meta, nil
}

// load reads every persisted proposal back into memory.
func (s *ProposalStore) load() error {
	if s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, typ := range []ProposalType{ValueTransfer, AddOwner, RemoveOwner} {
		data := s.db.Get(seqKey(typ))
		if data == nil {
			continue
		}
		seq := binary.BigEndian.Uint64(data)
		s.seqs[typ] = seq

		for id := uint64(1); id <= seq; id++ {
			raw := s.db.Get(proposalKey(typ, id))
			if raw == nil {
				return errors.Errorf("missing %s proposal %d", typ, id)
			}
			if typ == ValueTransfer {
				p := &TransferProposal{}
				if err := json.Unmarshal(raw, p); err != nil {
					return errors.Wrapf(err, "unmarshal %s proposal %d", typ, id)
				}
				s.transfers[id] = p
				continue
			}
			p := &MembershipProposal{}
			if err := json.Unmarshal(raw, p); err != nil {
				return errors.Wrapf(err, "unmarshal %s proposal %d", typ, id)
			}
			s.memberships(typ)[id] = p
		}
	}
	return nil
}

func (s *ProposalStore) memberships(typ ProposalType) map[uint64]*MembershipProposal {
	if typ == AddOwner {
		return s.additions
	}
	return s.removals
}

func (s *ProposalStore) newTransfer(proposer, to common.Address, amount *big.Int, payload []byte) (*TransferProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.seqs[ValueTransfer] + 1
	value := new(big.Int)
	if amount != nil {
		value.Set(amount)
	}
	p := &TransferProposal{
		BaseProposal: newBaseProposal(id, ValueTransfer, proposer),
		To:           to,
		Amount:       value,
		Payload:      common.CopyBytes(payload),
	}
	if err := s.persistNew(ValueTransfer, id, p); err != nil {
		return nil, err
	}

	s.seqs[ValueTransfer] = id
	s.transfers[id] = p
	return p, nil
}

func (s *ProposalStore) newMembership(typ ProposalType, proposer, subject common.Address) (*MembershipProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.seqs[typ] + 1
	p := &MembershipProposal{
		BaseProposal: newBaseProposal(id, typ, proposer),
		Subject:      subject,
	}
	if err := s.persistNew(typ, id, p); err != nil {
		return nil, err
	}

	s.seqs[typ] = id
	s.memberships(typ)[id] = p
	return p, nil
}

// persistNew writes the proposal and its bumped sequence in one batch.
func (s *ProposalStore) persistNew(typ ProposalType, id uint64, p any) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal %s proposal %d", typ, id)
	}
	batch := s.db.NewBatch()
	batch.Put(proposalKey(typ, id), data)
	batch.Put(seqKey(typ), encodeSeq(id))
	batch.Commit()
	return nil
}

func (s *ProposalStore) transfer(id uint64) (*TransferProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.transfers[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s proposal %d", ValueTransfer, id)
	}
	return p, nil
}

func (s *ProposalStore) membership(typ ProposalType, id uint64) (*MembershipProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.memberships(typ)[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s proposal %d", typ, id)
	}
	return p, nil
}

// transferIDs returns all value-transfer ids in ascending order.
func (s *ProposalStore) transferIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.transfers))
	for id := range s.transfers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// saveTransfer persists p; the caller must hold the proposal lock.
func (s *ProposalStore) saveTransfer(p *TransferProposal) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal %s proposal %d", p.Type, p.ID)
	}
	s.db.Put(proposalKey(p.Type, p.ID), data)
	return nil
}

// saveMembership persists p together with the owner set, atomically.
// The caller must hold the proposal lock and the engine owner lock.
func (s *ProposalStore) saveMembership(p *MembershipProposal, reg *OwnerRegistry) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal %s proposal %d", p.Type, p.ID)
	}
	meta, err := encodeMeta(reg)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Put(proposalKey(p.Type, p.ID), data)
	batch.Put([]byte(metaKey), meta)
	batch.Commit()
	return nil
}

func (s *ProposalStore) saveMeta(reg *OwnerRegistry) error {
	if s.db == nil {
		return nil
	}
	meta, err := encodeMeta(reg)
	if err != nil {
		return err
	}
	s.db.Put([]byte(metaKey), meta)
	return nil
}

func encodeMeta(reg *OwnerRegistry) ([]byte, error) {
	data, err := json.Marshal(&registryMeta{
		Owners:  reg.Owners(),
		Percent: reg.Percent(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal registry meta")
	}
	return data, nil
}
