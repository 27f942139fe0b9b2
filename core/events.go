package core

import (
	"fmt"

	"github.com/GianlucaGuarini/go-observable"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

type EventKind string

const (
	EventSubmitted    EventKind = "submitted"
	EventApproved     EventKind = "approved"
	EventRefused      EventKind = "refused"
	EventCancelled    EventKind = "cancelled"
	EventExecuted     EventKind = "executed"
	EventOwnerAdded   EventKind = "owner_added"
	EventOwnerRemoved EventKind = "owner_removed"

	// EventAny subscribes an ObservableSink listener to every kind
	EventAny EventKind = "any"
)

type Event struct {
	Kind         EventKind      `json:"kind"`
	Actor        common.Address `json:"actor"`
	ProposalType ProposalType   `json:"proposal_type"`
	ProposalID   uint64         `json:"proposal_id"`

	// Owner is the subject of membership events, zero otherwise
	Owner common.Address `json:"owner"`
}

// EventSink receives notifications after a state transition has been
// committed. Emit must not block and is never read back by the engine.
type EventSink interface {
	Emit(e Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// LogSink writes every event to a logrus logger.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s *LogSink) Emit(e Event) {
	fields := logrus.Fields{
		"actor": e.Actor.Hex(),
		"type":  e.ProposalType.String(),
		"id":    e.ProposalID,
	}
	if e.Owner != (common.Address{}) {
		fields["owner"] = e.Owner.Hex()
	}
	orDefault(s.Logger).WithFields(fields).Infof("event %s", e.Kind)
}

// ObservableSink fans events out to go-observable listeners registered by
// kind, by EventAny, or by proposal with ProposalTopic.
type ObservableSink struct {
	*observable.Observable
}

func NewObservableSink() *ObservableSink {
	return &ObservableSink{Observable: observable.New()}
}

// ProposalTopic is the observable event name carrying every event of one proposal.
func ProposalTopic(typ ProposalType, id uint64) string {
	return fmt.Sprintf("%s-%d", typ, id)
}

// Subscribe registers fn for topic, which is an EventKind or a ProposalTopic.
// The returned function removes the listener.
func (s *ObservableSink) Subscribe(topic string, fn func(Event)) func() {
	s.On(topic, fn)
	return func() {
		s.Off(topic, fn)
	}
}

func (s *ObservableSink) Emit(e Event) {
	event := string(e.Kind)
	event += " " + string(EventAny)
	event += " " + ProposalTopic(e.ProposalType, e.ProposalID)
	s.Trigger(event, e)
}

// MultiSink emits to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, sink := range m {
		sink.Emit(e)
	}
}
