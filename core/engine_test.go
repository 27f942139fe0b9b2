package core

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	to      common.Address
	payload []byte
	value   *big.Int
}

type mockExecutor struct {
	mu    sync.Mutex
	calls []execCall
	err   error

	// hook runs inside Execute before returning
	hook func()
}

func (m *mockExecutor) Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error {
	m.mu.Lock()
	m.calls = append(m.calls, execCall{to: to, payload: payload, value: value})
	err := m.err
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (m *mockExecutor) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockExecutor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		res = append(res, e.Kind)
	}
	return res
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func newTestEngine(t *testing.T, n int, pct uint64) (*Engine, []common.Address, *mockExecutor, *recordSink) {
	owners := testAddrs(n)
	executor := &mockExecutor{}
	sink := &recordSink{}

	e, err := NewEngine(Config{Owners: owners, ThresholdPercent: pct},
		WithExecutor(executor),
		WithEventSink(sink),
		WithLogger(testLogger()),
	)
	require.Nil(t, err)
	return e, owners, executor, sink
}

var (
	target = common.HexToAddress("0x330000000000000000000000000000000000ffff")
	ctx    = context.Background()
)

func TestNewEngineInvalidConfig(t *testing.T) {
	_, err := NewEngine(Config{Owners: testAddrs(1), ThresholdPercent: 50})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewEngine(Config{Owners: testAddrs(3), ThresholdPercent: 0})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSubmit(t *testing.T) {
	e, owners, _, sink := newTestEngine(t, 3, 50)

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(10), []byte{0x01})
	require.Nil(t, err)
	assert.Equal(t, uint64(1), id)

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), p.Approvals)
	assert.Equal(t, []common.Address{owners[0]}, p.Approvers())
	assert.Equal(t, Pending, p.Status)
	assert.Equal(t, target, p.To)
	assert.Equal(t, int64(10), p.Amount.Int64())

	id, err = e.Submit(ctx, owners[1], target, nil, nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(2), id)

	_, err = e.Submit(ctx, target, target, big.NewInt(1), nil)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = e.Submit(ctx, owners[0], target, big.NewInt(-1), nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	assert.Equal(t, []EventKind{EventSubmitted, EventSubmitted}, sink.kinds())
	assert.Len(t, e.PendingTransfers(), 2)
}

func TestApproveExecutesOnce(t *testing.T) {
	e, owners, executor, sink := newTestEngine(t, 5, 60)
	require.Equal(t, uint64(4), e.Threshold())

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(7), []byte("call"))
	require.Nil(t, err)

	require.Nil(t, e.Approve(ctx, owners[1], id))
	require.Nil(t, e.Approve(ctx, owners[2], id))
	assert.Equal(t, 0, executor.count())

	require.Nil(t, e.Approve(ctx, owners[3], id))
	assert.Equal(t, 1, executor.count())
	assert.Equal(t, target, executor.calls[0].to)
	assert.Equal(t, []byte("call"), executor.calls[0].payload)
	assert.Equal(t, int64(7), executor.calls[0].value.Int64())

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Executed())
	assert.False(t, p.Cancelled())

	err = e.Approve(ctx, owners[4], id)
	assert.True(t, errors.Is(err, ErrAlreadyExecuted))
	err = e.Refuse(ctx, owners[4], id)
	assert.True(t, errors.Is(err, ErrAlreadyExecuted))
	assert.Equal(t, 1, executor.count())
	assert.Empty(t, e.PendingTransfers())

	assert.Equal(t, []EventKind{
		EventSubmitted, EventApproved, EventApproved, EventApproved, EventExecuted,
	}, sink.kinds())
}

func TestApproveRejected(t *testing.T) {
	e, owners, _, _ := newTestEngine(t, 4, 100)

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	err = e.Approve(ctx, target, id)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	err = e.Approve(ctx, owners[1], 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = e.Approve(ctx, owners[0], id)
	assert.True(t, errors.Is(err, ErrAlreadyApproved))

	require.Nil(t, e.Approve(ctx, owners[1], id))
	err = e.Approve(ctx, owners[1], id)
	assert.True(t, errors.Is(err, ErrAlreadyApproved))

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, uint64(2), p.Approvals)
	assert.Equal(t, uint64(0), p.Refusals)
}

func TestRefuseCancelsOnFirstRefusal(t *testing.T) {
	// 5 owners at 80%: required = 5, slack = 0
	e, owners, executor, sink := newTestEngine(t, 5, 80)
	require.Equal(t, uint64(5), e.Threshold())

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	require.Nil(t, e.Refuse(ctx, owners[1], id))
	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Cancelled())
	assert.Equal(t, uint64(1), p.Refusals)

	err = e.Approve(ctx, owners[2], id)
	assert.True(t, errors.Is(err, ErrAlreadyCancelled))
	err = e.Refuse(ctx, owners[2], id)
	assert.True(t, errors.Is(err, ErrAlreadyCancelled))
	assert.Equal(t, 0, executor.count())

	assert.Equal(t, []EventKind{EventSubmitted, EventRefused, EventCancelled}, sink.kinds())
}

func TestRefuseCancelBoundary(t *testing.T) {
	// 5 owners at 50%: required = 3, slack = 2
	e, owners, _, _ := newTestEngine(t, 5, 50)
	require.Equal(t, uint64(3), e.Threshold())

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	require.Nil(t, e.Refuse(ctx, owners[1], id))
	require.Nil(t, e.Refuse(ctx, owners[2], id))
	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, Pending, p.Status, "refusals equal to slack keep the proposal open")

	err = e.Refuse(ctx, owners[2], id)
	assert.True(t, errors.Is(err, ErrAlreadyRefused))

	require.Nil(t, e.Refuse(ctx, owners[3], id))
	p, err = e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Cancelled())
	assert.Equal(t, []common.Address{owners[1], owners[2], owners[3]}, p.Refusers())
}

func TestCrossVotesRejected(t *testing.T) {
	e, owners, _, _ := newTestEngine(t, 5, 80)

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	err = e.Refuse(ctx, owners[0], id)
	assert.True(t, errors.Is(err, ErrAlreadyApproved))

	e2, owners2, _, _ := newTestEngine(t, 5, 50)
	id, err = e2.Submit(ctx, owners2[0], target, big.NewInt(1), nil)
	require.Nil(t, err)
	require.Nil(t, e2.Refuse(ctx, owners2[1], id))
	err = e2.Approve(ctx, owners2[1], id)
	assert.True(t, errors.Is(err, ErrAlreadyRefused))

	p, err := e2.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), p.Approvals)
	assert.Equal(t, uint64(1), p.Refusals)
}

func TestExecutionFailureKeepsProposalPending(t *testing.T) {
	e, owners, executor, sink := newTestEngine(t, 3, 50)
	executor.setErr(errors.New("insufficient funds"))

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	err = e.Approve(ctx, owners[1], id)
	assert.True(t, errors.Is(err, ErrExecutionFailed))
	assert.Equal(t, ErrExecutionFailed, errors.Cause(err))
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, 1, executor.count())

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, Pending, p.Status)
	assert.Equal(t, uint64(2), p.Approvals)

	// a second approver re-triggers execution
	executor.setErr(nil)
	require.Nil(t, e.Approve(ctx, owners[2], id))
	assert.Equal(t, 2, executor.count())

	p, err = e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Executed())
	assert.Equal(t, []EventKind{
		EventSubmitted, EventApproved, EventApproved, EventExecuted,
	}, sink.kinds())
}

func TestExecuteRetrigger(t *testing.T) {
	e, owners, executor, _ := newTestEngine(t, 3, 50)

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	err = e.Execute(ctx, owners[0], id)
	assert.True(t, errors.Is(err, ErrQuorumNotReached))
	assert.Equal(t, 0, executor.count())

	executor.setErr(errors.New("node down"))
	err = e.Approve(ctx, owners[1], id)
	assert.True(t, errors.Is(err, ErrExecutionFailed))

	err = e.Execute(ctx, target, id)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	err = e.Execute(ctx, owners[0], 9)
	assert.True(t, errors.Is(err, ErrNotFound))

	executor.setErr(nil)
	require.Nil(t, e.Execute(ctx, owners[0], id))
	assert.Equal(t, 2, executor.count())

	err = e.Execute(ctx, owners[0], id)
	assert.True(t, errors.Is(err, ErrAlreadyExecuted))
	assert.Equal(t, 2, executor.count())
}

func TestReentrantExecutorIsRejected(t *testing.T) {
	e, owners, executor, _ := newTestEngine(t, 4, 50)

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	var reentrant []error
	executor.hook = func() {
		reentrant = append(reentrant,
			e.Approve(ctx, owners[3], id),
			e.Refuse(ctx, owners[3], id),
			e.Execute(ctx, owners[0], id),
		)
	}

	require.Nil(t, e.Approve(ctx, owners[1], id))
	require.Nil(t, e.Approve(ctx, owners[2], id))
	assert.Equal(t, 1, executor.count())

	require.Len(t, reentrant, 3)
	for _, err := range reentrant {
		assert.True(t, errors.Is(err, ErrExecutionInProgress), "got %v", err)
	}

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Executed())
	assert.Equal(t, uint64(3), p.Approvals)
	assert.Equal(t, uint64(0), p.Refusals)
}

func TestConcurrentApprovalsExecuteOnce(t *testing.T) {
	const n = 20
	e, owners, executor, _ := newTestEngine(t, n, 60)
	required := e.Threshold()

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted uint64 = 1
		late     int
	)
	for _, owner := range owners[1:] {
		wg.Add(1)
		go func(owner common.Address) {
			defer wg.Done()
			err := e.Approve(ctx, owner, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrAlreadyExecuted), errors.Is(err, ErrExecutionInProgress):
				late++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(owner)
	}
	wg.Wait()

	assert.Equal(t, 1, executor.count())
	assert.Equal(t, n, int(accepted)+late)

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Executed())
	assert.Equal(t, accepted, p.Approvals)
	assert.Equal(t, required, p.Approvals)
	assert.Len(t, p.Approvers(), int(p.Approvals))
}

func TestApprovalOrderDoesNotMatter(t *testing.T) {
	orders := [][]int{
		{1, 2, 3, 4},
		{4, 3, 2, 1},
		{2, 4, 1, 3},
	}
	for _, order := range orders {
		e, owners, executor, _ := newTestEngine(t, 5, 60)
		id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
		require.Nil(t, err)

		for _, i := range order {
			err := e.Approve(ctx, owners[i], id)
			if err != nil {
				assert.True(t, errors.Is(err, ErrAlreadyExecuted))
			}
		}
		assert.Equal(t, 1, executor.count(), "order %v", order)
	}
}

func TestPanickingExecutorReleasesProposal(t *testing.T) {
	e, owners, executor, _ := newTestEngine(t, 2, 50)
	executor.hook = func() { panic("executor crashed") }

	id, err := e.Submit(ctx, owners[0], target, big.NewInt(1), nil)
	require.Nil(t, err)
	assert.Panics(t, func() { _ = e.Approve(ctx, owners[1], id) })

	p, err := e.Transfer(id)
	require.Nil(t, err)
	assert.Equal(t, Pending, p.Status)

	executor.hook = nil
	require.Nil(t, e.Execute(ctx, owners[0], id))
	assert.Equal(t, 2, executor.count())

	p, err = e.Transfer(id)
	require.Nil(t, err)
	assert.True(t, p.Executed())
}
