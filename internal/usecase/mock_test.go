//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// -----------------------------
// Execution plumbing
// -----------------------------

// inlineDispatcher runs every submitted task synchronously on the calling
// goroutine, which makes lifecycle operations deterministic in tests.
type inlineDispatcher struct {
	SubmitFunc func(key string, task func(ctx context.Context)) error
}

func (d *inlineDispatcher) Submit(key string, task func(ctx context.Context)) error {
	if d.SubmitFunc != nil {
		return d.SubmitFunc(key, task)
	}
	task(context.Background())
	return nil
}

// serialDispatcher runs tasks FIFO on one goroutine per key, mirroring the
// production keyed executor.
type serialDispatcher struct {
	mu     sync.Mutex
	queues map[string]chan func(ctx context.Context)
}

func newSerialDispatcher() *serialDispatcher {
	return &serialDispatcher{queues: make(map[string]chan func(ctx context.Context))}
}

func (d *serialDispatcher) Submit(key string, task func(ctx context.Context)) error {
	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = make(chan func(ctx context.Context), 64)
		d.queues[key] = q
		go func() {
			for t := range q {
				t(context.Background())
			}
		}()
	}
	d.mu.Unlock()
	q <- task
	return nil
}

// captureBus records published events and finished context ids.
type captureBus struct {
	mu       sync.Mutex
	events   []*model.JobEvent
	finished []string
}

func (b *captureBus) Publish(e *model.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *captureBus) Finished(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = append(b.finished, contextID)
}

func (b *captureBus) EventTypes() []model.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func (b *captureBus) FinishedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.finished...)
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// =============================
// Repositories
// =============================

// ---- Mock TaskJobRepository ----

type MockTaskJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.TaskJob

	SaveFunc     func(ctx context.Context, tx repository.Tx, job *model.TaskJob) error
	UpdateFunc   func(ctx context.Context, tx repository.Tx, job *model.TaskJob) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.TaskJob, error)
}

func NewMockTaskJobRepo() *MockTaskJobRepo {
	return &MockTaskJobRepo{jobs: make(map[string]*model.TaskJob)}
}

func cloneJob(j *model.TaskJob) *model.TaskJob {
	c := *j
	return &c
}

func (m *MockTaskJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.TaskJob) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MockTaskJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.TaskJob) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MockTaskJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.TaskJob, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MockTaskJobRepo) ListDisputedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.TaskJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TaskJob
	for _, j := range m.jobs {
		if j.State == model.JobStateDisputed && j.Arbitration == nil && j.UpdatedAt.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (m *MockTaskJobRepo) CountByState(ctx context.Context) (map[model.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.JobState]int)
	for _, j := range m.jobs {
		out[j.State]++
	}
	return out, nil
}

// ---- Mock EventRepository ----

type MockEventRepo struct {
	mu     sync.Mutex
	events []*model.JobEvent

	AppendFunc func(ctx context.Context, tx repository.Tx, e *model.JobEvent) error
}

func NewMockEventRepo() *MockEventRepo { return &MockEventRepo{} }

func (m *MockEventRepo) Append(ctx context.Context, tx repository.Tx, e *model.JobEvent) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MockEventRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.JobEvent
	for _, e := range m.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- Mock NegotiationRepository ----

type MockNegotiationRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.NegotiationSession
	bids     map[string][]model.Bid

	SaveSessionFunc   func(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error
	UpdateSessionFunc func(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error
	SaveBidFunc       func(ctx context.Context, tx repository.Tx, b *model.Bid) error

	UpdateCalls int
}

func NewMockNegotiationRepo() *MockNegotiationRepo {
	return &MockNegotiationRepo{
		sessions: make(map[string]*model.NegotiationSession),
		bids:     make(map[string][]model.Bid),
	}
}

func (m *MockNegotiationRepo) SaveSession(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error {
	if m.SaveSessionFunc != nil {
		return m.SaveSessionFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.ID] = &c
	return nil
}

func (m *MockNegotiationRepo) UpdateSession(ctx context.Context, tx repository.Tx, s *model.NegotiationSession) error {
	m.mu.Lock()
	m.UpdateCalls++
	m.mu.Unlock()
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.ID] = &c
	return nil
}

func (m *MockNegotiationRepo) FindActiveByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.NegotiationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.JobID == jobID && !s.Closed {
			c := *s
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNegotiationRepo) SaveBid(ctx context.Context, tx repository.Tx, b *model.Bid) error {
	if m.SaveBidFunc != nil {
		return m.SaveBidFunc(ctx, tx, b)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[b.SessionID] = append(m.bids[b.SessionID], *b)
	return nil
}

func (m *MockNegotiationRepo) ListBids(ctx context.Context, tx repository.Tx, sessionID string) ([]model.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Bid(nil), m.bids[sessionID]...), nil
}

// ---- Mock EscrowRepository ----

type MockEscrowRepo struct {
	mu      sync.Mutex
	escrows map[string]*model.Escrow // keyed by ref

	SaveFunc func(ctx context.Context, tx repository.Tx, e *model.Escrow) error
}

func NewMockEscrowRepo() *MockEscrowRepo {
	return &MockEscrowRepo{escrows: make(map[string]*model.Escrow)}
}

func (m *MockEscrowRepo) Save(ctx context.Context, tx repository.Tx, e *model.Escrow) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.escrows[e.Ref] = &c
	return nil
}

func (m *MockEscrowRepo) Update(ctx context.Context, tx repository.Tx, e *model.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.Ref]; !ok {
		return domain.ErrNotFound
	}
	c := *e
	m.escrows[e.Ref] = &c
	return nil
}

func (m *MockEscrowRepo) FindByRef(ctx context.Context, tx repository.Tx, ref string) (*model.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *MockEscrowRepo) FindByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.escrows {
		if e.JobID == jobID {
			c := *e
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// =============================
// Adapters
// =============================

// ---- Mock LedgerClient ----

type MockLedger struct {
	mu  sync.Mutex
	seq int

	LockCalls    int
	ConfirmCalls int
	ReleaseCalls int
	RevertCalls  int

	LockFunc    func(ctx context.Context, amountMicros int64, payerID string) (string, string, error)
	ConfirmFunc func(ctx context.Context, ref, proof string) (string, error)
	ReleaseFunc func(ctx context.Context, ref, payeeID string) (string, error)
	RevertFunc  func(ctx context.Context, ref string) (string, error)
}

func NewMockLedger() *MockLedger { return &MockLedger{} }

func (m *MockLedger) Name() string { return "mock" }

func (m *MockLedger) next(counter *int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
	m.seq++
	return fmt.Sprintf("tx-%d", m.seq)
}

func (m *MockLedger) Lock(ctx context.Context, amountMicros int64, payerID string) (string, string, error) {
	if m.LockFunc != nil {
		m.mu.Lock()
		m.LockCalls++
		m.mu.Unlock()
		return m.LockFunc(ctx, amountMicros, payerID)
	}
	tx := m.next(&m.LockCalls)
	return "esc-" + tx, tx, nil
}

func (m *MockLedger) Confirm(ctx context.Context, ref, proof string) (string, error) {
	if m.ConfirmFunc != nil {
		m.mu.Lock()
		m.ConfirmCalls++
		m.mu.Unlock()
		return m.ConfirmFunc(ctx, ref, proof)
	}
	return m.next(&m.ConfirmCalls), nil
}

func (m *MockLedger) Release(ctx context.Context, ref, payeeID string) (string, error) {
	if m.ReleaseFunc != nil {
		m.mu.Lock()
		m.ReleaseCalls++
		m.mu.Unlock()
		return m.ReleaseFunc(ctx, ref, payeeID)
	}
	return m.next(&m.ReleaseCalls), nil
}

func (m *MockLedger) Revert(ctx context.Context, ref string) (string, error) {
	if m.RevertFunc != nil {
		m.mu.Lock()
		m.RevertCalls++
		m.mu.Unlock()
		return m.RevertFunc(ctx, ref)
	}
	return m.next(&m.RevertCalls), nil
}

// ---- Mock SpecialistDirectory ----

type MockDirectory struct {
	Specialists []model.Specialist
	QueryFunc   func(ctx context.Context, dimensions []string) ([]model.Specialist, error)
}

func (m *MockDirectory) Query(ctx context.Context, dimensions []string) ([]model.Specialist, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, dimensions)
	}
	return m.Specialists, nil
}

// ---- Mock OutcomeVerifier ----

type MockVerifier struct {
	name       string
	VerifyFunc func(ctx context.Context, jobID, evidenceRef string) (bool, error)
}

func (m *MockVerifier) Name() string { return m.name }

func (m *MockVerifier) Verify(ctx context.Context, jobID, evidenceRef string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, jobID, evidenceRef)
	}
	return true, nil
}
