package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/outbox"
	"github.com/rental-marketplace/backend/internal/repositories"
)

var (
	errGatewayDown = errors.New("gateway unavailable")
	errStoreDown   = errors.New("store write failed")
)

// faults fails the next n writes of the store it is embedded in.
type faults struct {
	mu sync.Mutex
	n  int
}

func (f *faults) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n = n
}

func (f *faults) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n > 0 {
		f.n--
		return errStoreDown
	}
	return nil
}

type faultyEngagementStore struct {
	*repositories.MemoryEngagementRepo
	faults
}

func (s *faultyEngagementStore) Update(ctx context.Context, e *models.Engagement) error {
	if err := s.take(); err != nil {
		return err
	}
	return s.MemoryEngagementRepo.Update(ctx, e)
}

type faultySearchJobStore struct {
	*repositories.MemorySearchJobRepo
	faults
}

func (s *faultySearchJobStore) Update(ctx context.Context, j *models.SearchJob) error {
	if err := s.take(); err != nil {
		return err
	}
	return s.MemorySearchJobRepo.Update(ctx, j)
}

type faultyEscrowStore struct {
	*repositories.MemoryEscrowRepo
	faults
}

func (s *faultyEscrowStore) Append(ctx context.Context, tx *models.EscrowTransaction) error {
	if err := s.take(); err != nil {
		return err
	}
	return s.MemoryEscrowRepo.Append(ctx, tx)
}

type gatewayCall struct {
	op       string
	escrowID uuid.UUID
	amount   models.Money
	party    uuid.UUID
}

// fakeGateway records every call and fails the next `failures` calls.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []gatewayCall
	failures int
}

func (g *fakeGateway) do(op string, escrowID uuid.UUID, amount models.Money, party uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures > 0 {
		g.failures--
		return errGatewayDown
	}
	g.calls = append(g.calls, gatewayCall{op: op, escrowID: escrowID, amount: amount, party: party})
	return nil
}

func (g *fakeGateway) InitiateHold(_ context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error {
	return g.do("hold", escrowID, amount, payerID)
}

func (g *fakeGateway) Disburse(_ context.Context, escrowID uuid.UUID, amount models.Money, payeeID uuid.UUID) error {
	return g.do("disburse", escrowID, amount, payeeID)
}

func (g *fakeGateway) Refund(_ context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error {
	return g.do("refund", escrowID, amount, payerID)
}

func (g *fakeGateway) failNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = n
}

func (g *fakeGateway) ops(escrowID uuid.UUID) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.escrowID == escrowID {
			out = append(out, c)
		}
	}
	return out
}

type fakeBooking struct {
	mu       sync.Mutex
	requests []models.BookingRequest
	failures int
}

func (b *fakeBooking) Materialize(_ context.Context, req models.BookingRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return "", errors.New("booking service unavailable")
	}
	b.requests = append(b.requests, req)
	return "bk-" + req.EngagementID.String()[:8], nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock   *testClock
	gateway *fakeGateway
	booking *fakeBooking
	queue   *outbox.MemoryQueue
	pub     *events.MemoryPublisher
	audit   *repositories.MemoryAuditRepo

	engagementStore *faultyEngagementStore
	jobStore        *faultySearchJobStore
	escrowStore     *faultyEscrowStore

	effects     *EffectDispatcher
	ledger      *LedgerService
	engagements *EngagementService
	jobs        *SearchJobService
	deadlines   *DeadlineService
	arbitration *ArbitrationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	env := &testEnv{
		clock:   &testClock{now: time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)},
		gateway: &fakeGateway{},
		booking: &fakeBooking{},
		queue:   outbox.NewMemoryQueue(),
		pub:     events.NewMemoryPublisher(),
		audit:   repositories.NewMemoryAuditRepo(),

		engagementStore: &faultyEngagementStore{MemoryEngagementRepo: repositories.NewMemoryEngagementRepo()},
		jobStore:        &faultySearchJobStore{MemorySearchJobRepo: repositories.NewMemorySearchJobRepo()},
		escrowStore:     &faultyEscrowStore{MemoryEscrowRepo: repositories.NewMemoryEscrowRepo()},
	}
	locker := lock.NewLocalLocker()
	jobStore := env.jobStore

	env.effects = NewEffectDispatcher(env.gateway, env.booking, env.queue, env.pub, log)
	env.ledger = NewLedgerService(env.escrowStore, repositories.NewMemoryTxManager(), locker, env.effects, env.pub, log)
	env.engagements = NewEngagementService(env.engagementStore, env.ledger, env.effects, locker, env.audit, env.pub, log)
	env.jobs = NewSearchJobService(jobStore, env.ledger, models.DefaultTiers(), locker, env.audit, env.pub, log)
	env.deadlines = NewDeadlineService(jobStore, env.jobs, locker, env.audit, env.pub, log)
	env.arbitration = NewArbitrationService(jobStore, env.ledger, locker, env.audit, env.pub, log)

	now := env.clock.Now
	env.effects.now = now
	env.ledger.now = now
	env.engagements.now = now
	env.jobs.jobs.now = now
	env.deadlines.jobs.now = now
	env.arbitration.jobs.now = now
	return env
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func (env *testEnv) balance(t *testing.T, id uuid.UUID) models.EscrowBalance {
	t.Helper()
	b, err := env.ledger.Balance(context.Background(), id)
	mustNoErr(t, err)
	return b
}

func (env *testEnv) kinds(t *testing.T, id uuid.UUID) []models.EscrowTxKind {
	t.Helper()
	txs, err := env.ledger.Transactions(context.Background(), id)
	mustNoErr(t, err)
	out := make([]models.EscrowTxKind, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Kind)
	}
	return out
}
