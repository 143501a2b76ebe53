package repositories

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/models"
)

// testPool is nil when the integration database could not be started.
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, pool, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres integration tests disabled: %v\n", err)
		os.Exit(m.Run())
	}
	testPool = pool
	code := m.Run()
	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, *pgxpool.Pool, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rental"),
		postgres.WithUsername("rental"),
		postgres.WithPassword("rental"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("resolve connection string: %w", err)
	}
	pool, err := db.NewPostgresPool(ctx, dsn, zap.NewNop())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, os.DirFS("../../migrations"), zap.NewNop()); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return container, pool, nil
}

func requirePostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	if testPool == nil {
		t.Skip("postgres container unavailable")
	}
	return testPool
}

// pgNow is a timestamp at the precision postgres keeps.
func pgNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestEscrowRepoEnforcesSingleHoldAndSettlement(t *testing.T) {
	pool := requirePostgres(t)
	ctx := context.Background()
	repo := NewEscrowRepo(pool)
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()

	hold := &models.EscrowTransaction{ID: uuid.New(), EscrowID: escrowID, Kind: models.EscrowHold, Amount: 10000, CounterpartyID: tenant, CreatedAt: pgNow()}
	if err := repo.Append(ctx, hold); err != nil {
		t.Fatalf("append hold: %v", err)
	}
	second := *hold
	second.ID = uuid.New()
	if err := repo.Append(ctx, &second); !errors.Is(err, models.ErrDuplicateHold) {
		t.Fatalf("second hold error = %v", err)
	}

	split := &models.EscrowTransaction{
		ID: uuid.New(), EscrowID: escrowID, Kind: models.EscrowSplit, Amount: 10000, CreatedAt: pgNow(),
		Legs: []models.EscrowLeg{{PayeeID: hunter, Amount: 6000}, {PayeeID: tenant, Amount: 4000}},
	}
	if err := repo.Append(ctx, split); err != nil {
		t.Fatalf("append split: %v", err)
	}
	refund := &models.EscrowTransaction{ID: uuid.New(), EscrowID: escrowID, Kind: models.EscrowRefund, Amount: 10000, CounterpartyID: tenant, CreatedAt: pgNow()}
	if err := repo.Append(ctx, refund); !errors.Is(err, models.ErrAlreadySettled) {
		t.Fatalf("second settlement error = %v", err)
	}

	txs, err := repo.ListByEscrow(ctx, escrowID)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].Kind != models.EscrowHold || txs[1].Kind != models.EscrowSplit {
		t.Fatalf("transactions = %+v", txs)
	}
	if len(txs[1].Legs) != 2 || txs[1].Legs[0].Amount != 6000 || txs[1].Legs[1].PayeeID != tenant {
		t.Errorf("legs = %+v", txs[1].Legs)
	}
	if b := models.SummarizeEscrow(escrowID, txs); !b.Settled || b.Remaining != 0 {
		t.Errorf("balance = %+v", b)
	}
}

func TestEngagementRepoOptimisticUpdate(t *testing.T) {
	pool := requirePostgres(t)
	ctx := context.Background()
	repo := NewEngagementRepo(pool)
	now := pgNow()

	e := &models.Engagement{
		ID:            uuid.New(),
		PropertyID:    uuid.New(),
		TenantID:      uuid.New(),
		HunterID:      uuid.New(),
		Status:        models.EngagementPending,
		ProposedSlots: []models.Slot{{Date: "2025-02-01", TimeSlot: "10:00"}},
		PaymentState:  models.PaymentEscrow,
		Amount:        2500,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.LastActorID = e.TenantID
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := repo.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	stale, _ := repo.GetByID(ctx, e.ID)

	first.Status = models.EngagementCountered
	first.LastActorID = first.HunterID
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.Status = models.EngagementRejected
	if err := repo.Update(ctx, stale); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale update error = %v", err)
	}

	got, _ := repo.GetByID(ctx, e.ID)
	if got.Status != models.EngagementCountered || got.Version != first.Version || len(got.ProposedSlots) != 1 {
		t.Errorf("stored engagement = %+v", got)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing engagement error = %v", err)
	}
}

func TestSearchJobRepoQueues(t *testing.T) {
	pool := requirePostgres(t)
	ctx := context.Background()
	repo := NewSearchJobRepo(pool)
	now := pgNow()

	newJob := func(deadline time.Time, disputed bool) *models.SearchJob {
		hunter := uuid.New()
		claimed := deadline.Add(-48 * time.Hour)
		j := &models.SearchJob{
			ID:                  uuid.New(),
			TenantID:            uuid.New(),
			Requirements:        models.Requirements{Areas: []string{"Westlands"}, BudgetMin: 1, BudgetMax: 2},
			Tier:                models.TierUrgent,
			NumberOfOptions:     3,
			Status:              models.JobDraft,
			DepositAmount:       15000,
			Bids:                []models.Bid{},
			TimeframeExtensions: []models.TimeframeExtension{},
			UploadedEvidence:    []models.Evidence{},
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := repo.Create(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
		j.Status = models.JobInProgress
		j.DepositPaid = true
		j.ClaimedBy = &hunter
		j.ClaimedAt = &claimed
		j.Deadline = &deadline
		if disputed {
			reason := "wrong area"
			j.Status = models.JobPendingReview
			j.DisputeReason = &reason
			j.RefundRequestedAt = &now
		}
		if err := repo.Update(ctx, j); err != nil {
			t.Fatalf("update: %v", err)
		}
		return j
	}

	overdue := newJob(now.Add(-time.Hour), false)
	disputed := newJob(now.Add(-time.Hour), true)
	running := newJob(now.Add(time.Hour), false)

	due, err := repo.ListOverdue(ctx, now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !containsJob(due, overdue.ID) || containsJob(due, disputed.ID) || containsJob(due, running.ID) {
		t.Errorf("overdue queue = %v", jobIDs(due))
	}

	queue, err := repo.ListDisputed(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !containsJob(queue, disputed.ID) || containsJob(queue, overdue.ID) {
		t.Errorf("dispute queue = %v", jobIDs(queue))
	}

	got, err := repo.GetByID(ctx, disputed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != *disputed.ClaimedBy || got.Requirements.Areas[0] != "Westlands" {
		t.Errorf("stored job = %+v", got)
	}
}

func containsJob(jobs []models.SearchJob, id uuid.UUID) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

func jobIDs(jobs []models.SearchJob) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestAuditRepoRoundTrip(t *testing.T) {
	pool := requirePostgres(t)
	ctx := context.Background()
	repo := NewAuditRepo(pool)
	actor, entity := uuid.New(), uuid.New()

	for _, action := range []string{"search_job_submitted", "search_job_deposit_paid"} {
		err := repo.Log(ctx, models.AuditLog{
			ActorID:    &actor,
			ActorType:  models.ActorTypeUser,
			Action:     action,
			EntityType: "search_job",
			EntityID:   &entity,
			Meta:       map[string]any{"status": "DRAFT"},
		})
		if err != nil {
			t.Fatalf("log %s: %v", action, err)
		}
	}

	entries, err := repo.GetByEntity(ctx, "search_job", entity, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ActorID == nil || *e.ActorID != actor {
			t.Errorf("entry actor = %v", e.ActorID)
		}
	}
}

func TestTxManagerRollsBackEntityWithLedger(t *testing.T) {
	pool := requirePostgres(t)
	ctx := context.Background()
	engagements, escrow, txs := NewEngagementRepo(pool), NewEscrowRepo(pool), NewTxManager(pool)
	now := pgNow()

	e := &models.Engagement{
		ID:            uuid.New(),
		PropertyID:    uuid.New(),
		TenantID:      uuid.New(),
		HunterID:      uuid.New(),
		Status:        models.EngagementPending,
		ProposedSlots: []models.Slot{{Date: "2025-02-01", TimeSlot: "10:00"}},
		PaymentState:  models.PaymentEscrow,
		Amount:        2500,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.LastActorID = e.TenantID
	hold := &models.EscrowTransaction{ID: uuid.New(), EscrowID: e.ID, Kind: models.EscrowHold, Amount: 2500, CounterpartyID: e.TenantID, CreatedAt: now}
	err := txs.InTx(ctx, func(ctx context.Context) error {
		if err := engagements.Create(ctx, e); err != nil {
			return err
		}
		return escrow.Append(ctx, hold)
	})
	if err != nil {
		t.Fatalf("create with hold: %v", err)
	}

	loaded, err := engagements.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	dup := *hold
	dup.ID = uuid.New()
	err = txs.InTx(ctx, func(ctx context.Context) error {
		loaded.Status = models.EngagementAccepted
		loaded.PaymentState = models.PaymentReleased
		if err := engagements.Update(ctx, loaded); err != nil {
			return err
		}
		return escrow.Append(ctx, &dup)
	})
	if !errors.Is(err, models.ErrDuplicateHold) {
		t.Fatalf("tx error = %v", err)
	}

	got, err := engagements.GetByID(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.EngagementPending || got.PaymentState != models.PaymentEscrow || got.Version != e.Version {
		t.Errorf("engagement after rollback = %+v", got)
	}
	rows, err := escrow.ListByEscrow(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("ledger after rollback = %+v", rows)
	}
}
