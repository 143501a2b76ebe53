package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rental-marketplace/backend/internal/models"
)

func TestRemainingFractionAndClassify(t *testing.T) {
	claimed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	deadline := claimed.Add(100 * time.Hour)
	j := &models.SearchJob{ClaimedAt: &claimed, Deadline: &deadline}

	tests := []struct {
		name     string
		at       time.Time
		fraction float64
		urgency  Urgency
	}{
		{"before claim", claimed.Add(-time.Hour), 1, UrgencyNormal},
		{"just claimed", claimed, 1, UrgencyNormal},
		{"half way", claimed.Add(50 * time.Hour), 0.5, UrgencyNormal},
		{"forty percent left", claimed.Add(60 * time.Hour), 0.4, UrgencyNormal},
		{"warning", claimed.Add(61 * time.Hour), 0.39, UrgencyWarning},
		{"urgent", claimed.Add(81 * time.Hour), 0.19, UrgencyUrgent},
		{"at deadline", deadline, 0, UrgencyUrgent},
		{"past deadline", deadline.Add(time.Minute), 0, UrgencyExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingFraction(j, tt.at); math.Abs(got-tt.fraction) > 1e-9 {
				t.Errorf("RemainingFraction = %v, want %v", got, tt.fraction)
			}
			if got := Classify(j, tt.at); got != tt.urgency {
				t.Errorf("Classify = %s, want %s", got, tt.urgency)
			}
		})
	}

	if got := RemainingFraction(&models.SearchJob{}, claimed); got != 1 {
		t.Errorf("unclaimed fraction = %v, want 1", got)
	}
}

func TestExtensionApprovePushesDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)
	original := *j.Deadline

	_, _, err := env.deadlines.RequestExtension(ctx, j.ID, tenant, 24, "more viewings")
	wantErr(t, err, models.ErrForbidden)
	_, _, err = env.deadlines.RequestExtension(ctx, j.ID, hunter, 0, "more viewings")
	wantErr(t, err, models.ErrValidation)

	_, ext, err := env.deadlines.RequestExtension(ctx, j.ID, hunter, 24, "landlord travelling")
	mustNoErr(t, err)
	if ext.Status != models.ExtensionPending {
		t.Fatalf("extension = %+v", ext)
	}
	_, _, err = env.deadlines.RequestExtension(ctx, j.ID, hunter, 12, "second request")
	wantErr(t, err, models.ErrInvalidState)

	_, err = env.deadlines.ResolveExtension(ctx, j.ID, ext.ID, hunter, true)
	wantErr(t, err, models.ErrForbidden)
	_, err = env.deadlines.ResolveExtension(ctx, j.ID, uuid.New(), tenant, true)
	wantErr(t, err, models.ErrExtensionNotFound)

	j, err = env.deadlines.ResolveExtension(ctx, j.ID, ext.ID, tenant, true)
	mustNoErr(t, err)
	if want := original.Add(24 * time.Hour); !j.Deadline.Equal(want) {
		t.Errorf("deadline = %s, want %s", j.Deadline, want)
	}
	if got := j.FindExtension(ext.ID); got.Status != models.ExtensionApproved || got.ResolvedAt == nil {
		t.Errorf("resolved extension = %+v", got)
	}

	_, err = env.deadlines.ResolveExtension(ctx, j.ID, ext.ID, tenant, false)
	wantErr(t, err, models.ErrInvalidState)
}

func TestExtensionRejectKeepsDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)
	original := *j.Deadline

	_, ext, err := env.deadlines.RequestExtension(ctx, j.ID, hunter, 48, "few listings")
	mustNoErr(t, err)
	j, err = env.deadlines.ResolveExtension(ctx, j.ID, ext.ID, tenant, false)
	mustNoErr(t, err)
	if !j.Deadline.Equal(original) || j.FindExtension(ext.ID).Status != models.ExtensionRejected {
		t.Errorf("job after rejection = %+v", j)
	}

	// A fresh request is allowed once the previous one is resolved.
	_, _, err = env.deadlines.RequestExtension(ctx, j.ID, hunter, 12, "one more day")
	mustNoErr(t, err)
}

func TestExtensionAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)

	_, ext, err := env.deadlines.RequestExtension(ctx, j.ID, hunter, 24, "slow agent")
	mustNoErr(t, err)

	env.clock.Advance(121 * time.Hour)
	_, _, err = env.deadlines.RequestExtension(ctx, j.ID, hunter, 24, "too late")
	wantErr(t, err, models.ErrDeadlinePassed)
	_, err = env.deadlines.ResolveExtension(ctx, j.ID, ext.ID, tenant, true)
	wantErr(t, err, models.ErrDeadlinePassed)
}

func TestSweepForfeitsOverdueJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tenant := uuid.New()
	overdue := env.claimedJob(t, tenant, uuid.New())
	_, pending, err := env.deadlines.RequestExtension(ctx, overdue.ID, *overdue.ClaimedBy, 24, "waiting on landlord")
	mustNoErr(t, err)

	disputed := env.claimedJob(t, uuid.New(), uuid.New())
	_, err = env.jobs.SubmitEvidence(ctx, disputed.ID, *disputed.ClaimedBy, evidence(3))
	mustNoErr(t, err)
	_, err = env.jobs.RaiseDispute(ctx, disputed.ID, disputed.TenantID, "not what was asked")
	mustNoErr(t, err)

	env.clock.Advance(time.Hour)
	fresh := env.claimedJob(t, uuid.New(), uuid.New())

	n, err := env.deadlines.Sweep(ctx, overdue.Deadline.Add(time.Minute))
	mustNoErr(t, err)
	if n != 1 {
		t.Fatalf("forfeited %d jobs, want 1", n)
	}

	got, _ := env.jobs.Get(ctx, overdue.ID)
	if got.Status != models.JobForfeited {
		t.Errorf("overdue job status = %s", got.Status)
	}
	if ext := got.FindExtension(pending.ID); ext.Status != models.ExtensionRejected {
		t.Errorf("pending extension = %s, want rejected", ext.Status)
	}
	if b := env.balance(t, overdue.ID); !b.Settled || b.SettledBy != models.EscrowRefund {
		t.Errorf("overdue escrow = %+v", b)
	}
	for _, id := range []uuid.UUID{disputed.ID, fresh.ID} {
		j, _ := env.jobs.Get(ctx, id)
		if j.Status == models.JobForfeited {
			t.Errorf("job %s was forfeited", id)
		}
	}

	n, err = env.deadlines.Sweep(ctx, overdue.Deadline.Add(time.Minute))
	mustNoErr(t, err)
	if n != 0 {
		t.Errorf("second sweep forfeited %d jobs", n)
	}
}
