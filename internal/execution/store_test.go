package execution_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"convertd/internal/execution"
	"convertd/internal/testsupport"
)

func openWithClock(t *testing.T) (*execution.Store, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return testsupport.MustOpenStore(t, cfg, execution.WithClock(clock.Now)), clock
}

func assertInvariants(t *testing.T, rec *execution.Record) {
	t.Helper()
	if (rec.Status == execution.StatusCompleted) != (rec.OutputRef != "") {
		t.Fatalf("output_ref invariant violated: status=%s output_ref=%q", rec.Status, rec.OutputRef)
	}
	if (rec.Status == execution.StatusFailed) != (rec.ErrorMessage != "") {
		t.Fatalf("error_message invariant violated: status=%s error_message=%q", rec.Status, rec.ErrorMessage)
	}
}

func TestCreateAndGet(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()

	rec := testsupport.NewRecord(t, store)
	fetched, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != execution.StatusPending {
		t.Fatalf("expected pending, got %s", fetched.Status)
	}
	if fetched.AttemptCount != 0 {
		t.Fatalf("expected zero attempts, got %d", fetched.AttemptCount)
	}
	if fetched.Parameters["speed_multiplier"] != "2" {
		t.Fatalf("parameters not persisted: %v", fetched.Parameters)
	}
	if fetched.Lease != 10*time.Minute || fetched.MaxAttempts != 3 {
		t.Fatalf("unexpected lease/attempts: %s/%d", fetched.Lease, fetched.MaxAttempts)
	}
	assertInvariants(t, fetched)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, execution.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsIncompleteRecords(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()
	if err := store.Create(ctx, &execution.Record{ID: "x", ToolName: "gpx-speed"}); err == nil {
		t.Fatal("expected error without input_ref")
	}
	if err := store.Create(ctx, &execution.Record{ID: "x", ToolName: "gpx-speed", InputRef: "a/b", MaxAttempts: 0, Lease: time.Minute}); err == nil {
		t.Fatal("expected error without max_attempts")
	}
}

func TestClaimTransitionsAndCountsAttempts(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)

	claimed, err := store.Claim(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != execution.StatusProcessing || claimed.AttemptCount != 1 {
		t.Fatalf("unexpected claim result: %s attempt=%d", claimed.Status, claimed.AttemptCount)
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.Equal(clock.Now().Add(10*time.Minute)) {
		t.Fatalf("unexpected lease expiry: %v", claimed.LeaseExpiresAt)
	}

	// Live lease: duplicate claim is rejected without touching attempt_count.
	current, err := store.Claim(ctx, rec.ID)
	if !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed for live lease, got %v", err)
	}
	if current.AttemptCount != 1 {
		t.Fatalf("duplicate claim must not bump attempts, got %d", current.AttemptCount)
	}

	clock.Advance(10 * time.Minute)
	reclaimed, err := store.Claim(ctx, rec.ID)
	if err != nil {
		t.Fatalf("expected reclaim after lease expiry: %v", err)
	}
	if reclaimed.AttemptCount != 2 {
		t.Fatalf("expected attempt 2, got %d", reclaimed.AttemptCount)
	}

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, execution.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimStopsAtMaxAttempts(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, testsupport.WithAttempts(2), testsupport.WithLease(time.Minute))

	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := store.Claim(ctx, rec.ID); err != nil {
			t.Fatalf("claim %d failed: %v", attempt, err)
		}
		clock.Advance(time.Minute)
	}
	if _, err := store.Claim(ctx, rec.ID); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed once attempts are spent, got %v", err)
	}
}

func TestConcurrentClaimsAcceptExactlyOne(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, rec.ID); err == nil {
				winners.Add(1)
			} else if !errors.Is(err, execution.ErrNotClaimed) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners.Load())
	}
}

func TestTerminalTransitionsAreGuarded(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, testsupport.WithLease(time.Minute))

	first, err := store.Claim(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	second, err := store.Claim(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}

	// The superseded attempt can no longer complete, fail, or extend.
	if err := store.Complete(ctx, rec.ID, first.AttemptCount, "gpx-processed/x.gpx"); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("stale attempt completed: %v", err)
	}
	if err := store.ExtendLease(ctx, rec.ID, first.AttemptCount); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("stale attempt extended lease: %v", err)
	}

	if err := store.Complete(ctx, rec.ID, second.AttemptCount, "gpx-processed/"+rec.ID+".gpx"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	done, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if done.Status != execution.StatusCompleted || done.LeaseExpiresAt != nil {
		t.Fatalf("unexpected completed record: %+v", done)
	}
	assertInvariants(t, done)

	// Completed is absorbing.
	if err := store.Fail(ctx, rec.ID, second.AttemptCount, "execution", "late"); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("terminal record transitioned again: %v", err)
	}
	if _, err := store.Claim(ctx, rec.ID); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("terminal record reclaimed: %v", err)
	}
	after, _ := store.Get(ctx, rec.ID)
	if after.Status != execution.StatusCompleted {
		t.Fatalf("status regressed to %s", after.Status)
	}
}

func TestFailSetsKindAndMessage(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)
	claimed, err := store.Claim(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Fail(ctx, rec.ID, claimed.AttemptCount, "execution", "track has no timestamps"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	failed, _ := store.Get(ctx, rec.ID)
	if failed.ErrorKind != "execution" || failed.ErrorMessage != "track has no timestamps" {
		t.Fatalf("unexpected failure fields: %q %q", failed.ErrorKind, failed.ErrorMessage)
	}
	assertInvariants(t, failed)
}

func TestFailPendingOnlyAffectsUnclaimed(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()
	pending := testsupport.NewRecord(t, store)
	if err := store.FailPending(ctx, pending.ID, "transient_dispatch", ""); err != nil {
		t.Fatalf("FailPending failed: %v", err)
	}
	got, _ := store.Get(ctx, pending.ID)
	if got.Status != execution.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("expected failed with default message, got %+v", got)
	}

	claimed := testsupport.NewRecord(t, store)
	if _, err := store.Claim(ctx, claimed.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.FailPending(ctx, claimed.ID, "transient_dispatch", "x"); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed for processing record, got %v", err)
	}
}

func TestFailPendingAcceptsLapsedClaims(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, testsupport.WithLease(time.Minute))
	if _, err := store.Claim(ctx, rec.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if err := store.FailPending(ctx, rec.ID, "transient_dispatch", "could not reach a worker"); err != nil {
		t.Fatalf("FailPending on lapsed claim failed: %v", err)
	}
	got, _ := store.Get(ctx, rec.ID)
	if got.Status != execution.StatusFailed || got.LeaseExpiresAt != nil {
		t.Fatalf("expected failed without lease, got %+v", got)
	}
	assertInvariants(t, got)
}

func TestExpiredAndForceExpire(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	processing := testsupport.NewRecord(t, store, testsupport.WithLease(time.Minute))
	claimed, err := store.Claim(ctx, processing.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	stalePending := testsupport.NewRecord(t, store, testsupport.WithLease(time.Minute))
	_ = stalePending

	if err := store.ForceExpire(ctx, processing.ID, claimed.AttemptCount, "timeout", "timed out"); !errors.Is(err, execution.ErrNotClaimed) {
		t.Fatalf("live lease must not be force-expired: %v", err)
	}

	clock.Advance(90 * time.Second)
	fresh := testsupport.NewRecord(t, store, testsupport.WithLease(time.Minute))

	expired, err := store.Expired(ctx)
	if err != nil {
		t.Fatalf("Expired failed: %v", err)
	}
	ids := map[string]bool{}
	for _, rec := range expired {
		ids[rec.ID] = true
	}
	if !ids[processing.ID] || !ids[stalePending.ID] || ids[fresh.ID] {
		t.Fatalf("unexpected expired set: %v", ids)
	}

	if err := store.ForceExpire(ctx, processing.ID, claimed.AttemptCount, "timeout", "timed out"); err != nil {
		t.Fatalf("ForceExpire failed: %v", err)
	}
	got, _ := store.Get(ctx, processing.ID)
	if got.Status != execution.StatusFailed || got.ErrorKind != "timeout" {
		t.Fatalf("unexpected expired record: %+v", got)
	}
	assertInvariants(t, got)
}

func TestReapCandidatesAndDeleteIfReapable(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()

	done := testsupport.NewRecord(t, store)
	claimed, _ := store.Claim(ctx, done.ID)
	if err := store.Complete(ctx, done.ID, claimed.AttemptCount, "gpx-processed/"+done.ID+".gpx"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	pending := testsupport.NewRecord(t, store)

	clock.Advance(25 * time.Hour)
	candidates, cutoff, err := store.ReapCandidates(ctx, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("ReapCandidates failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != done.ID {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	deleted, err := store.DeleteIfReapable(ctx, pending.ID, cutoff)
	if err != nil || deleted {
		t.Fatalf("pending record must never be reaped: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.DeleteIfReapable(ctx, done.ID, cutoff)
	if err != nil || !deleted {
		t.Fatalf("expected terminal record reaped: deleted=%v err=%v", deleted, err)
	}
	if _, err := store.Get(ctx, done.ID); !errors.Is(err, execution.ErrNotFound) {
		t.Fatalf("expected reaped record gone, got %v", err)
	}
}

func TestDeleteReturnsRemovedRecord(t *testing.T) {
	store, _ := openWithClock(t)
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store)

	removed, err := store.Delete(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed == nil || removed.InputRef != rec.InputRef {
		t.Fatalf("unexpected removed record: %+v", removed)
	}
	again, err := store.Delete(ctx, rec.ID)
	if err != nil || again != nil {
		t.Fatalf("second delete should be a no-op: %+v %v", again, err)
	}
}

func TestListFiltersAndStats(t *testing.T) {
	store, clock := openWithClock(t)
	ctx := context.Background()
	a := testsupport.NewRecord(t, store, testsupport.WithOwner("alice"))
	clock.Advance(time.Second)
	testsupport.NewRecord(t, store, testsupport.WithOwner("bob"))
	if _, err := store.Claim(ctx, a.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	byOwner, err := store.List(ctx, execution.Filter{Owner: "alice"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].ID != a.ID {
		t.Fatalf("unexpected owner filter result: %+v", byOwner)
	}
	pending, err := store.List(ctx, execution.Filter{Statuses: []execution.Status{execution.StatusPending}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Owner != "bob" {
		t.Fatalf("unexpected status filter result: %+v", pending)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}

	db, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !db.DatabaseReadable || !db.TableExists || !db.IntegrityCheck || db.TotalRecords != 2 {
		t.Fatalf("unexpected database health: %+v", db)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := execution.ParseStatus(" Completed "); !ok || status != execution.StatusCompleted {
		t.Fatalf("unexpected parse: %v %v", status, ok)
	}
	if _, ok := execution.ParseStatus("ripping"); ok {
		t.Fatal("unknown status parsed")
	}
	if !execution.StatusFailed.IsTerminal() || execution.StatusProcessing.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}
