package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dictate/internal/domain"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	first := testSession("20240101T000000Z")
	_, ok, err := store.TryAcquire(ctx, first)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	_, ok, err = store.TryAcquire(ctx, testSession("20240101T000001Z"))
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to be refused while the lock is held")
	}

	current, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if current.ID != first.ID || current.Nonce != first.Nonce {
		t.Fatalf("unexpected holder: %+v", current)
	}
}

func TestTryAcquireConcurrentCallersGetOneLock(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(domain.SessionIDLayout)
			_, ok, err := store.TryAcquire(ctx, testSession(id))
			if err != nil {
				t.Errorf("acquire %d failed: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly one winner, got %d", acquired)
	}
}

func TestReleaseIsIdempotentAndScoped(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	session := testSession("20240101T000000Z")

	if _, _, err := store.TryAcquire(ctx, session); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := store.Release(ctx, "someone-else"); err != nil {
		t.Fatalf("release of foreign id failed: %v", err)
	}
	if held, _ := store.IsHeld(ctx); !held {
		t.Fatalf("foreign release must not drop the lock")
	}

	for i := 0; i < 2; i++ {
		if err := store.Release(ctx, session.ID); err != nil {
			t.Fatalf("release %d failed: %v", i, err)
		}
	}
	if held, _ := store.IsHeld(ctx); held {
		t.Fatalf("expected lock to be released")
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected recording session to be forgotten, got %+v", sessions)
	}
}

func TestCurrentWithoutLock(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if _, err := store.Current(context.Background()); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestTypedSettersRequireHolder(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	session := testSession("20240101T000000Z")
	if _, _, err := store.TryAcquire(ctx, session); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := store.SetRecorderPID(ctx, session.ID, 101); err != nil {
		t.Fatalf("set recorder pid failed: %v", err)
	}
	if err := store.SetWatchdogPID(ctx, session.ID, 202); err != nil {
		t.Fatalf("set watchdog pid failed: %v", err)
	}
	if err := store.SetAudioPath(ctx, session.ID, "/tmp/a.wav"); err != nil {
		t.Fatalf("set audio path failed: %v", err)
	}
	if err := store.SetRecorderPID(ctx, "other", 1); !errors.Is(err, domain.ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}

	current, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if current.RecorderPID != 101 || current.WatchdogPID != 202 || current.AudioPath != "/tmp/a.wav" {
		t.Fatalf("unexpected session: %+v", current)
	}
}

func TestBeginProcessingReleasesLockAndKeepsRecord(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	session := testSession("20240101T000000Z")
	session.RecorderPID = 10
	session.WatchdogPID = 11
	if _, _, err := store.TryAcquire(ctx, session); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	stoppedAt := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	processing, err := store.BeginProcessing(ctx, session.ID, domain.StopTriggerWatchdog, 77, stoppedAt)
	if err != nil {
		t.Fatalf("begin processing failed: %v", err)
	}
	if processing.State != domain.SessionStateProcessing || processing.RecorderPID != 0 || processing.WatchdogPID != 0 {
		t.Fatalf("unexpected processing session: %+v", processing)
	}
	if processing.OwnerPID != 77 || processing.Trigger != domain.StopTriggerWatchdog || !processing.StoppedAt.Equal(stoppedAt) {
		t.Fatalf("unexpected ownership fields: %+v", processing)
	}
	if held, _ := store.IsHeld(ctx); held {
		t.Fatalf("expected lock to be released")
	}

	if _, err := store.BeginProcessing(ctx, session.ID, domain.StopTriggerUser, 78, stoppedAt); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected a second stop to find no session, got %v", err)
	}

	// A new session can start while the previous one is still processing.
	_, ok, err := store.TryAcquire(ctx, testSession("20240101T000200Z"))
	if err != nil || !ok {
		t.Fatalf("expected acquire during processing, ok=%v err=%v", ok, err)
	}

	if err := store.Finish(ctx, session.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "20240101T000200Z" {
		t.Fatalf("unexpected sessions after finish: %+v", sessions)
	}
}

func TestTryAcquireSuffixesReusedID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	first := testSession("20240101T000000Z")
	acquired, _, err := store.TryAcquire(ctx, first)
	if err != nil || acquired.ID != first.ID {
		t.Fatalf("acquire failed: %+v err=%v", acquired, err)
	}
	if _, err := store.BeginProcessing(ctx, first.ID, domain.StopTriggerUser, 1, time.Now()); err != nil {
		t.Fatalf("begin processing failed: %v", err)
	}

	second := testSession("20240101T000000Z")
	second.Nonce = "second"
	acquired, ok, err := store.TryAcquire(ctx, second)
	if err != nil || !ok {
		t.Fatalf("lock is free, acquire must succeed: ok=%v err=%v", ok, err)
	}
	if acquired.ID != "20240101T000000Z-2" {
		t.Fatalf("expected suffixed id, got %s", acquired.ID)
	}
	current, err := store.Current(ctx)
	if err != nil || current.ID != acquired.ID || current.Nonce != "second" {
		t.Fatalf("unexpected current session %+v err=%v", current, err)
	}

	// A finished session leaves no record, but its id was still handed out.
	if _, err := store.BeginProcessing(ctx, acquired.ID, domain.StopTriggerUser, 1, time.Now()); err != nil {
		t.Fatalf("begin processing failed: %v", err)
	}
	if err := store.Finish(ctx, acquired.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	third := testSession("20240101T000000Z")
	third.Nonce = "third"
	if acquired, _, err = store.TryAcquire(ctx, third); err != nil || acquired.ID != "20240101T000000Z-3" {
		t.Fatalf("expected third id, got %+v err=%v", acquired, err)
	}
}

func TestTryAcquireRequiresNonce(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	session := testSession("20240101T000000Z")
	session.Nonce = ""
	if _, _, err := store.TryAcquire(context.Background(), session); err == nil {
		t.Fatalf("expected nonce error")
	}
	held, err := store.IsHeld(context.Background())
	if err != nil || held {
		t.Fatalf("lock must stay free, held=%v err=%v", held, err)
	}
}

func TestNextStatsTimestampIsMonotonic(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.NextStatsTimestamp(ctx, 1000)
	if err != nil || first != 1000 {
		t.Fatalf("unexpected first timestamp %d err=%v", first, err)
	}
	second, err := store.NextStatsTimestamp(ctx, 900)
	if err != nil || second != 1001 {
		t.Fatalf("expected clock step back to yield 1001, got %d err=%v", second, err)
	}
	third, err := store.NextStatsTimestamp(ctx, 5000)
	if err != nil || third != 5000 {
		t.Fatalf("unexpected third timestamp %d err=%v", third, err)
	}
}

func TestRecordOutcomeKeepsTotals(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	record := &domain.StatisticsRecord{WordCount: 12, DurationSec: 6}

	if _, err := store.RecordOutcome(ctx, true, record); err != nil {
		t.Fatalf("record success failed: %v", err)
	}
	totals, err := store.RecordOutcome(ctx, false, nil)
	if err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	if totals.Completed != 1 || totals.Failed != 1 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if totals.Last == nil || totals.Last.WordCount != 12 {
		t.Fatalf("expected last record to survive a failure, got %+v", totals.Last)
	}
}

func TestNotificationIDRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if id, err := store.NotificationID(ctx); err != nil || id != 0 {
		t.Fatalf("expected empty handle, got %d err=%v", id, err)
	}
	if err := store.SetNotificationID(ctx, 42); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.ClearNotificationID(ctx, 7); err != nil {
		t.Fatalf("clear of stale id failed: %v", err)
	}
	if id, _ := store.NotificationID(ctx); id != 42 {
		t.Fatalf("stale clear must not drop the current handle, got %d", id)
	}
	if err := store.ClearNotificationID(ctx, 42); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if id, _ := store.NotificationID(ctx); id != 0 {
		t.Fatalf("expected cleared handle, got %d", id)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func testSession(id string) domain.Session {
	return domain.Session{
		ID:        id,
		Nonce:     "nonce-" + id,
		State:     domain.SessionStateRecording,
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
