package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/repository"
)

func openTestStore(t *testing.T) *repository.UserStore {
	t.Helper()
	store, err := repository.OpenUserStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestSubscriptions(t *testing.T, store *repository.UserStore, clock *fakeClock) *SubscriptionService {
	t.Helper()
	svc := NewSubscriptionService(zap.NewNop(), store)
	svc.now = clock.Now
	return svc
}

func TestSubscriptionService_ActivateThenLapse(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	if err := svc.Register(42); err != nil {
		t.Fatalf("register: %v", err)
	}
	if svc.IsActive(42) {
		t.Fatalf("fresh user must not be active")
	}
	end, err := svc.Activate(42, 7)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !end.Equal(clock.Now().AddDate(0, 0, 7)) {
		t.Fatalf("unexpected end %v", end)
	}
	if !svc.IsActive(42) {
		t.Fatalf("expected active right after activation")
	}

	clock.Advance(8 * 24 * time.Hour)
	if svc.IsActive(42) {
		t.Fatalf("expected inactive after 8 days")
	}
}

func TestSubscriptionService_RegisterIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	if _, err := svc.Activate(1, 3); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.Register(1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !svc.IsActive(1) {
		t.Fatalf("register must not reset an existing record")
	}
}

func TestSubscriptionService_ActivateAutoCreatesAndRejectsBadDays(t *testing.T) {
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, newFakeClock())

	if _, err := svc.Activate(5, 0); !errors.Is(err, ErrInvalidDays) {
		t.Fatalf("expected ErrInvalidDays, got %v", err)
	}
	if _, ok := store.Get(5); ok {
		t.Fatalf("rejected activation must not create a record")
	}
	if _, err := svc.Activate(5, 1); err != nil {
		t.Fatalf("activate: %v", err)
	}
	rec, ok := store.Get(5)
	if !ok || !rec.Subscribed || rec.SubscriptionStart == nil {
		t.Fatalf("expected auto-created active record, got %+v", rec)
	}
}

func TestSubscriptionService_ReactivationOverwritesWindow(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	if _, err := svc.Activate(9, 30); err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.Advance(24 * time.Hour)
	end, err := svc.Activate(9, 7)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	want := clock.Now().AddDate(0, 0, 7)
	if !end.Equal(want) {
		t.Fatalf("expected window reset to %v, got %v", want, end)
	}
	st := svc.Status(9)
	if !st.Start.Equal(clock.Now()) {
		t.Fatalf("expected start reset, got %v", st.Start)
	}
}

func TestSubscriptionService_IsActiveIgnoresFlag(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	past := clock.Now().Add(-time.Hour)
	future := clock.Now().Add(time.Hour)
	err := store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		users[1] = domain.UserRecord{Subscribed: true, SubscriptionEnd: &past}
		users[2] = domain.UserRecord{Subscribed: false, SubscriptionEnd: &future}
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if svc.IsActive(1) {
		t.Fatalf("stale subscribed flag must not grant access")
	}
	if !svc.IsActive(2) {
		t.Fatalf("future end grants access regardless of flag")
	}
	if svc.IsActive(3) {
		t.Fatalf("unknown user must not be active")
	}
}

func TestSubscriptionService_SweepExpiredIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	for _, id := range []int64{3, 1, 2} {
		if _, err := svc.Activate(id, 1); err != nil {
			t.Fatalf("activate %d: %v", id, err)
		}
	}
	if err := svc.Register(10); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Activate(4, 30); err != nil {
		t.Fatalf("activate: %v", err)
	}

	clock.Advance(2 * 24 * time.Hour)
	ids, err := svc.SweepExpired(clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("expected sorted [1 2 3], got %v", ids)
	}
	rec, _ := store.Get(1)
	if rec.Subscribed {
		t.Fatalf("expected flag cleared")
	}
	if rec.SubscriptionEnd == nil {
		t.Fatalf("sweep must keep the window")
	}
	if rec4, _ := store.Get(4); !rec4.Subscribed {
		t.Fatalf("active subscription must not be swept")
	}
	if rec10, _ := store.Get(10); rec10.Subscribed {
		t.Fatalf("never-activated user must stay untouched")
	}

	again, err := svc.SweepExpired(clock.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no ids on second sweep, got %v", again)
	}
}

func TestSubscriptionService_SweepAtExactEnd(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	end, _ := svc.Activate(1, 1)
	ids, err := svc.SweepExpired(end.Add(-time.Nanosecond))
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected nothing before end, got %v err=%v", ids, err)
	}
	ids, err = svc.SweepExpired(end)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected sweep at now == end, got %v err=%v", ids, err)
	}
}

func TestSubscriptionService_SweepSkipsRecordsWithoutEnd(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	svc := newTestSubscriptions(t, store, clock)

	err := store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		users[5] = domain.UserRecord{Subscribed: true}
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ids, err := svc.SweepExpired(clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("record without end must not be swept, got %v", ids)
	}
	if rec, _ := store.Get(5); !rec.Subscribed {
		t.Fatalf("flag must stay set")
	}
}
