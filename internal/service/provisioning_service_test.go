package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/wireguard"
)

var testPool = AddressPool{Prefix: "10.66.0", CIDR: 32, StartHost: 2}

func countingKeys() (KeyGenerator, *int64) {
	var n int64
	return func() (wireguard.KeyPair, error) {
		i := atomic.AddInt64(&n, 1)
		return wireguard.KeyPair{
			PrivateKey: fmt.Sprintf("priv-%d", i),
			PublicKey:  fmt.Sprintf("pub-%d", i),
		}, nil
	}, &n
}

func TestProvisioningService_EnsureProfileIdempotent(t *testing.T) {
	store := openTestStore(t)
	keys, calls := countingKeys()
	svc := NewProvisioningService(zap.NewNop(), store, testPool, keys)

	first, err := svc.EnsureProfile(1)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if first.Address != "10.66.0.2/32" {
		t.Fatalf("unexpected address %q", first.Address)
	}
	second, err := svc.EnsureProfile(1)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical profile, got %+v vs %+v", first, second)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected a single key generation, got %d", *calls)
	}
}

func TestProvisioningService_ConcurrentUsersGetDistinctAddresses(t *testing.T) {
	store := openTestStore(t)
	svc := NewProvisioningService(zap.NewNop(), store, testPool, nil)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := svc.EnsureProfile(id); err != nil {
				errs <- err
			}
		}(int64(1000 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ensure: %v", err)
	}

	seen := make(map[string]int64)
	for id, rec := range store.Snapshot() {
		if !rec.HasProfile() {
			t.Fatalf("user %d has no profile", id)
		}
		if other, dup := seen[rec.Profile.Address]; dup {
			t.Fatalf("address %s assigned to %d and %d", rec.Profile.Address, other, id)
		}
		seen[rec.Profile.Address] = id
	}
	if len(seen) != n {
		t.Fatalf("expected %d addresses, got %d", n, len(seen))
	}
}

func TestProvisioningService_ConcurrentSameUser(t *testing.T) {
	store := openTestStore(t)
	svc := NewProvisioningService(zap.NewNop(), store, testPool, nil)

	var wg sync.WaitGroup
	results := make([]domain.Profile, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.EnsureProfile(77)
			if err != nil {
				t.Errorf("ensure: %v", err)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()
	for _, p := range results[1:] {
		if p != results[0] {
			t.Fatalf("expected every caller to see the same profile, got %+v vs %+v", p, results[0])
		}
	}
	if len(store.Snapshot()) != 1 {
		t.Fatalf("expected a single record")
	}
}

func TestProvisioningService_PoolExhausted(t *testing.T) {
	store := openTestStore(t)
	pool := AddressPool{Prefix: "10.66.0", CIDR: 32, StartHost: 253}
	svc := NewProvisioningService(zap.NewNop(), store, pool, nil)

	for _, id := range []int64{1, 2} {
		if _, err := svc.EnsureProfile(id); err != nil {
			t.Fatalf("ensure %d: %v", id, err)
		}
	}
	if _, err := svc.EnsureProfile(3); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if rec, ok := store.Get(3); ok && rec.Profile != nil {
		t.Fatalf("failed provisioning must not write a profile")
	}
}

func TestProvisioningService_KeyGeneratorFailure(t *testing.T) {
	store := openTestStore(t)
	boom := errors.New("no entropy")
	svc := NewProvisioningService(zap.NewNop(), store, testPool, func() (wireguard.KeyPair, error) {
		return wireguard.KeyPair{}, boom
	})
	if _, err := svc.EnsureProfile(1); !errors.Is(err, boom) {
		t.Fatalf("expected key error, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected no records written")
	}
}

func TestProvisioningService_KeepsSubscriptionFields(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t)
	subs := newTestSubscriptions(t, store, clock)
	svc := NewProvisioningService(zap.NewNop(), store, testPool, nil)

	if _, err := subs.Activate(5, 7); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.EnsureProfile(5); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !subs.IsActive(5) {
		t.Fatalf("provisioning must keep the entitlement window")
	}
}
