package marketplace

import (
	"fmt"
	"testing"
	"time"
)

func TestStateStoreSweep(t *testing.T) {
	store := newStateStore(10*time.Minute, 16)
	store.save("old", pendingAuth{CodeVerifier: "v1", CreatedAt: time.Now().Add(-11 * time.Minute)})
	store.save("fresh", pendingAuth{CodeVerifier: "v2", CreatedAt: time.Now().Add(-9 * time.Minute)})

	if removed := store.sweep(); removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
	if _, ok := store.pop("fresh"); !ok {
		t.Fatal("fresh entry removed by sweep")
	}
	if _, ok := store.pop("old"); ok {
		t.Fatal("expired entry survived sweep")
	}
}

func TestStateStoreRejectsExpiredOnRead(t *testing.T) {
	store := newStateStore(10*time.Minute, 16)
	store.save("stale", pendingAuth{CodeVerifier: "v1", CreatedAt: time.Now().Add(-11 * time.Minute)})

	if _, ok := store.pop("stale"); ok {
		t.Fatal("expired entry returned by pop")
	}
	if store.len() != 0 {
		t.Fatal("expired entry not removed on read")
	}
}

func TestStateStorePopIsSingleUse(t *testing.T) {
	store := newStateStore(10*time.Minute, 16)
	store.save("s", pendingAuth{CodeVerifier: "v", CreatedAt: time.Now()})

	if _, ok := store.pop("s"); !ok {
		t.Fatal("stored entry not found")
	}
	if _, ok := store.pop("s"); ok {
		t.Fatal("entry survived first pop")
	}
}

func TestStateStoreEvictsOldestAtCapacity(t *testing.T) {
	store := newStateStore(10*time.Minute, 3)
	base := time.Now()
	for i := 0; i < 3; i++ {
		store.save(fmt.Sprintf("s%d", i), pendingAuth{
			CodeVerifier: "v",
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		})
	}

	store.save("s3", pendingAuth{CodeVerifier: "v", CreatedAt: base.Add(3 * time.Second)})

	if store.len() != 3 {
		t.Fatalf("store holds %d entries, want capacity 3", store.len())
	}
	if _, ok := store.pop("s0"); ok {
		t.Fatal("oldest entry not evicted")
	}
	if _, ok := store.pop("s3"); !ok {
		t.Fatal("newest entry missing")
	}
}
