package persist

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRepo() *cachedRepo {
	r := NewRepository(NewMemoryStore(), zap.NewNop()).(*cachedRepo)
	return r
}

func waitForQueueDrain(r *cachedRepo) {
	deadline := time.Now().Add(2 * time.Second)
	for len(r.writeQueue) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond) // let the 50ms flush ticker run once more
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()

	rec := &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "Aria", Level: 5, MaxHP: 100, HP: 80, MaxMana: 50, Mana: 30}
	if err := r.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	waitForQueueDrain(r)

	got, err := r.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Name != "Aria" || got.Level != 5 {
		t.Fatalf("Load() = %+v, want Aria level 5", got)
	}
}

func TestSaveClampsHPAndMana(t *testing.T) {
	r := newTestRepo()
	rec := &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "X", Level: 1, MaxHP: 100, HP: 999, MaxMana: 50, Mana: -5}
	if err := r.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.HP != 100 {
		t.Errorf("HP should clamp to MaxHP, got %d", rec.HP)
	}
	if rec.Mana != 0 {
		t.Errorf("Mana should clamp to 0, got %d", rec.Mana)
	}
}

func TestSaveRejectsInvalidLevel(t *testing.T) {
	r := newTestRepo()
	rec := &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "X", Level: 0, MaxHP: 10}
	if err := r.Save(context.Background(), rec); err == nil {
		t.Fatal("expected an error for level 0")
	}
}

func TestSaveNoopWhenNothingChanged(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()
	rec := &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "X", Level: 1, MaxHP: 10, HP: 10}
	if err := r.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	waitForQueueDrain(r)

	before := len(r.writeQueue)
	rec2 := *rec
	rec2.UpdatedAt = rec.UpdatedAt // identical content
	if err := r.Save(ctx, &rec2); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(r.writeQueue) != before {
		t.Error("unchanged save should not enqueue a store write")
	}
}

func TestLoadCacheServesWithinTTL(t *testing.T) {
	store := NewMemoryStore()
	r := NewRepository(store, zap.NewNop()).(*cachedRepo)
	ctx := context.Background()

	rec := &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "X", Level: 1, MaxHP: 10, HP: 10}
	_ = r.Save(ctx, rec)

	// Corrupt the underlying store directly; the cache should still serve
	// the fresh value within its TTL window.
	_ = store.SaveFields(ctx, "c1", nil, &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "Corrupted", Level: 1, MaxHP: 10})

	got, err := r.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "X" {
		t.Fatalf("expected cached value 'X', got %q", got.Name)
	}
}

func TestNameExistsScopedToAccount(t *testing.T) {
	store := NewMemoryStore()
	r := NewRepository(store, zap.NewNop()).(*cachedRepo)
	ctx := context.Background()

	_ = r.Save(ctx, &PlayerRecord{CharacterID: "c1", AccountID: "a1", Name: "Aria", Level: 1, MaxHP: 10, HP: 10})
	waitForQueueDrain(r)

	exists, err := r.NameExists(ctx, "Aria", "", "")
	if err != nil || !exists {
		t.Fatalf("NameExists() = %v, %v, want true, nil", exists, err)
	}
	exists, err = r.NameExists(ctx, "Aria", "c1", "")
	if err != nil || exists {
		t.Fatalf("NameExists() excluding self = %v, %v, want false, nil", exists, err)
	}
}
