package trade

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/persist"
)

func newManager() (*Manager, *persist.MemoryStore) {
	store := persist.NewMemoryStore()
	repo := persist.NewRepository(store, zap.NewNop())
	return NewManager(repo), store
}

func TestInitiateRejectsOutOfRange(t *testing.T) {
	m, _ := newManager()
	_, err := m.Initiate("p1", "p2", Position{0, 0, 0}, Position{100, 0, 0})
	if err == nil {
		t.Fatal("expected proximity rejection")
	}
}

func TestInitiateRejectsDoubleBooking(t *testing.T) {
	m, _ := newManager()
	if _, err := m.Initiate("p1", "p2", Position{}, Position{1, 0, 0}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := m.Initiate("p1", "p3", Position{}, Position{1, 0, 0}); err == nil {
		t.Fatal("expected rejection: p1 already in a trade")
	}
}

func TestMutationResetsConfirmations(t *testing.T) {
	m, _ := newManager()
	s, _ := m.Initiate("p1", "p2", Position{}, Position{1, 0, 0})
	s.Confirmed1 = true
	s.Confirmed2 = true

	if err := m.SetCredits(s.ID, "p1", 50); err != nil {
		t.Fatalf("SetCredits: %v", err)
	}
	if s.Confirmed1 || s.Confirmed2 {
		t.Fatal("mutating an offer should reset both confirmations")
	}
}

func TestConfirmTradeExecutesWhenBothConfirm(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	rec1 := &persist.PlayerRecord{CharacterID: "p1", AccountID: "a1", Name: "One", Level: 1, MaxHP: 10, HP: 10, Credits: 100}
	rec2 := &persist.PlayerRecord{CharacterID: "p2", AccountID: "a2", Name: "Two", Level: 1, MaxHP: 10, HP: 10, Credits: 0,
		Inventory: []persist.ItemStack{{ItemID: "sword", Count: 1}}}
	_ = store.SaveFields(ctx, "p1", nil, rec1)
	_ = store.SaveFields(ctx, "p2", nil, rec2)

	s, err := m.Initiate("p1", "p2", Position{}, Position{1, 0, 0})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := m.SetCredits(s.ID, "p1", 50); err != nil {
		t.Fatalf("SetCredits: %v", err)
	}
	if err := m.AddItem(s.ID, "p2", persist.ItemStack{ItemID: "sword", Count: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	load := func(id string) (*persist.PlayerRecord, error) { return store.Load(ctx, id) }

	if _, err := m.ConfirmTrade(ctx, s.ID, "p1", load); err != nil {
		t.Fatalf("ConfirmTrade p1: %v", err)
	}
	result, err := m.ConfirmTrade(ctx, s.ID, "p2", load)
	if err != nil {
		t.Fatalf("ConfirmTrade p2: %v", err)
	}
	if result.Status != Completed {
		t.Fatalf("Status = %s, want completed", result.Status)
	}

	final1, _ := m.repo.Load(ctx, "p1")
	final2, _ := m.repo.Load(ctx, "p2")
	if final1.Credits != 50 {
		t.Errorf("p1 credits = %d, want 50", final1.Credits)
	}
	if final2.Credits != 50 {
		t.Errorf("p2 credits = %d, want 50", final2.Credits)
	}
}

func TestConfirmTradeCancelsOnInsufficientCredits(t *testing.T) {
	m, store := newManager()
	ctx := context.Background()

	rec1 := &persist.PlayerRecord{CharacterID: "p1", AccountID: "a1", Name: "One", Level: 1, MaxHP: 10, HP: 10, Credits: 10}
	rec2 := &persist.PlayerRecord{CharacterID: "p2", AccountID: "a2", Name: "Two", Level: 1, MaxHP: 10, HP: 10, Credits: 0}
	_ = store.SaveFields(ctx, "p1", nil, rec1)
	_ = store.SaveFields(ctx, "p2", nil, rec2)

	s, _ := m.Initiate("p1", "p2", Position{}, Position{1, 0, 0})
	_ = m.SetCredits(s.ID, "p1", 9999)

	load := func(id string) (*persist.PlayerRecord, error) { return store.Load(ctx, id) }
	_, _ = m.ConfirmTrade(ctx, s.ID, "p1", load)
	result, err := m.ConfirmTrade(ctx, s.ID, "p2", load)
	if err == nil {
		t.Fatal("expected execution to fail on insufficient credits")
	}
	if result.Status != Cancelled {
		t.Fatalf("Status = %s, want cancelled", result.Status)
	}
}

func TestAuditLogIsBounded(t *testing.T) {
	m, _ := newManager()
	for i := 0; i < auditLogCap+50; i++ {
		m.logAudit("s", "a", "tick")
	}
	if len(m.Audit()) != auditLogCap {
		t.Fatalf("audit log len = %d, want %d", len(m.Audit()), auditLogCap)
	}
}
