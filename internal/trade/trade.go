// Package trade implements the proximity-gated dual-confirmation trading
// state machine between two players in the same room.
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/roomerr"
)

// Status is one of the FSM's four states.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
)

const (
	proximityLimit = 5.0
	expiryWindow   = 5 * time.Minute
	auditLogCap    = 1000
)

// Offer is one side's proposed trade contents.
type Offer struct {
	Items   []persist.ItemStack
	Credits int
}

// Session is one live trade between two accounts.
type Session struct {
	ID         string
	P1, P2     string
	Offer1     Offer
	Offer2     Offer
	Confirmed1 bool
	Confirmed2 bool
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// AuditEntry is one logged state transition, for moderation review.
type AuditEntry struct {
	SessionID string
	Account   string
	Action    string
	At        time.Time
}

// Manager owns every live trade session in a room.
type Manager struct {
	sessions map[string]*Session
	byPlayer map[string]string // account -> sessionID
	audit    []AuditEntry

	repo persist.Repository
	now  func() time.Time

	nextID int
}

func NewManager(repo persist.Repository) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byPlayer: make(map[string]string),
		repo:     repo,
		now:      time.Now,
	}
}

// Position is the minimal shape needed for the proximity check at
// Initiate.
type Position struct{ X, Y, Z float64 }

func distance(a, b Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

// Initiate starts a new trade, rejecting if either side is already in a
// non-terminal session or the two players are more than 5 units apart.
func (m *Manager) Initiate(p1, p2 string, pos1, pos2 Position) (*Session, error) {
	if _, busy := m.byPlayer[p1]; busy {
		return nil, roomerr.New(roomerr.InvalidState, "participant already has an open trade")
	}
	if _, busy := m.byPlayer[p2]; busy {
		return nil, roomerr.New(roomerr.InvalidState, "participant already has an open trade")
	}
	if distance(pos1, pos2) > proximityLimit*proximityLimit {
		return nil, roomerr.New(roomerr.InvalidState, "participants are not close enough to trade")
	}

	m.nextID++
	now := m.now()
	s := &Session{
		ID:        fmt.Sprintf("trade-%d", m.nextID),
		P1:        p1,
		P2:        p2,
		Status:    Pending,
		CreatedAt: now,
		ExpiresAt: now.Add(expiryWindow),
	}
	m.sessions[s.ID] = s
	m.byPlayer[p1] = s.ID
	m.byPlayer[p2] = s.ID
	m.logAudit(s.ID, p1, "initiate")
	return s, nil
}

func (m *Manager) session(id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, roomerr.New(roomerr.NotFound, "trade session not found")
	}
	return s, nil
}

// AddItem stages an item in account's offer and resets both
// confirmations.
func (m *Manager) AddItem(sessionID, account string, item persist.ItemStack) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if err := requireOpen(s); err != nil {
		return err
	}
	offer := m.offerFor(s, account)
	if offer == nil {
		return roomerr.New(roomerr.InvalidState, "account is not a participant in this trade")
	}
	offer.Items = append(offer.Items, item)
	m.resetConfirmations(s)
	m.logAudit(s.ID, account, "addItem")
	return nil
}

// RemoveItem removes one matching item stack by id from account's offer.
func (m *Manager) RemoveItem(sessionID, account, itemID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if err := requireOpen(s); err != nil {
		return err
	}
	offer := m.offerFor(s, account)
	if offer == nil {
		return roomerr.New(roomerr.InvalidState, "account is not a participant in this trade")
	}
	for i, it := range offer.Items {
		if it.ItemID == itemID {
			offer.Items = append(offer.Items[:i], offer.Items[i+1:]...)
			break
		}
	}
	m.resetConfirmations(s)
	m.logAudit(s.ID, account, "removeItem")
	return nil
}

// SetCredits sets account's offered credit amount and resets both
// confirmations.
func (m *Manager) SetCredits(sessionID, account string, credits int) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if err := requireOpen(s); err != nil {
		return err
	}
	offer := m.offerFor(s, account)
	if offer == nil {
		return roomerr.New(roomerr.InvalidState, "account is not a participant in this trade")
	}
	offer.Credits = credits
	m.resetConfirmations(s)
	m.logAudit(s.ID, account, "setCredits")
	return nil
}

func (m *Manager) offerFor(s *Session, account string) *Offer {
	switch account {
	case s.P1:
		return &s.Offer1
	case s.P2:
		return &s.Offer2
	default:
		return nil
	}
}

func (m *Manager) resetConfirmations(s *Session) {
	s.Confirmed1 = false
	s.Confirmed2 = false
	s.Status = Pending
}

func requireOpen(s *Session) error {
	if s.Status != Pending && s.Status != Confirmed {
		return roomerr.New(roomerr.InvalidState, "trade session is not open")
	}
	return nil
}

// ConfirmTrade toggles account's confirmation flag. When both sides have
// confirmed, the trade executes atomically.
func (m *Manager) ConfirmTrade(ctx context.Context, sessionID, account string, loadRecord func(characterID string) (*persist.PlayerRecord, error)) (*Session, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(s); err != nil {
		return nil, err
	}

	switch account {
	case s.P1:
		s.Confirmed1 = true
	case s.P2:
		s.Confirmed2 = true
	default:
		return nil, roomerr.New(roomerr.InvalidState, "account is not a participant in this trade")
	}
	m.logAudit(s.ID, account, "confirm")

	if !s.Confirmed1 || !s.Confirmed2 {
		s.Status = Confirmed
		return s, nil
	}

	if err := m.execute(ctx, s, loadRecord); err != nil {
		s.Status = Cancelled
		m.release(s)
		m.logAudit(s.ID, account, "cancel:"+err.Error())
		return s, err
	}
	s.Status = Completed
	m.release(s)
	m.logAudit(s.ID, account, "complete")
	return s, nil
}

// execute revalidates both offers against freshly loaded inventories,
// then deducts/credits and saves both records. Any sub-step failure
// leaves both records untouched (the whole execution happens after
// validation, not interleaved with it).
func (m *Manager) execute(ctx context.Context, s *Session, loadRecord func(characterID string) (*persist.PlayerRecord, error)) error {
	rec1, err := loadRecord(s.P1)
	if err != nil || rec1 == nil {
		return roomerr.New(roomerr.RepositoryUnavailable, "could not load participant 1's record")
	}
	rec2, err := loadRecord(s.P2)
	if err != nil || rec2 == nil {
		return roomerr.New(roomerr.RepositoryUnavailable, "could not load participant 2's record")
	}

	if rec1.Credits < s.Offer1.Credits || rec2.Credits < s.Offer2.Credits {
		return roomerr.New(roomerr.InvalidState, "insufficient credits at execution time")
	}
	if !hasAll(rec1.Inventory, s.Offer1.Items) || !hasAll(rec2.Inventory, s.Offer2.Items) {
		return roomerr.New(roomerr.InvalidState, "offered items no longer present at execution time")
	}

	rec1.Inventory = removeItems(rec1.Inventory, s.Offer1.Items)
	rec2.Inventory = removeItems(rec2.Inventory, s.Offer2.Items)
	rec1.Inventory = append(rec1.Inventory, s.Offer2.Items...)
	rec2.Inventory = append(rec2.Inventory, s.Offer1.Items...)
	rec1.Credits = rec1.Credits - s.Offer1.Credits + s.Offer2.Credits
	rec2.Credits = rec2.Credits - s.Offer2.Credits + s.Offer1.Credits

	if err := m.repo.Save(ctx, rec1); err != nil {
		return fmt.Errorf("save participant 1: %w", err)
	}
	if err := m.repo.Save(ctx, rec2); err != nil {
		return fmt.Errorf("save participant 2: %w", err)
	}
	return nil
}

func hasAll(inventory []persist.ItemStack, required []persist.ItemStack) bool {
	counts := make(map[string]int)
	for _, it := range inventory {
		counts[it.ItemID] += it.Count
	}
	for _, it := range required {
		if counts[it.ItemID] < it.Count {
			return false
		}
		counts[it.ItemID] -= it.Count
	}
	return true
}

func removeItems(inventory []persist.ItemStack, toRemove []persist.ItemStack) []persist.ItemStack {
	remaining := make(map[string]int)
	for _, it := range toRemove {
		remaining[it.ItemID] += it.Count
	}
	out := inventory[:0:0]
	for _, it := range inventory {
		need := remaining[it.ItemID]
		if need <= 0 {
			out = append(out, it)
			continue
		}
		if it.Count > need {
			out = append(out, persist.ItemStack{ItemID: it.ItemID, Count: it.Count - need, Slot: it.Slot})
			remaining[it.ItemID] = 0
		} else {
			remaining[it.ItemID] = need - it.Count
		}
	}
	return out
}

func (m *Manager) release(s *Session) {
	delete(m.byPlayer, s.P1)
	delete(m.byPlayer, s.P2)
}

// Cancel moves a pending or confirmed trade directly to cancelled.
func (m *Manager) Cancel(sessionID, account string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	if err := requireOpen(s); err != nil {
		return err
	}
	s.Status = Cancelled
	m.release(s)
	m.logAudit(s.ID, account, "cancel")
	return nil
}

// SweepExpired cancels every session past its expiry and releases its
// participants.
func (m *Manager) SweepExpired() {
	now := m.now()
	for id, s := range m.sessions {
		if (s.Status == Pending || s.Status == Confirmed) && now.After(s.ExpiresAt) {
			s.Status = Cancelled
			m.release(s)
			m.logAudit(id, "", "expired")
		}
	}
}

func (m *Manager) logAudit(sessionID, account, action string) {
	m.audit = append(m.audit, AuditEntry{SessionID: sessionID, Account: account, Action: action, At: m.now()})
	if len(m.audit) > auditLogCap {
		m.audit = m.audit[len(m.audit)-auditLogCap:]
	}
}

// Audit returns the bounded moderation log.
func (m *Manager) Audit() []AuditEntry {
	return append([]AuditEntry(nil), m.audit...)
}
