// Package session owns the account→connection lifecycle: join
// (authenticate, load-or-create character, name-collision check,
// duplicate-session supersede), the auto-save timer, and leave
// (final save, unbind). The transport layer drives this package through
// Conn; session never imports the transport package directly.
package session

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/identity"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/room"
	"github.com/nexusroom/server/internal/spatial"
)

// Close codes, per the disconnect contract: 1000 admin/supersede, 4001
// invalid auth, 4002 auth required, 4003 name taken.
const (
	CloseNormal       = 1000
	CloseAuthInvalid  = 4001
	CloseAuthRequired = 4002
	CloseNameTaken    = 4003
)

// Conn is the transport-level handle a session closes or is backed by.
// The transport layer implements this; session only ever calls Close.
type Conn interface {
	Close(code int, reason string)
}

// Session binds one live connection to an account and character once
// join succeeds.
type Session struct {
	AccountID   string
	CharacterID string
	Conn        Conn
	JoinedAt    time.Time
}

// Manager owns every live session in a room and the account→session
// lookaside used for message routing and duplicate-login supersede.
type Manager struct {
	room     *room.Room
	repo     persist.Repository
	verifier identity.Verifier
	log      *zap.Logger

	byAccount map[string]*Session

	autoSaveInterval time.Duration
	stopAutoSave     chan struct{}

	now func() time.Time
}

func NewManager(r *room.Room, repo persist.Repository, verifier identity.Verifier, autoSaveInterval time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		room:             r,
		repo:             repo,
		verifier:         verifier,
		log:              log,
		byAccount:        make(map[string]*Session),
		autoSaveInterval: autoSaveInterval,
		stopAutoSave:     make(chan struct{}),
		now:              time.Now,
	}
}

// JoinRequest is everything a transport connection gathers before
// calling Join.
type JoinRequest struct {
	Token         string
	CharacterName string
	Conn          Conn
}

// Join authenticates conn's token, loads or creates the named
// character, supersedes any existing session for the same account, and
// registers the player in the room. The returned error's message is
// suitable for logging only — callers should close with the returned
// code regardless of err being nil, since a close code of 0 means no
// close is needed.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*Session, int, error) {
	ident, err := m.verifier.Verify(ctx, req.Token)
	if err != nil {
		return nil, CloseAuthInvalid, err
	}
	if ident.AccountID == "" {
		return nil, CloseAuthRequired, nil
	}

	record, isNew, err := m.loadOrCreateLookup(ctx, ident.AccountID, req.CharacterName)
	if err != nil {
		// Repository read failures during join are logged (no metric is
		// recorded), not fatal: proceed with a fresh in-memory record.
		m.log.Warn("repository unavailable during join, proceeding with fresh record",
			zap.String("account", ident.AccountID), zap.Error(err))
		record, isNew = freshRecord(ident.AccountID, req.CharacterName), true
	}

	if isNew {
		taken, err := m.repo.NameExists(ctx, req.CharacterName, "", "")
		if err == nil && taken {
			return nil, CloseNameTaken, nil
		}
		record.X = rand.Float64()*10 - 5
		record.Y = 1
		record.Z = rand.Float64()*10 - 5
		if err := m.repo.Save(ctx, record); err != nil {
			return nil, CloseAuthInvalid, err
		}
	}

	if existing, ok := m.byAccount[ident.AccountID]; ok {
		existing.Conn.Close(CloseNormal, "superseded by new session")
		m.room.Disconnect(existing.CharacterID, existing.AccountID)
		delete(m.byAccount, ident.AccountID)
	}

	sess := &Session{AccountID: ident.AccountID, CharacterID: record.CharacterID, Conn: req.Conn, JoinedAt: m.now()}
	m.byAccount[ident.AccountID] = sess

	record.LastLogin = m.now()
	m.room.Connect(recordToPlayer(record))

	return sess, 0, nil
}

// Leave unbinds account's session, performing a final synchronous save.
func (m *Manager) Leave(ctx context.Context, accountID string) {
	sess, ok := m.byAccount[accountID]
	if !ok {
		return
	}
	if p, ok := m.room.Player(sess.CharacterID); ok {
		if rec, err := m.repo.Load(ctx, sess.CharacterID); err == nil && rec != nil {
			applyPlayerFields(p, rec)
			if err := m.repo.Save(ctx, rec); err != nil {
				m.log.Warn("final save failed on leave", zap.String("account", accountID), zap.Error(err))
			}
		}
	}
	m.room.Disconnect(sess.CharacterID, sess.AccountID)
	delete(m.byAccount, accountID)
}

// Lookup returns the live session bound to account, if any.
func (m *Manager) Lookup(accountID string) (*Session, bool) {
	s, ok := m.byAccount[accountID]
	return s, ok
}

// RunAutoSave blocks, saving every connected player every
// autoSaveInterval until ctx is cancelled.
func (m *Manager) RunAutoSave(ctx context.Context) {
	ticker := time.NewTicker(m.autoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopAutoSave:
			return
		case <-ticker.C:
			m.room.SaveAllConnected(ctx)
		}
	}
}

func (m *Manager) Stop() {
	close(m.stopAutoSave)
}

// loadOrCreateLookup returns the account's existing character by that
// name if one is already on file (a reconnect), or a fresh unsaved
// record and isNew=true otherwise. Callers must run the global name
// check and persist the record themselves when isNew is true.
func (m *Manager) loadOrCreateLookup(ctx context.Context, accountID, name string) (rec *persist.PlayerRecord, isNew bool, err error) {
	summaries, err := m.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	for _, s := range summaries {
		if s.Name == name {
			rec, err = m.repo.Load(ctx, s.CharacterID)
			return rec, false, err
		}
	}
	return freshRecord(accountID, name), true, nil
}

func freshRecord(accountID, name string) *persist.PlayerRecord {
	now := time.Now()
	return &persist.PlayerRecord{
		CharacterID: accountID + ":" + name,
		AccountID:   accountID,
		Name:        name,
		Race:        "human",
		Level:       1,
		HP:          100, MaxHP: 100,
		Mana: 50, MaxMana: 50,
		QuestState:       map[string]int{},
		AchievementState: map[string]int{},
		CreatedAt:        now,
		LastLogin:        now,
		UpdatedAt:        now,
	}
}

func recordToPlayer(rec *persist.PlayerRecord) *room.Player {
	return &room.Player{
		CharacterID: rec.CharacterID,
		AccountID:   rec.AccountID,
		Name:        rec.Name,
		Race:        rec.Race,
		Pos:         spatial.Vec3{X: rec.X, Y: rec.Y, Z: rec.Z},
		Rotation:    rec.Rotation,
		HP:          rec.HP, MaxHP: rec.MaxHP,
		Mana: rec.Mana, MaxMana: rec.MaxMana,
		Level: rec.Level,
	}
}

func applyPlayerFields(p *room.Player, rec *persist.PlayerRecord) {
	rec.HP, rec.MaxHP = p.HP, p.MaxHP
	rec.Mana, rec.MaxMana = p.Mana, p.MaxMana
	rec.Level = p.Level
	rec.X, rec.Y, rec.Z = p.Pos.X, p.Pos.Y, p.Pos.Z
	rec.Rotation = p.Rotation
}
