package dungeon

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/collab"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/roomerr"
)

const idleReleaseAfter = 60 * time.Second

// Reward is what a player earns from Complete.
type Reward struct {
	XP      int
	Credits int
	Crystals int
}

// Manager owns every live dungeon instance in a room and the
// per-player progress bound to them.
type Manager struct {
	mu sync.Mutex

	instances map[string]*Instance
	progress  map[string]map[string]*PlayerProgress // instanceID -> characterID -> progress
	boundTo   map[string]string                      // account -> instanceID

	repo         persist.Repository
	achievements collab.AchievementSystem
	log          *zap.Logger
	now          func() time.Time
}

func NewManager(repo persist.Repository, achievements collab.AchievementSystem, log *zap.Logger) *Manager {
	return &Manager{
		instances:    make(map[string]*Instance),
		progress:     make(map[string]map[string]*PlayerProgress),
		boundTo:      make(map[string]string),
		repo:         repo,
		achievements: achievements,
		log:          log,
		now:          time.Now,
	}
}

// Create generates and registers a new instance.
func (m *Manager) Create(seed int64, difficulty, level int) *Instance {
	inst := Generate(seed, difficulty, level)
	inst.StartedAt = m.now()
	inst.lastActivity = m.now()

	m.mu.Lock()
	m.instances[inst.ID] = inst
	m.progress[inst.ID] = make(map[string]*PlayerProgress)
	m.mu.Unlock()
	return inst
}

// Enter binds account to an instance, rejecting if already bound to a
// different one.
func (m *Manager) Enter(account, characterID, instanceID string) (*PlayerProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, bound := m.boundTo[account]; bound && existing != instanceID {
		return nil, roomerr.New(roomerr.InvalidState, "account already bound to a different dungeon instance")
	}

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, roomerr.New(roomerr.NotFound, "dungeon instance not found")
	}

	progressByChar := m.progress[instanceID]
	p, exists := progressByChar[characterID]
	if !exists {
		p = &PlayerProgress{
			CharacterID:      characterID,
			RoomsCleared:     make(map[int]bool),
			EntitiesDefeated: make(map[string]bool),
			StartedAt:        m.now(),
		}
		progressByChar[characterID] = p
		inst.PlayerIDs = append(inst.PlayerIDs, characterID)
	}
	m.boundTo[account] = instanceID
	inst.lastActivity = m.now()
	return p, nil
}

// ClearRoom marks a room cleared for every in-progress player once all
// its live entities are defeated.
func (m *Manager) ClearRoom(instanceID string, roomID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return
	}
	for _, e := range inst.Entities {
		if e.RoomID == roomID && !e.Defeated {
			return
		}
	}
	for i := range inst.Rooms {
		if inst.Rooms[i].ID == roomID {
			inst.Rooms[i].Cleared = true
		}
	}
	for _, p := range m.progress[instanceID] {
		p.RoomsCleared[roomID] = true
	}
	inst.lastActivity = m.now()

	if z, ok := floorOf(inst, roomID); ok && floorCleared(inst, z) {
		for _, p := range m.progress[instanceID] {
			if p.CurrentFloor == z && z < gridFloors-1 {
				p.CurrentFloor = z + 1
			}
		}
	}
}

// floorOf returns the z-layer a room belongs to; rooms never span floors
// (see Bounds.overlaps).
func floorOf(inst *Instance, roomID int) (int, bool) {
	for _, r := range inst.Rooms {
		if r.ID == roomID {
			return r.Bounds.MinZ, true
		}
	}
	return 0, false
}

// floorCleared reports whether every non-start room on z-layer z is
// cleared.
func floorCleared(inst *Instance, z int) bool {
	for _, r := range inst.Rooms {
		if r.Type == RoomStart || r.Bounds.MinZ != z {
			continue
		}
		if !r.Cleared {
			return false
		}
	}
	return true
}

// DefeatEntity marks an entity defeated and auto-clears its room if it
// was the last live entity there.
func (m *Manager) DefeatEntity(instanceID, entityID string) {
	m.mu.Lock()
	inst, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	var roomID int = -1
	for i := range inst.Entities {
		if inst.Entities[i].ID == entityID {
			inst.Entities[i].Defeated = true
			roomID = inst.Entities[i].RoomID
			break
		}
	}
	for _, p := range m.progress[instanceID] {
		p.EntitiesDefeated[entityID] = true
	}
	inst.lastActivity = m.now()
	m.mu.Unlock()

	if roomID >= 0 {
		m.ClearRoom(instanceID, roomID)
	}
}

// Complete validates that every non-start room is cleared and that every
// bound player has reached the top floor, computes rewards, adds the XP
// and credits to record and saves it with the player's CurrentFloor, and
// fires the achievement event. Crystals are returned but not stored, and
// no dungeon progress or completion row is written.
func (m *Manager) Complete(ctx context.Context, instanceID, characterID string, record *persist.PlayerRecord) (Reward, error) {
	m.mu.Lock()
	inst, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return Reward{}, roomerr.New(roomerr.NotFound, "dungeon instance not found")
	}
	for _, r := range inst.Rooms {
		if r.Type == RoomStart {
			continue
		}
		if !r.Cleared {
			m.mu.Unlock()
			return Reward{}, roomerr.New(roomerr.InvalidState, "not every room is cleared")
		}
	}
	for _, p := range m.progress[instanceID] {
		if p.CurrentFloor < gridFloors-1 {
			m.mu.Unlock()
			return Reward{}, roomerr.New(roomerr.InvalidState, "not every player has reached the top floor")
		}
	}
	currentFloor := gridFloors - 1
	if p, ok := m.progress[instanceID][characterID]; ok {
		currentFloor = p.CurrentFloor
	}
	now := m.now()
	inst.Completed = true
	inst.CompletedAt = &now
	difficulty, level := inst.Difficulty, inst.Level
	m.mu.Unlock()

	reward := Reward{
		XP:       int(math.Floor(float64(level) * 100 * (1 + 0.2*float64(difficulty)))),
		Credits:  int(math.Floor(float64(level) * 50 * (1 + 0.2*float64(difficulty)))),
		Crystals: int(math.Floor(float64(difficulty))),
	}

	record.CurrentFloor = currentFloor
	record.Credits += reward.Credits
	record.XP += reward.XP
	if err := m.repo.Save(ctx, record); err != nil {
		return Reward{}, fmt.Errorf("save player record on dungeon completion: %w", err)
	}

	if m.achievements != nil {
		if _, err := m.achievements.HandleEvent(record.AccountID, "dungeonComplete"); err != nil {
			m.log.Warn("achievement event failed", zap.Error(err))
		}
	}

	return reward, nil
}

// Leave releases an account's binding without affecting the instance.
func (m *Manager) Leave(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boundTo, account)
}

// SweepIdle releases instances with no activity for idleReleaseAfter,
// returning the ids removed.
func (m *Manager) SweepIdle() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(m.boundTo))
	for _, instanceID := range m.boundTo {
		active[instanceID] = true
	}

	var released []string
	now := m.now()
	for id, inst := range m.instances {
		if !active[id] && now.Sub(inst.lastActivity) > idleReleaseAfter {
			delete(m.instances, id)
			delete(m.progress, id)
			released = append(released, id)
		}
	}
	return released
}

func (m *Manager) Instance(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	return inst, ok
}
