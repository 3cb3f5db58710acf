package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type cacheEntry struct {
	rec     *PlayerRecord
	cachedAt time.Time
}

// cachedRepo fronts a Store with a short-TTL read cache and a
// write-behind save path: the cache is updated synchronously on Save,
// the Store write happens on a background goroutine, and failures are
// logged but never block the caller (the room tick loop in particular).
type cachedRepo struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry

	writeQueue chan writeJob
	batchSize  int

	wg     sync.WaitGroup
	closed chan struct{}
}

type writeJob struct {
	characterID string
	fields      map[string]any
	full        *PlayerRecord
}

// NewRepository wraps store with a read cache and async write-behind
// worker. The worker collects up to batchSize (75) queued writes, or
// whatever arrived within a 50ms tick, and applies them with one
// Store.SaveFields call per write. A batch is not a transaction, and a
// failed write is logged and not re-queued.
func NewRepository(store Store, log *zap.Logger) Repository {
	r := &cachedRepo{
		store:      store,
		log:        log,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
		writeQueue: make(chan writeJob, 1024),
		batchSize:  75,
		closed:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

func (r *cachedRepo) writeLoop() {
	defer r.wg.Done()
	batch := make([]writeJob, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, job := range batch {
			if err := r.store.SaveFields(context.Background(), job.characterID, job.fields, job.full); err != nil {
				r.log.Warn("write-behind save failed", zap.String("characterId", job.characterID), zap.Error(err))
			}
		}
		batch = batch[:0]
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case job, ok := <-r.writeQueue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, job)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.closed:
			flush()
			return
		}
	}
}

// Save performs a differential update against the cached/loaded record:
// only changed fields are queued for the store write, and a no-op Save
// (nothing changed) never touches the write queue.
func (r *cachedRepo) Save(ctx context.Context, rec *PlayerRecord) error {
	if err := rec.Clamp(); err != nil {
		return err
	}

	r.mu.Lock()
	prev, hadPrev := r.cache[rec.CharacterID]
	r.mu.Unlock()

	fields := diffFields(prevRecord(prev, hadPrev), rec)
	if len(fields) == 0 {
		return nil
	}

	rec.UpdatedAt = r.now()
	fields["updatedAt"] = rec.UpdatedAt

	r.mu.Lock()
	r.cache[rec.CharacterID] = cacheEntry{rec: rec, cachedAt: r.now()}
	r.mu.Unlock()

	select {
	case r.writeQueue <- writeJob{characterID: rec.CharacterID, fields: fields, full: rec}:
	default:
		r.log.Warn("write-behind queue full, dropping save", zap.String("characterId", rec.CharacterID))
	}
	return nil
}

func prevRecord(e cacheEntry, ok bool) *PlayerRecord {
	if !ok {
		return nil
	}
	return e.rec
}

func (r *cachedRepo) Load(ctx context.Context, characterID string) (*PlayerRecord, error) {
	r.mu.Lock()
	entry, ok := r.cache[characterID]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.cachedAt) < cacheTTL {
		cp := *entry.rec
		return &cp, nil
	}

	rec, err := r.store.Load(ctx, characterID)
	if err != nil {
		r.log.Warn("load failed, treating as absent", zap.String("characterId", characterID), zap.Error(err))
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	if err := rec.Clamp(); err != nil {
		r.log.Warn("loaded record failed invariants, treating as absent", zap.String("characterId", characterID), zap.Error(err))
		return nil, nil
	}

	r.mu.Lock()
	r.cache[characterID] = cacheEntry{rec: rec, cachedAt: r.now()}
	r.mu.Unlock()

	cp := *rec
	return &cp, nil
}

func (r *cachedRepo) ListByAccount(ctx context.Context, accountID string) ([]Summary, error) {
	return r.store.ListByAccount(ctx, accountID)
}

func (r *cachedRepo) CountByAccount(ctx context.Context, accountID string) (int, error) {
	return r.store.CountByAccount(ctx, accountID)
}

func (r *cachedRepo) NameExists(ctx context.Context, name, excludingCharacterID, accountID string) (bool, error) {
	return r.store.NameExists(ctx, name, excludingCharacterID, accountID)
}

func (r *cachedRepo) Close() {
	close(r.closed)
	r.wg.Wait()
	r.store.Close()
}

// diffFields compares the persistent fields of prev (nil means "nothing
// loaded yet, treat every field as changed") against cur and returns
// only what differs, keyed by the Store's column/field name.
func diffFields(prev *PlayerRecord, cur *PlayerRecord) map[string]any {
	fields := make(map[string]any)
	set := func(name string, changed bool, value any) {
		if changed {
			fields[name] = value
		}
	}
	if prev == nil {
		set("name", true, cur.Name)
		set("race", true, cur.Race)
		set("level", true, cur.Level)
		set("xp", true, cur.XP)
		set("credits", true, cur.Credits)
		set("hp", true, cur.HP)
		set("maxHp", true, cur.MaxHP)
		set("mana", true, cur.Mana)
		set("maxMana", true, cur.MaxMana)
		set("inventory", true, cur.Inventory)
		set("equipped", true, cur.Equipped)
		set("questState", true, cur.QuestState)
		set("achievementState", true, cur.AchievementState)
		set("battlePassXp", true, cur.BattlePassXP)
		set("position", true, [3]float64{cur.X, cur.Y, cur.Z})
		set("rotation", true, cur.Rotation)
		set("currentFloor", true, cur.CurrentFloor)
		set("lastLogin", true, cur.LastLogin)
		set("updatedAt", true, cur.UpdatedAt)
		return fields
	}

	set("name", prev.Name != cur.Name, cur.Name)
	set("race", prev.Race != cur.Race, cur.Race)
	set("level", prev.Level != cur.Level, cur.Level)
	set("xp", prev.XP != cur.XP, cur.XP)
	set("credits", prev.Credits != cur.Credits, cur.Credits)
	set("hp", prev.HP != cur.HP, cur.HP)
	set("maxHp", prev.MaxHP != cur.MaxHP, cur.MaxHP)
	set("mana", prev.Mana != cur.Mana, cur.Mana)
	set("maxMana", prev.MaxMana != cur.MaxMana, cur.MaxMana)
	set("battlePassXp", prev.BattlePassXP != cur.BattlePassXP, cur.BattlePassXP)
	set("rotation", prev.Rotation != cur.Rotation, cur.Rotation)
	set("currentFloor", prev.CurrentFloor != cur.CurrentFloor, cur.CurrentFloor)
	if prev.X != cur.X || prev.Y != cur.Y || prev.Z != cur.Z {
		fields["position"] = [3]float64{cur.X, cur.Y, cur.Z}
	}
	if !sameItems(prev.Inventory, cur.Inventory) {
		fields["inventory"] = cur.Inventory
	}
	if !sameItems(prev.Equipped, cur.Equipped) {
		fields["equipped"] = cur.Equipped
	}
	if !sameIntMap(prev.QuestState, cur.QuestState) {
		fields["questState"] = cur.QuestState
	}
	if !sameIntMap(prev.AchievementState, cur.AchievementState) {
		fields["achievementState"] = cur.AchievementState
	}
	set("lastLogin", prev.LastLogin != cur.LastLogin, cur.LastLogin)
	set("updatedAt", prev.UpdatedAt != cur.UpdatedAt, cur.UpdatedAt)
	return fields
}

func sameItems(a, b []ItemStack) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameIntMap(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
