package room

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/collab"
	"github.com/nexusroom/server/internal/config"
	"github.com/nexusroom/server/internal/core/event"
	"github.com/nexusroom/server/internal/core/system"
	"github.com/nexusroom/server/internal/dungeon"
	"github.com/nexusroom/server/internal/monitor"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/replication"
	"github.com/nexusroom/server/internal/spatial"
	"github.com/nexusroom/server/internal/trade"
	"github.com/nexusroom/server/internal/validate"
)

const (
	baseDamage       = 50
	critChance       = 0.10
	hitRadius        = 1.0
	projectileQuery  = 2.0
	aggroRange       = 10.0
	anchorDriftRange = 20.0
	stepTowardTarget = 0.05
	stepTowardAnchor = 0.03
	stepDriftHome    = 0.02
	maxEnemies       = 50
	worldBossHP      = 10000
	worldBossLevel   = 50
)

// Outbound is a single {type, payload} frame ready for the transport
// layer to deliver, either to one connection or broadcast.
type Outbound struct {
	Type    string
	Payload any
	To      string // empty means broadcast to the whole room
}

// Sender is what the room uses to hand outbound frames to the
// transport layer. The room never imports the transport package
// directly.
type Sender interface {
	Send(out Outbound)
}

// Room owns every player, enemy, projectile, loot drop, and guild for
// its lifetime, plus the derived subsystems (dungeon, trading) that act
// on that state. All mutation happens from the tick goroutine.
type Room struct {
	ID string

	cfg config.GameConfig
	log *zap.Logger

	// players, enemies, projectiles, loot, and guilds are touched only
	// from the room's single tick/dispatch goroutine; the transport layer
	// posts commands onto that goroutine rather than reading concurrently.
	players map[string]*Player
	enemies map[string]*Enemy
	projectiles map[string]*Projectile
	loot    map[string]*LootDrop
	guilds  map[string]*Guild

	grid  *spatial.Grid
	combo *comboTracker

	validator *validate.Validator
	batcher   *replication.Batcher
	compressor *replication.Compressor

	repo         persist.Repository
	quests       collab.QuestSystem
	battlePass   collab.BattlePass
	achievements collab.AchievementSystem

	dungeons *dungeon.Manager
	trades   *trade.Manager

	mon        *monitor.Core
	promBridge *monitor.PromBridge

	bus    *event.Bus
	runner *system.Runner

	sender Sender

	tickCount     int64
	lastSpawnAt   time.Time
	nextBossAt    time.Time
	lastHygieneAt time.Time

	now func() time.Time
}

type Deps struct {
	Config       config.GameConfig
	Log          *zap.Logger
	Repo         persist.Repository
	Quests       collab.QuestSystem
	BattlePass   collab.BattlePass
	Achievements collab.AchievementSystem
	Monitor      *monitor.Core
	PromBridge   *monitor.PromBridge
	Sender       Sender
}

func New(id string, deps Deps) *Room {
	now := time.Now
	r := &Room{
		ID:           id,
		cfg:          deps.Config,
		log:          deps.Log.With(zap.String("room", id)),
		players:      make(map[string]*Player),
		enemies:      make(map[string]*Enemy),
		projectiles:  make(map[string]*Projectile),
		loot:         make(map[string]*LootDrop),
		guilds:       make(map[string]*Guild),
		grid:         spatial.New(deps.Config.SpatialCellSize),
		combo:        newComboTracker(now),
		validator:    validate.New(deps.Config.PlayerBaseSpeed),
		batcher:      replication.NewBatcher(),
		compressor:   replication.NewCompressor(),
		repo:         deps.Repo,
		quests:       deps.Quests,
		battlePass:   deps.BattlePass,
		achievements: deps.Achievements,
		mon:          deps.Monitor,
		promBridge:   deps.PromBridge,
		bus:          event.NewBus(),
		sender:       deps.Sender,
		now:          now,
		nextBossAt:   now().Add(deps.Config.WorldBossInterval),
	}
	r.dungeons = dungeon.NewManager(deps.Repo, deps.Achievements, r.log)
	r.trades = trade.NewManager(deps.Repo)
	r.runner = r.buildRunner()
	r.validator.Observer = func(account string, level validate.SuspicionLevel, reason string) {
		if r.mon != nil {
			r.mon.Log(monitor.LevelWarn, reason, account, map[string]any{"suspicionLevel": string(level)})
		}
		if r.promBridge != nil {
			r.promBridge.IncSuspicion(r.ID, string(level))
		}
	}
	return r
}

// buildRunner registers one system per phase. PhaseInput has nothing to
// drain here: inbound messages are applied synchronously via Dispatch as
// they arrive on the room's single goroutine, rather than queued for a
// dedicated input phase.
func (r *Room) buildRunner() *system.Runner {
	runner := system.NewRunner()
	runner.Register(system.Func{P: system.PhaseDispatch, Fn: func(time.Duration) {
		r.bus.SwapBuffers()
		r.bus.DispatchAll()
	}})
	runner.Register(system.Func{P: system.PhaseCombat, Fn: func(dt time.Duration) {
		r.reindexMobileEntities()
		r.advanceProjectiles(dt)
		r.resolveProjectileHits()
	}})
	runner.Register(system.Func{P: system.PhaseAI, Fn: func(dt time.Duration) {
		r.applyAggroAI(dt)
	}})
	runner.Register(system.Func{P: system.PhaseReplication, Fn: func(time.Duration) {
		if r.tickCount%5 == 0 {
			r.broadcastDeltas()
		}
	}})
	runner.Register(system.Func{P: system.PhaseCleanup, Fn: func(time.Duration) {
		r.pruneExpiredLoot()
		r.maybeSpawnEnemy()
		r.maybeSpawnWorldBoss()
		r.maybeRunHygiene()
	}})
	return runner
}

// Tick advances the room one step through the phase-ordered runner.
// Inbound messages were already applied via Dispatch before this call,
// serialized into the room's single execution context.
func (r *Room) Tick(dt time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic recovered in tick, continuing", zap.Any("panic", rec))
		}
	}()

	start := r.now()
	r.tickCount++

	r.runner.Tick(dt)

	elapsed := r.now().Sub(start)
	if r.mon != nil {
		r.mon.RecordMetric("tick_time_ms", float64(elapsed.Milliseconds()), map[string]string{"room": r.ID})
	}
	if r.promBridge != nil {
		r.promBridge.ObserveTick(r.ID, elapsed.Seconds())
		r.promBridge.SetCounts(r.ID, len(r.players), len(r.enemies), len(r.projectiles))
	}
}

// Stats is a point-in-time read of room occupancy for the read-only
// monitoring surface.
type Stats struct {
	RoomID      string
	TickNumber  int64
	Players     int
	Enemies     int
	Projectiles int
	Loot        int
	Guilds      int
}

func (r *Room) Stats() Stats {
	return Stats{
		RoomID:      r.ID,
		TickNumber:  r.tickCount,
		Players:     len(r.players),
		Enemies:     len(r.enemies),
		Projectiles: len(r.projectiles),
		Loot:        len(r.loot),
		Guilds:      len(r.guilds),
	}
}

func (r *Room) reindexMobileEntities() {
	for id, p := range r.players {
		if p.connected {
			r.grid.Move(id, p.Pos)
		}
	}
	for id, e := range r.enemies {
		r.grid.Move(id, e.Pos)
	}
	for id, pr := range r.projectiles {
		r.grid.Move(id, pr.Pos)
	}
}

func (r *Room) advanceProjectiles(dt time.Duration) {
	seconds := dt.Seconds()
	for id, pr := range r.projectiles {
		pr.Pos.X += pr.Direction.X * pr.Speed * seconds
		pr.Pos.Y += pr.Direction.Y * pr.Speed * seconds
		pr.Pos.Z += pr.Direction.Z * pr.Speed * seconds
		pr.TTLMs -= int(dt.Milliseconds())
		if pr.TTLMs <= 0 {
			r.removeProjectile(id)
		}
	}
}

func (r *Room) removeProjectile(id string) {
	delete(r.projectiles, id)
	r.grid.Remove(id)
}

func (r *Room) resolveProjectileHits() {
	for id, pr := range r.projectiles {
		candidates := r.grid.Query(pr.Pos, projectileQuery)
		for _, candID := range candidates {
			enemy, ok := r.enemies[candID]
			if !ok {
				continue
			}
			if spatial.Distance(pr.Pos, enemy.Pos) >= hitRadius {
				continue
			}
			r.applyHit(pr, enemy)
			r.removeProjectile(id)
			break
		}
	}
}

func (r *Room) applyHit(pr *Projectile, enemy *Enemy) {
	caster, ok := r.players[pr.CasterID]
	if !ok {
		return
	}
	mult := r.combo.Multiplier(pr.CasterID)
	dmg := float64(baseDamage) * mult
	crit := deterministicCrit(pr.ID)
	if crit {
		dmg *= 2
	}
	amount := int(math.Floor(dmg))

	if !r.validator.ValidateDamage(caster.AccountID, amount) {
		return
	}

	enemy.HP -= amount
	r.batcher.Stage(replication.KindEnemy, enemy.ID, "hp", enemy.HP)
	event.Emit(r.bus, event.DamageNumber{RoomID: r.ID, TargetID: enemy.ID, Amount: amount, Crit: crit})

	if enemy.HP <= 0 {
		r.handleKill(caster, enemy)
	}
}

// deterministicCrit replaces a literal coin flip with a stable hash of
// the projectile id so repeated ticks in tests are reproducible; in
// production the id is unique per cast so the distribution still
// approximates critChance over many casts.
func deterministicCrit(projectileID string) bool {
	var h uint32
	for _, c := range projectileID {
		h = h*31 + uint32(c)
	}
	return float64(h%100)/100 < critChance
}

func (r *Room) handleKill(caster *Player, enemy *Enemy) {
	mult := r.combo.RegisterKill(caster.CharacterID)

	r.dropLoot(enemy.Pos)
	delete(r.enemies, enemy.ID)
	r.grid.Remove(enemy.ID)

	event.Emit(r.bus, event.EnemyKilled{RoomID: r.ID, EnemyID: enemy.ID, EnemyType: enemy.Type, KillerAccount: caster.AccountID, Combo: int(mult * 10)})

	if r.quests != nil {
		r.quests.HandleEvent(caster.AccountID, "kill", enemy.Type, 1)
	}
	if r.battlePass != nil {
		r.battlePass.AddXP(caster.AccountID, 10)
	}
	if r.achievements != nil {
		if _, err := r.achievements.HandleEvent(caster.AccountID, "kill"); err != nil {
			r.log.Warn("achievement handling failed", zap.Error(err))
		}
	}

	r.sender.Send(Outbound{Type: "kill", Payload: map[string]any{"enemyId": enemy.ID, "killer": caster.CharacterID}})

	if r.promBridge != nil {
		r.promBridge.IncKill(r.ID)
	}
}

func (r *Room) dropLoot(pos spatial.Vec3) {
	id := fmt.Sprintf("loot-%d-%d", r.tickCount, len(r.loot))
	r.loot[id] = &LootDrop{
		ID:        id,
		Item:      "credits",
		Pos:       pos,
		ExpiresAt: r.now().Add(r.cfg.LootExpiry).UnixMilli(),
	}
}

func (r *Room) applyAggroAI(dt time.Duration) {
	for _, e := range r.enemies {
		target := r.nearestPlayerWithin(e.Pos, aggroRange)
		switch {
		case target != nil:
			stepToward(e, target.Pos, stepTowardTarget)
		case spatial.Distance(e.Pos, e.SpawnAnchor) > anchorDriftRange:
			stepToward(e, e.SpawnAnchor, stepTowardAnchor)
		default:
			stepToward(e, e.SpawnAnchor, stepDriftHome)
		}
	}
}

func (r *Room) nearestPlayerWithin(pos spatial.Vec3, radius float64) *Player {
	var nearest *Player
	best := math.MaxFloat64
	for _, p := range r.players {
		if !p.connected {
			continue
		}
		d := spatial.Distance(pos, p.Pos)
		if d <= radius && d < best {
			best = d
			nearest = p
		}
	}
	return nearest
}

func stepToward(e *Enemy, target spatial.Vec3, step float64) {
	dx := target.X - e.Pos.X
	dz := target.Z - e.Pos.Z
	dist := math.Hypot(dx, dz)
	if dist > 1e-6 {
		e.Pos.X += dx / dist * step
		e.Pos.Z += dz / dist * step
	}
	e.Heading = math.Atan2(dx, dz)
}

func (r *Room) broadcastDeltas() {
	snapshot := r.buildSnapshot()
	deltas := r.compressor.Diff(snapshot.Reduce())
	if len(deltas) > 0 {
		r.sender.Send(Outbound{Type: "delta", Payload: deltas})
	}
	if batch := r.batcher.Flush(); batch != nil {
		r.sender.Send(Outbound{Type: "batch", Payload: batch})
	}
}

func (r *Room) buildSnapshot() replication.Snapshot {
	snap := replication.NewSnapshot()
	for id, p := range r.players {
		snap.Players[id] = replication.PlayerView{
			ID: id, Name: p.Name, Race: p.Race, X: p.Pos.X, Y: p.Pos.Y, Z: p.Pos.Z, Heading: p.Rotation,
			HP: p.HP, MaxHP: p.MaxHP, Mana: p.Mana, MaxMana: p.MaxMana, Level: p.Level, GuildTag: p.GuildID,
		}
	}
	for id, e := range r.enemies {
		snap.Enemies[id] = replication.EnemyView{ID: id, Type: e.Type, X: e.Pos.X, Y: e.Pos.Y, Z: e.Pos.Z, Heading: e.Heading, HP: e.HP, MaxHP: e.MaxHP, Level: e.Level}
	}
	for id, pr := range r.projectiles {
		snap.Projectiles[id] = replication.ProjectileView{ID: id, Spell: pr.Spell, CasterID: pr.CasterID, X: pr.Pos.X, Y: pr.Pos.Y, Z: pr.Pos.Z}
	}
	for id, l := range r.loot {
		snap.Loot[id] = replication.LootView{ID: id, Item: l.Item, X: l.Pos.X, Y: l.Pos.Y, Z: l.Pos.Z, OwnerID: l.OwnerID}
	}
	for id, g := range r.guilds {
		snap.Guilds[id] = replication.GuildView{ID: id, Name: g.Name, Tag: g.Tag, LeaderID: g.Leader, Members: g.Members}
	}
	return snap
}

func (r *Room) pruneExpiredLoot() {
	now := r.now().UnixMilli()
	for id, l := range r.loot {
		if now > l.ExpiresAt {
			delete(r.loot, id)
		}
	}
}

func (r *Room) maybeSpawnEnemy() {
	if r.now().Sub(r.lastSpawnAt) < r.cfg.EnemySpawnInterval {
		return
	}
	r.lastSpawnAt = r.now()
	connected := r.connectedPlayerCount()
	if connected == 0 || len(r.enemies) >= maxEnemies {
		return
	}
	r.spawnEnemy()
}

func (r *Room) connectedPlayerCount() int {
	n := 0
	for _, p := range r.players {
		if p.connected {
			n++
		}
	}
	return n
}

func (r *Room) spawnEnemy() *Enemy {
	angle := float64(len(r.enemies)) * 0.618 * 2 * math.Pi
	radius := 15 + float64(len(r.enemies)%16)
	anchor := spatial.Vec3{X: math.Cos(angle) * radius, Y: 0, Z: math.Sin(angle) * radius}
	id := fmt.Sprintf("enemy-%d-%d", r.tickCount, len(r.enemies))
	e := &Enemy{ID: id, Type: "grunt", Pos: anchor, SpawnAnchor: anchor, HP: 100, MaxHP: 100, Level: 1}
	r.enemies[id] = e
	r.grid.Insert(id, e.Pos)
	return e
}

// InitialSpawn seeds the room with min(5, max(1, floor(clients/2)))
// enemies on boot.
func (r *Room) InitialSpawn(clients int) {
	n := clients / 2
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		r.spawnEnemy()
	}
}

func (r *Room) maybeSpawnWorldBoss() {
	if r.now().Before(r.nextBossAt) {
		return
	}
	r.nextBossAt = r.now().Add(r.cfg.WorldBossInterval)

	id := fmt.Sprintf("boss-%d", r.tickCount)
	boss := &Enemy{ID: id, Type: "worldboss", Pos: spatial.Vec3{}, HP: worldBossHP, MaxHP: worldBossHP, Level: worldBossLevel}
	r.enemies[id] = boss
	r.grid.Insert(id, boss.Pos)

	event.Emit(r.bus, event.WorldBossSpawned{RoomID: r.ID, EnemyID: id})
	r.sender.Send(Outbound{Type: "bossSpawn", Payload: map[string]any{"enemyId": id}})
}

func (r *Room) maybeRunHygiene() {
	if r.now().Sub(r.lastHygieneAt) < r.cfg.MemoryHygieneInterval {
		return
	}
	r.lastHygieneAt = r.now()
	r.pruneExpiredLoot()
	r.combo.EvictStale(30 * time.Second)
	for _, released := range r.dungeons.SweepIdle() {
		r.log.Debug("released idle dungeon instance", zap.String("instance", released))
	}
	r.trades.SweepExpired()
}

// Connect registers a new connected player, called by the session
// manager after a successful join.
func (r *Room) Connect(p *Player) {
	p.connected = true
	r.players[p.CharacterID] = p
	r.grid.Insert(p.CharacterID, p.Pos)
	event.Emit(r.bus, event.PlayerJoined{RoomID: r.ID, Account: p.AccountID})
}

// Disconnect removes a player from live state and clears its
// per-session validator bookkeeping.
func (r *Room) Disconnect(characterID, accountID string) {
	delete(r.players, characterID)
	r.grid.Remove(characterID)
	r.validator.Disconnect(accountID)
	r.dungeons.Leave(accountID)
	event.Emit(r.bus, event.PlayerLeft{RoomID: r.ID, Account: accountID})
}

func (r *Room) Player(characterID string) (*Player, bool) {
	p, ok := r.players[characterID]
	return p, ok
}

// SaveAllConnected runs the 60s auto-save timer's job: save every
// connected player's current state to the repository.
func (r *Room) SaveAllConnected(ctx context.Context) {
	for _, p := range r.players {
		rec, err := r.repo.Load(ctx, p.CharacterID)
		if err != nil || rec == nil {
			continue
		}
		applyPlayerToRecord(p, rec)
		if err := r.repo.Save(ctx, rec); err != nil {
			r.log.Warn("auto-save failed", zap.String("character", p.CharacterID), zap.Error(err))
		}
	}
}

func applyPlayerToRecord(p *Player, rec *persist.PlayerRecord) {
	rec.HP, rec.MaxHP = p.HP, p.MaxHP
	rec.Mana, rec.MaxMana = p.Mana, p.MaxMana
	rec.Level = p.Level
	rec.X, rec.Y, rec.Z = p.Pos.X, p.Pos.Y, p.Pos.Z
	rec.Rotation = p.Rotation
	rec.LastLogin = time.Now()
}
