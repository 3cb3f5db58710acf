// Package replication implements the three-layer state replication
// pipeline: a schema-mirrored wire snapshot, an update batcher, and a
// ~300ms delta compressor. The wire schema is kept independent of the
// room's internal server types, with explicit Snapshot structs carrying
// `json` tags rather than decorating server-side collection types.
package replication

// EntityKind tags which map an entity belongs to in the schema snapshot.
type EntityKind string

const (
	KindPlayer     EntityKind = "player"
	KindEnemy      EntityKind = "enemy"
	KindProjectile EntityKind = "projectile"
	KindLoot       EntityKind = "loot"
	KindGuild      EntityKind = "guild"
)

// PlayerView is the wire-visible projection of a player.
type PlayerView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Race     string  `json:"race"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Heading  float64 `json:"heading"`
	HP       int     `json:"hp"`
	MaxHP    int     `json:"maxHp"`
	Mana     int     `json:"mana"`
	MaxMana  int     `json:"maxMana"`
	Level    int     `json:"level"`
	GuildTag string  `json:"guildTag,omitempty"`
}

// EnemyView is the wire-visible projection of an enemy.
type EnemyView struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading"`
	HP      int     `json:"hp"`
	MaxHP   int     `json:"maxHp"`
	Level   int     `json:"level"`
}

// ProjectileView is the wire-visible projection of a projectile.
type ProjectileView struct {
	ID       string  `json:"id"`
	Spell    string  `json:"spell"`
	CasterID string  `json:"casterId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
}

// LootView is the wire-visible projection of a loot drop.
type LootView struct {
	ID      string  `json:"id"`
	Item    string  `json:"item"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	OwnerID string  `json:"ownerId,omitempty"`
}

// GuildView is the wire-visible projection of a guild.
type GuildView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Tag      string   `json:"tag"`
	LeaderID string   `json:"leaderId"`
	Members  []string `json:"members"`
}

// Snapshot is the full schema-mirrored room state: player map, enemy
// map, loot map, projectile map, guild map, and world-boss flags.
type Snapshot struct {
	Players     map[string]PlayerView     `json:"players"`
	Enemies     map[string]EnemyView      `json:"enemies"`
	Projectiles map[string]ProjectileView `json:"projectiles"`
	Loot        map[string]LootView       `json:"loot"`
	Guilds      map[string]GuildView      `json:"guilds"`
	WorldBoss   bool                      `json:"worldBoss"`
}

// NewSnapshot returns an empty, fully-initialized Snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Players:     make(map[string]PlayerView),
		Enemies:     make(map[string]EnemyView),
		Projectiles: make(map[string]ProjectileView),
		Loot:        make(map[string]LootView),
		Guilds:      make(map[string]GuildView),
	}
}

// ReducedEntity is the minimal projection the delta compressor diffs:
// position plus core stats, 
type ReducedEntity struct {
	X, Y, Z float64
	HP      int
	Level   int
}

// Reduce produces the diff input for the current snapshot.
func (s Snapshot) Reduce() map[string]ReducedEntity {
	out := make(map[string]ReducedEntity, len(s.Players)+len(s.Enemies)+len(s.Projectiles))
	for id, p := range s.Players {
		out[id] = ReducedEntity{X: p.X, Y: p.Y, Z: p.Z, HP: p.HP, Level: p.Level}
	}
	for id, e := range s.Enemies {
		out[id] = ReducedEntity{X: e.X, Y: e.Y, Z: e.Z, HP: e.HP, Level: e.Level}
	}
	for id, pr := range s.Projectiles {
		out[id] = ReducedEntity{X: pr.X, Y: pr.Y, Z: pr.Z}
	}
	return out
}
