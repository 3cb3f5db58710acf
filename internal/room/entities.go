// Package room implements the authoritative per-room tick loop: entity
// state, combat resolution, aggro AI, spawn policy, and the message
// dispatch that wires every inbound client message to the room's
// validator, replication pipeline, and external collaborators.
package room

import (
	"time"

	"github.com/nexusroom/server/internal/spatial"
)

// Player is the session-scoped live view of a connected character.
type Player struct {
	CharacterID string
	AccountID   string
	Name        string
	Race        string

	Pos      spatial.Vec3
	Rotation float64

	lastMoveAt time.Time // zero until the first accepted move message

	HP, MaxHP     int
	Mana, MaxMana int
	Level         int

	GuildID string

	connected bool
}

func (p *Player) clampStats() {
	if p.HP < 0 {
		p.HP = 0
	}
	if p.HP > p.MaxHP {
		p.HP = p.MaxHP
	}
	if p.Mana < 0 {
		p.Mana = 0
	}
	if p.Mana > p.MaxMana {
		p.Mana = p.MaxMana
	}
}

// Enemy is a simulated hostile entity.
type Enemy struct {
	ID          string
	Type        string
	Pos         spatial.Vec3
	Heading     float64
	HP, MaxHP   int
	Level       int
	SpawnAnchor spatial.Vec3
}

// Projectile is a simulated spell effect in flight.
type Projectile struct {
	ID         string
	Spell      string
	CasterID   string
	Pos        spatial.Vec3
	Direction  spatial.Vec3
	Speed      float64
	TTLMs      int
}

// ResourceNode is a static, periodically-respawning gatherable.
type ResourceNode struct {
	ID            string
	Type          string
	Pos           spatial.Vec3
	LastHarvested int64 // unix millis
	RespawnMs     int
}

// LootDrop is a pickup on the ground.
type LootDrop struct {
	ID        string
	Item      string
	Pos       spatial.Vec3
	OwnerID   string
	ExpiresAt int64 // unix millis
}

// Guild is the room-scoped view of a player guild.
type Guild struct {
	ID      string
	Name    string
	Tag     string
	Leader  string
	Members []string
}
