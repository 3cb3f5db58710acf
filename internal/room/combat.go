package room

import (
	"fmt"
	"math"
	"time"

	"github.com/nexusroom/server/internal/roomerr"
	"github.com/nexusroom/server/internal/spatial"
)

// spellDef is the server-side authority for a spell's mana cost,
// cooldown, and flight characteristics. The client only supplies the
// cast direction; everything else is server-authoritative.
type spellDef struct {
	ManaCost int
	Cooldown time.Duration
	Speed    float64
	TTLMs    int
}

var spellTable = map[string]spellDef{
	"fireball":  {ManaCost: 20, Cooldown: 1500 * time.Millisecond, Speed: 15, TTLMs: 2000},
	"frostbolt": {ManaCost: 15, Cooldown: 1000 * time.Millisecond, Speed: 18, TTLMs: 1500},
	"arrow":     {ManaCost: 5, Cooldown: 400 * time.Millisecond, Speed: 25, TTLMs: 1000},
}

func spellOrDefault(id string) spellDef {
	if def, ok := spellTable[id]; ok {
		return def
	}
	return spellDef{ManaCost: 10, Cooldown: 800 * time.Millisecond, Speed: 10, TTLMs: 2000}
}

// rotationToDirection is the asserted client/server convention:
// dirX = sin(rotation), dirZ = cos(rotation).
func rotationToDirection(rotation float64) spatial.Vec3 {
	return spatial.Vec3{X: math.Sin(rotation), Y: 0, Z: math.Cos(rotation)}
}

// CastSpell validates mana and cooldown, then spawns a
// projectile from the caster's current position along its rotation.
func (r *Room) CastSpell(caster *Player, spellID string, rotation float64) error {
	def := spellOrDefault(spellID)

	if caster.Mana < def.ManaCost {
		return roomerr.New(roomerr.InvalidState, "spellCastRejected: insufficient mana")
	}
	if !r.validator.ValidateSpellCast(caster.AccountID, spellID, def.Cooldown) {
		return roomerr.New(roomerr.Cheating, "spellCastRejected: cooldown violation")
	}

	caster.Mana -= def.ManaCost
	caster.clampStats()

	id := fmt.Sprintf("proj-%d-%d", r.tickCount, len(r.projectiles))
	pr := &Projectile{
		ID:        id,
		Spell:     spellID,
		CasterID:  caster.CharacterID,
		Pos:       caster.Pos,
		Direction: rotationToDirection(rotation),
		Speed:     def.Speed,
		TTLMs:     def.TTLMs,
	}
	r.projectiles[id] = pr
	r.grid.Insert(id, pr.Pos)
	return nil
}

const lootPickupRange = 2.0

// PickupLoot binds a loot drop to picker if it is within range and
// unowned. Re-sending for an already-bound item is rejected without
// side effects.
func (r *Room) PickupLoot(picker *Player, lootID string) error {
	l, ok := r.loot[lootID]
	if !ok {
		return roomerr.New(roomerr.NotFound, "loot not found")
	}
	if l.OwnerID != "" {
		return roomerr.New(roomerr.InvalidState, "loot already claimed")
	}
	if spatial.Distance(picker.Pos, l.Pos) > lootPickupRange {
		return roomerr.New(roomerr.InvalidState, "too far from loot")
	}
	l.OwnerID = picker.CharacterID
	delete(r.loot, lootID)
	return nil
}
