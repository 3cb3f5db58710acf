package room

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/collab"
	"github.com/nexusroom/server/internal/config"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/spatial"
	"github.com/nexusroom/server/internal/validate"
)

type recordingSender struct {
	sent []Outbound
}

func (s *recordingSender) Send(out Outbound) { s.sent = append(s.sent, out) }

func newTestRoom(t *testing.T) (*Room, *recordingSender) {
	t.Helper()
	log := zap.NewNop()
	repo := persist.NewRepository(persist.NewMemoryStore(), log)
	sender := &recordingSender{}
	r := New("test-room", Deps{
		Config:       config.GameConfig{PlayerBaseSpeed: 5, SpatialCellSize: 10, LootExpiry: time.Minute, EnemySpawnInterval: time.Hour, WorldBossInterval: time.Hour, MemoryHygieneInterval: time.Hour},
		Log:          log,
		Repo:         repo,
		Quests:       collab.NoopQuestSystem{Log: log},
		BattlePass:   collab.NoopBattlePass{Log: log},
		Achievements: collab.NoopAchievementSystem{Log: log},
		Sender:       sender,
	})
	return r, sender
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func connectPlayer(r *Room, characterID, accountID string) *Player {
	p := &Player{CharacterID: characterID, AccountID: accountID, Name: "Hero", HP: 100, MaxHP: 100, Mana: 100, MaxMana: 100, Level: 5}
	r.Connect(p)
	return p
}

func TestHPAndManaStayWithinBounds(t *testing.T) {
	r, _ := newTestRoom(t)
	p := connectPlayer(r, "char-1", "acct-1")

	p.HP = -10
	p.Mana = 500
	p.clampStats()

	if p.HP != 0 {
		t.Fatalf("HP = %d, want clamped to 0", p.HP)
	}
	if p.Mana != p.MaxMana {
		t.Fatalf("Mana = %d, want clamped to MaxMana %d", p.Mana, p.MaxMana)
	}
}

func TestKilledEnemyIsRemovedFromStateGridAndAnchorInSameTick(t *testing.T) {
	r, _ := newTestRoom(t)
	caster := connectPlayer(r, "char-1", "acct-1")
	caster.Pos = spatial.Vec3{}

	enemy := r.spawnEnemy()
	enemy.Pos = spatial.Vec3{X: 5, Y: 0, Z: 0}
	enemy.HP = 1
	r.grid.Insert(enemy.ID, enemy.Pos)

	pr := &Projectile{ID: "proj-test", CasterID: caster.CharacterID, Pos: spatial.Vec3{X: 5, Y: 0, Z: 0}, Direction: spatial.Vec3{X: 1}, Speed: 1, TTLMs: 1000}
	r.projectiles[pr.ID] = pr
	r.grid.Insert(pr.ID, pr.Pos)

	r.resolveProjectileHits()

	if _, ok := r.enemies[enemy.ID]; ok {
		t.Fatalf("enemy %s still present in state map after lethal hit", enemy.ID)
	}
	if _, ok := r.grid.Position(enemy.ID); ok {
		t.Fatalf("enemy %s still present in spatial grid after lethal hit", enemy.ID)
	}
}

func TestComboMultiplierFormula(t *testing.T) {
	fixed := time.Unix(0, 0)
	tracker := newComboTracker(func() time.Time { return fixed })

	if m := tracker.RegisterKill("p1"); m != 1 {
		t.Fatalf("1st kill multiplier = %v, want 1", m)
	}
	if m := tracker.RegisterKill("p1"); m != 1 {
		t.Fatalf("2nd kill multiplier = %v, want 1", m)
	}
	m := tracker.RegisterKill("p1")
	if m != 1.1 {
		t.Fatalf("3rd kill multiplier = %v, want 1.1", m)
	}

	for i := 0; i < 30; i++ {
		m = tracker.RegisterKill("p1")
	}
	if m != 3 {
		t.Fatalf("multiplier after many kills = %v, want capped at 3", m)
	}
}

func TestComboResetsAfterIdleWindow(t *testing.T) {
	now := time.Unix(0, 0)
	tracker := newComboTracker(func() time.Time { return now })

	tracker.RegisterKill("p1")
	tracker.RegisterKill("p1")
	tracker.RegisterKill("p1")

	now = now.Add(9 * time.Second)
	m := tracker.RegisterKill("p1")
	if m != 1 {
		t.Fatalf("multiplier after idle window = %v, want reset to 1", m)
	}
}

func TestRejectedMovementTriggersPositionCorrection(t *testing.T) {
	r, sender := newTestRoom(t)
	p := connectPlayer(r, "char-1", "acct-1")
	p.Pos = spatial.Vec3{X: 0, Y: 1, Z: 0}

	r.validator.ValidateMovement(p.AccountID, validate.Position{X: p.Pos.X, Y: p.Pos.Y, Z: p.Pos.Z}, 16*time.Millisecond)

	payload := mustJSON(movePayload{X: 100, Y: 1, Z: 100})
	r.dispatchMove(p, payload)

	if p.Pos.X != 0 || p.Pos.Z != 0 {
		t.Fatalf("player position mutated on rejected move: %+v", p.Pos)
	}

	var found bool
	for _, out := range sender.sent {
		if out.Type == "positionCorrection" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a positionCorrection outbound frame, got %+v", sender.sent)
	}
}

func TestProjectileHitDealsBaseDamageOnNonCritNonCombo(t *testing.T) {
	r, _ := newTestRoom(t)
	caster := connectPlayer(r, "char-1", "acct-1")
	caster.Pos = spatial.Vec3{}

	enemy := r.spawnEnemy()
	enemy.Pos = spatial.Vec3{X: 5, Y: 0, Z: 0}
	enemy.HP = 100
	enemy.MaxHP = 100
	r.grid.Insert(enemy.ID, enemy.Pos)

	found := false
	for i := 0; i < 1000 && !found; i++ {
		id := fmt.Sprintf("proj-nocrit-%d", i)
		if deterministicCrit(id) {
			continue
		}
		pr := &Projectile{ID: id, CasterID: caster.CharacterID, Pos: spatial.Vec3{X: 5, Y: 0, Z: 0}, Direction: spatial.Vec3{X: 1}, Speed: 1, TTLMs: 1000}
		r.applyHit(pr, enemy)
		found = true
	}
	if !found {
		t.Fatal("could not find a non-crit projectile id in 1000 attempts")
	}
	if enemy.HP != 50 {
		t.Fatalf("enemy HP after non-crit base hit = %d, want 50", enemy.HP)
	}
}

func TestGuildLeadershipHandsOffOnLeaderExit(t *testing.T) {
	r, _ := newTestRoom(t)
	leader := connectPlayer(r, "char-1", "acct-1")
	member := connectPlayer(r, "char-2", "acct-2")

	g, err := r.CreateGuild(leader, "Vanguard", "VG")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	if err := r.JoinGuild(member, g.ID); err != nil {
		t.Fatalf("JoinGuild: %v", err)
	}
	if err := r.LeaveGuild(leader); err != nil {
		t.Fatalf("LeaveGuild: %v", err)
	}
	if g.Leader != member.CharacterID {
		t.Fatalf("guild leader after founder exit = %s, want %s", g.Leader, member.CharacterID)
	}
}
