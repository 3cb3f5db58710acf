package validate

import (
	"testing"
	"time"
)

func TestValidateMovementAcceptsFirstPosition(t *testing.T) {
	v := New(5)
	if !v.ValidateMovement("acct1", Position{X: 0, Y: 0, Z: 0}, time.Second) {
		t.Fatal("first position report should always be accepted")
	}
}

func TestValidateMovementRejectsTeleport(t *testing.T) {
	v := New(5)
	v.ValidateMovement("acct1", Position{}, time.Second)

	if v.ValidateMovement("acct1", Position{X: 100}, 100*time.Millisecond) {
		t.Fatal("a 100-unit jump should be rejected as a teleport")
	}
	if pos, _ := v.LastAcceptedPosition("acct1"); pos.X != 0 {
		t.Fatalf("rejected movement must not update last accepted position, got %+v", pos)
	}
}

func TestValidateMovementRejectsSpeedHack(t *testing.T) {
	v := New(5)
	v.ValidateMovement("acct1", Position{}, time.Second)

	// 20 units in 1s at base speed 5 (max ~18.75) should be rejected.
	if v.ValidateMovement("acct1", Position{X: 20}, time.Second) {
		t.Fatal("sustained over-speed movement should be rejected")
	}
}

func TestValidateMovementAcceptsNormalWalk(t *testing.T) {
	v := New(5)
	v.ValidateMovement("acct1", Position{}, time.Second)
	if !v.ValidateMovement("acct1", Position{X: 4}, time.Second) {
		t.Fatal("walking at base speed should be accepted")
	}
}

func TestValidateDamageRejectsOutOfRange(t *testing.T) {
	v := New(5)
	if v.ValidateDamage("acct1", 0) {
		t.Error("zero damage should be rejected")
	}
	if v.ValidateDamage("acct1", 50000) {
		t.Error("damage over cap should be rejected")
	}
	if !v.ValidateDamage("acct1", 25) {
		t.Error("ordinary damage should be accepted")
	}
}

func TestValidateSpellCastEnforcesCooldown(t *testing.T) {
	now := time.Now()
	v := New(5)
	v.Now = func() time.Time { return now }

	if !v.ValidateSpellCast("acct1", "fireball", 2*time.Second) {
		t.Fatal("first cast should be accepted")
	}
	if v.ValidateSpellCast("acct1", "fireball", 2*time.Second) {
		t.Fatal("immediate recast should be rejected by cooldown")
	}

	now = now.Add(3 * time.Second)
	if !v.ValidateSpellCast("acct1", "fireball", 2*time.Second) {
		t.Fatal("cast after cooldown elapses should be accepted")
	}
}

func TestValidateInventoryChangeRejectsNegativeRemoval(t *testing.T) {
	v := New(5)
	if v.ValidateInventoryChange("acct1", -1, OpRemove) {
		t.Fatal("negative removal quantity should be rejected")
	}
}

func TestDetectCheatingEscalatesWithSuspicionVolume(t *testing.T) {
	now := time.Now()
	v := New(5)
	v.Now = func() time.Time { return now }

	if level := v.DetectCheating("acct1"); level != LevelNone {
		t.Fatalf("fresh account should start at LevelNone, got %s", level)
	}

	for i := 0; i < 5; i++ {
		v.ValidateDamage("acct1", 0) // each logs a low suspicion
	}
	if level := v.DetectCheating("acct1"); level != LevelMedium {
		t.Fatalf("5 suspicions should reach LevelMedium, got %s", level)
	}
}

func TestDisconnectClearsState(t *testing.T) {
	v := New(5)
	v.ValidateMovement("acct1", Position{X: 1}, time.Second)
	v.Disconnect("acct1")

	if _, ok := v.LastAcceptedPosition("acct1"); ok {
		t.Fatal("position state should be cleared after disconnect")
	}
	if got := v.Suspicions("acct1"); got != nil {
		t.Fatalf("suspicion history should be cleared after disconnect, got %v", got)
	}
}
