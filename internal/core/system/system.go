package system

import "time"

// Phase defines execution ordering within a single 60Hz room tick. The
// tick loop's steps are grouped into these phases.
type Phase int

const (
	PhaseInput       Phase = iota // 0: no room system; commands are applied outside the runner
	PhaseDispatch                 // 1: deliver last tick's events to subscribers
	PhaseCombat                   // 2: projectiles, hit resolution, combos, kills
	PhaseAI                       // 3: aggro, enemy movement
	PhaseReplication              // 4: delta compressor + batcher flush, every 5th tick
	PhasePersist                  // 5: no room system; auto-save runs on its own timer
	PhaseCleanup                  // 6: memory hygiene, expired-entity sweep
)

// System is the interface every room-tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Func adapts a plain function into a System for callers that don't need
// a dedicated type per phase.
type Func struct {
	P  Phase
	Fn func(dt time.Duration)
}

func (f Func) Phase() Phase          { return f.P }
func (f Func) Update(dt time.Duration) { f.Fn(dt) }
