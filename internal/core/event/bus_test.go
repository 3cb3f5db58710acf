package event

import "testing"

type testEvent struct{ N int }

func TestEmitIsNotVisibleUntilSwap(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(e testEvent) { got = append(got, e.N) })

	Emit(b, testEvent{N: 1})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("event delivered before SwapBuffers: %v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestSwapBuffersClearsNewBackBuffer(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(e testEvent) { got = append(got, e.N) })

	Emit(b, testEvent{N: 1})
	b.SwapBuffers() // tick 1 start: front has {1}, back is empty
	b.SwapBuffers() // tick 2 start: front should now be empty, not {1} again
	b.DispatchAll()

	if len(got) != 0 {
		t.Fatalf("stale event redelivered after second swap: %v", got)
	}
}

func TestMultipleSubscribersAllReceiveEvent(t *testing.T) {
	b := NewBus()
	var a, c int
	Subscribe(b, func(e testEvent) { a += e.N })
	Subscribe(b, func(e testEvent) { c += e.N * 2 })

	Emit(b, testEvent{N: 3})
	b.SwapBuffers()
	b.DispatchAll()

	if a != 3 || c != 6 {
		t.Fatalf("got a=%d c=%d, want a=3 c=6", a, c)
	}
}

func TestDistinctEventTypesDoNotCrossDeliver(t *testing.T) {
	type otherEvent struct{ S string }
	b := NewBus()
	var gotTest, gotOther bool
	Subscribe(b, func(testEvent) { gotTest = true })
	Subscribe(b, func(otherEvent) { gotOther = true })

	Emit(b, testEvent{N: 1})
	b.SwapBuffers()
	b.DispatchAll()

	if !gotTest || gotOther {
		t.Fatalf("got test=%v other=%v, want test=true other=false", gotTest, gotOther)
	}
}
