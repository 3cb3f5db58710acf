package dungeon

import "testing"

func TestGenerateIsReproducible(t *testing.T) {
	a := Generate(42, 1, 10)
	b := Generate(42, 1, 10)

	if len(a.Rooms) != len(b.Rooms) {
		t.Fatalf("room count mismatch: %d vs %d", len(a.Rooms), len(b.Rooms))
	}
	for i := range a.Rooms {
		if a.Rooms[i].Bounds != b.Rooms[i].Bounds || a.Rooms[i].Type != b.Rooms[i].Type {
			t.Fatalf("room %d differs between identical-seed runs: %+v vs %+v", i, a.Rooms[i], b.Rooms[i])
		}
	}
	if len(a.Entities) != len(b.Entities) {
		t.Fatalf("entity count mismatch: %d vs %d", len(a.Entities), len(b.Entities))
	}
}

func TestGenerateDifferentSeedsDiffer(t *testing.T) {
	a := Generate(1, 1, 10)
	b := Generate(2, 1, 10)
	if len(a.Rooms) == len(b.Rooms) {
		same := true
		for i := range a.Rooms {
			if a.Rooms[i].Bounds != b.Rooms[i].Bounds {
				same = false
				break
			}
		}
		if same {
			t.Fatal("different seeds should not reliably produce identical layouts")
		}
	}
}

func TestFirstRoomIsStartLastIsBoss(t *testing.T) {
	inst := Generate(7, 2, 5)
	if inst.Rooms[0].Type != RoomStart {
		t.Errorf("room 0 should be start, got %s", inst.Rooms[0].Type)
	}
	if inst.Rooms[len(inst.Rooms)-1].Type != RoomBoss {
		t.Errorf("last room should be boss, got %s", inst.Rooms[len(inst.Rooms)-1].Type)
	}
}

func TestAllRoomsConnected(t *testing.T) {
	inst := Generate(99, 1, 1)
	visited := make(map[int]bool)
	var stack []int
	stack = append(stack, inst.Rooms[0].ID)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, next := range inst.Rooms[id].Connections {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	if len(visited) != len(inst.Rooms) {
		t.Fatalf("only %d/%d rooms reachable from start, layout is disconnected", len(visited), len(inst.Rooms))
	}
}

func TestBossRoomSpawnsOneBoss(t *testing.T) {
	inst := Generate(13, 1, 10)
	bossRoom := inst.Rooms[len(inst.Rooms)-1]

	count := 0
	for _, e := range inst.Entities {
		if e.RoomID == bossRoom.ID && e.Type == EntityBoss {
			count++
			if hp, _ := e.Data["hp"].(int); hp != 1000+10*100 {
				t.Errorf("boss hp = %v, want %d", e.Data["hp"], 1000+10*100)
			}
		}
	}
	if count != 1 {
		t.Fatalf("boss room should have exactly one boss entity, got %d", count)
	}
}
