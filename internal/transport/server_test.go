package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/config"
	"github.com/nexusroom/server/internal/identity"
	"github.com/nexusroom/server/internal/monitor"
	"github.com/nexusroom/server/internal/persist"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	repo := persist.NewRepository(persist.NewMemoryStore(), zap.NewNop())
	s := NewServer(
		config.NetworkConfig{TickRate: 10 * time.Millisecond, CommandQueue: 16, OutboundBuffer: 16, WriteTimeout: time.Second, ReadTimeout: time.Hour},
		config.RateLimitConfig{Enabled: false},
		ServerDeps{
			Log:      zap.NewNop(),
			Repo:     repo,
			Verifier: identity.None{},
			Monitor:  monitor.NewCore(nil),
		},
	)
	ctx, cancel := context.WithCancel(context.Background())
	s.CreateRoom(ctx, "room-1", config.GameConfig{
		PlayerBaseSpeed:       5,
		SpatialCellSize:       10,
		LootExpiry:            time.Minute,
		EnemySpawnInterval:    time.Hour,
		WorldBossInterval:     time.Hour,
		MemoryHygieneInterval: time.Hour,
		RoomCapacity:          10,
		AutoSaveInterval:      time.Hour,
	})
	return s, func() { cancel(); repo.Close() }
}

func TestDebugRoomsReportsCreatedRoom(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/debug/rooms", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var body roomsStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Rooms) != 1 || body.Rooms[0].RoomID != "room-1" {
		t.Fatalf("got %+v, want one room-1 entry", body.Rooms)
	}
}

func TestMetricsEndpointServesPlaintext(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestWebSocketUpgradeUnknownRoomIs404(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/ws/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

func TestWebSocketJoinAndDispatchRoundTrip(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room-1?token=player-1&name=Arin"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	env := envelope{Type: "chat", Payload: json.RawMessage(`{"text":"hello"}`)}
	data, _ := json.Marshal(env)
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	inst, _ := s.Room("room-1")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := inst.Room.Player("player-1:Arin"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected joined player to be registered in the room within the deadline")
}
