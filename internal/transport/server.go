// Package transport (continued): Server wires a chi router, one Hub and
// command queue per room, and the goroutine that drives each room's
// tick loop, on top of the connection and rate-limiting primitives in
// this package.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nexusroom/server/internal/collab"
	"github.com/nexusroom/server/internal/config"
	"github.com/nexusroom/server/internal/identity"
	"github.com/nexusroom/server/internal/monitor"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/room"
	"github.com/nexusroom/server/internal/session"
)

const pingInterval = 30 * time.Second

// command is one inbound client frame queued for the room's single
// goroutine to apply alongside its own tick timer.
type command struct {
	characterID string
	msgType     string
	payload     json.RawMessage
}

// RoomInstance bundles a live Room with the machinery that drives it:
// the hub it broadcasts through, the session manager that owns its
// connections, and the command queue that serializes inbound frames
// onto the same goroutine as the tick timer.
type RoomInstance struct {
	Room     *room.Room
	Hub      *Hub
	Sessions *session.Manager

	commands chan command
	cancel   context.CancelFunc
	done     chan struct{}
}

// run is the room's single goroutine: it alternates between applying a
// queued command and firing the tick timer, so Dispatch and Tick never
// execute concurrently.
func (inst *RoomInstance) run(ctx context.Context, tickRate time.Duration) {
	defer close(inst.done)
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-inst.commands:
			inst.Room.Dispatch(ctx, cmd.characterID, cmd.msgType, cmd.payload)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			inst.Room.Tick(dt)
		}
	}
}

func (inst *RoomInstance) post(cmd command) bool {
	select {
	case inst.commands <- cmd:
		return true
	default:
		return false
	}
}

// ServerDeps are the collaborators shared by every room the server
// hosts.
type ServerDeps struct {
	Log        *zap.Logger
	Repo       persist.Repository
	Verifier   identity.Verifier
	Monitor    *monitor.Core
	PromBridge *monitor.PromBridge
	// PromGatherer is the registry PromBridge was built on. /metrics
	// serves the default registry if this is nil.
	PromGatherer prometheus.Gatherer

	// Quests, BattlePass, and Achievements are the content-catalog
	// collaborators handed to every room this server creates. Nil
	// fields fall back to logging no-ops so dispatch never needs to
	// nil-check them.
	Quests       collab.QuestSystem
	BattlePass   collab.BattlePass
	Achievements collab.AchievementSystem
}

type Server struct {
	netCfg  config.NetworkConfig
	rateCfg config.RateLimitConfig
	deps    ServerDeps

	upgrader    websocket.Upgrader
	connLimiter *connectLimiter

	mu    sync.RWMutex
	rooms map[string]*RoomInstance

	router *chi.Mux
}

func NewServer(netCfg config.NetworkConfig, rateCfg config.RateLimitConfig, deps ServerDeps) *Server {
	s := &Server{
		netCfg:  netCfg,
		rateCfg: rateCfg,
		deps:    deps,
		rooms:   make(map[string]*RoomInstance),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients aren't browsers enforcing same-origin; the
			// auth token on the handshake is the real trust boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if rateCfg.Enabled {
		s.connLimiter = newConnectLimiter(rateCfg)
	}
	if s.deps.Quests == nil {
		s.deps.Quests = collab.NoopQuestSystem{Log: deps.Log}
	}
	if s.deps.BattlePass == nil {
		s.deps.BattlePass = collab.NoopBattlePass{Log: deps.Log}
	}
	if s.deps.Achievements == nil {
		s.deps.Achievements = collab.NoopAchievementSystem{Log: deps.Log}
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
	}))

	wsRouter := chi.NewRouter()
	if s.connLimiter != nil {
		wsRouter.Use(s.connLimiter.Middleware)
	}
	wsRouter.Get("/{roomID}", s.handleWS)
	r.Mount("/ws", wsRouter)

	if s.deps.PromGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.PromGatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/debug/rooms", s.handleDebugRooms)

	return r
}

func (s *Server) Router() http.Handler { return s.router }

// CreateRoom builds a new room and starts its driving goroutine. The
// caller is responsible for calling Shutdown (or canceling ctx) when
// the room should stop.
func (s *Server) CreateRoom(ctx context.Context, id string, gameCfg config.GameConfig) *RoomInstance {
	hub := NewHub()
	rm := room.New(id, room.Deps{
		Config:       gameCfg,
		Log:          s.deps.Log,
		Repo:         s.deps.Repo,
		Quests:       s.deps.Quests,
		BattlePass:   s.deps.BattlePass,
		Achievements: s.deps.Achievements,
		Monitor:      s.deps.Monitor,
		PromBridge:   s.deps.PromBridge,
		Sender:       hub,
	})

	mgr := session.NewManager(rm, s.deps.Repo, s.deps.Verifier, gameCfg.AutoSaveInterval, s.deps.Log)

	roomCtx, cancel := context.WithCancel(ctx)
	inst := &RoomInstance{
		Room:     rm,
		Hub:      hub,
		Sessions: mgr,
		commands: make(chan command, s.netCfg.CommandQueue),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go inst.run(roomCtx, s.netCfg.TickRate)
	go mgr.RunAutoSave(roomCtx)

	s.mu.Lock()
	s.rooms[id] = inst
	s.mu.Unlock()
	return inst
}

func (s *Server) Room(id string) (*RoomInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.rooms[id]
	return inst, ok
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	inst, ok := s.Room(roomID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	token := r.URL.Query().Get("token")
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Wanderer"
	}

	conn := newConn(identity.NewSessionToken(), ws, s.netCfg.OutboundBuffer, s.netCfg.WriteTimeout, s.deps.Log)

	ctx := r.Context()
	sess, code, err := inst.Sessions.Join(ctx, session.JoinRequest{
		Token:         token,
		CharacterName: name,
		Conn:          conn,
	})
	if err != nil {
		s.deps.Log.Warn("join failed", zap.String("room", roomID), zap.String("ip", clientIP(r)), zap.Error(err))
	}
	if code != 0 {
		conn.Close(code, "join rejected")
		return
	}

	inst.Hub.register(sess.CharacterID, conn)

	var msgLimiter *rate.Limiter
	if s.rateCfg.Enabled {
		msgLimiter = rate.NewLimiter(rate.Limit(s.rateCfg.MessagesPerSecond), s.rateCfg.MessagesPerSecond*2)
	}

	go conn.writePump(pingInterval)
	conn.readPump(func(msgType string, payload json.RawMessage) {
		if msgLimiter != nil && !msgLimiter.Allow() {
			return
		}
		if !inst.post(command{characterID: sess.CharacterID, msgType: msgType, payload: payload}) {
			s.deps.Log.Warn("command queue full, dropping frame", zap.String("room", roomID), zap.String("character", sess.CharacterID))
		}
	}, s.netCfg.ReadTimeout)

	inst.Hub.unregister(sess.CharacterID)
	inst.Sessions.Leave(context.Background(), sess.AccountID)
}

type roomsStatus struct {
	Rooms []room.Stats `json:"rooms"`
}

func (s *Server) handleDebugRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := make([]room.Stats, 0, len(s.rooms))
	for _, inst := range s.rooms {
		stats = append(stats, inst.Room.Stats())
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(roomsStatus{Rooms: stats})
}

// Shutdown stops every room's driving goroutine, waits for them to
// exit, flushes a final synchronous save of every connected player,
// and closes all live connections.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	rooms := make([]*RoomInstance, 0, len(s.rooms))
	for _, inst := range s.rooms {
		rooms = append(rooms, inst)
	}
	s.mu.Unlock()

	for _, inst := range rooms {
		inst.cancel()
	}
	for _, inst := range rooms {
		select {
		case <-inst.done:
		case <-ctx.Done():
		}
		inst.Sessions.Stop()
		inst.Room.SaveAllConnected(ctx)
		inst.Hub.mu.RLock()
		for _, c := range inst.Hub.conns {
			c.Close(session.CloseNormal, "server shutting down")
		}
		inst.Hub.mu.RUnlock()
	}
	if s.connLimiter != nil {
		s.connLimiter.Stop()
	}
}
