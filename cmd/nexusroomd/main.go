package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexusroom/server/internal/advisory"
	"github.com/nexusroom/server/internal/config"
	"github.com/nexusroom/server/internal/identity"
	"github.com/nexusroom/server/internal/monitor"
	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Printf("  |  NexusRoom  v0.1.0                         |\n")
	fmt.Println("  |  realtime multiplayer room server          |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  server: %s (id: %d)\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  -- %s %s\n", title, strings.Repeat("-", lineLen))
}

func printOK(msg string)     { fmt.Printf("  [ok] %s\n", msg) }
func printReady(msg string)  { fmt.Printf("  [>] %s\n", msg) }
func printStat(label string, n int) { fmt.Printf("  %s: %d\n", label, n) }

func run() error {
	cfgPath := "config/server.toml"
	if p := os.Getenv("NEXUSROOM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	printSection("persistence")
	repo, closeRepo, err := buildRepository(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	defer closeRepo()
	printOK(fmt.Sprintf("store: %s", cfg.Database.Store))

	verifier := buildVerifier(cfg.Identity, log)
	printOK(fmt.Sprintf("identity mode: %s", cfg.Identity.Mode))

	mon := monitor.NewCore(nil)
	promReg := prometheus.NewRegistry()
	promBridge := monitor.NewPromBridge(promReg)

	server := transport.NewServer(cfg.Network, cfg.RateLimit, transport.ServerDeps{
		Log:          log,
		Repo:         repo,
		Verifier:     verifier,
		Monitor:      mon,
		PromBridge:   promBridge,
		PromGatherer: promReg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lobby := server.CreateRoom(ctx, "lobby", cfg.Game)
	printStat("rooms started", 1)

	var heartbeat *advisory.Publisher
	if cfg.Redis.URL != "" {
		heartbeat, err = advisory.NewPublisher(cfg.Redis.URL, "nexusroom:heartbeat", log)
		if err != nil {
			log.Warn("advisory channel disabled, could not connect to redis", zap.Error(err))
		} else {
			defer heartbeat.Close()
			go heartbeat.RunHeartbeat(ctx, lobby.Room, mon, 5*time.Second)
			printOK("advisory heartbeat publishing to redis")
		}
	}
	fmt.Println()

	httpSrv := &http.Server{
		Addr:    cfg.Network.BindAddress,
		Handler: server.Router(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", zap.Error(err))
		}
	}()

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("tick rate %s, command queue %d", cfg.Network.TickRate, cfg.Network.CommandQueue))
	fmt.Println()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	server.Shutdown(shutdownCtx)

	log.Info("server stopped")
	return nil
}

func buildRepository(cfg config.DatabaseConfig, log *zap.Logger) (persist.Repository, func(), error) {
	switch cfg.Store {
	case "sql":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := persist.NewDB(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		store := persist.NewSQLStore(db)
		repo := persist.NewRepository(store, log)
		return repo, func() { repo.Close(); db.Close() }, nil
	default:
		store := persist.NewMemoryStore()
		repo := persist.NewRepository(store, log)
		return repo, func() { repo.Close() }, nil
	}
}

func buildVerifier(cfg config.IdentityConfig, log *zap.Logger) identity.Verifier {
	if cfg.Mode != "none" {
		log.Warn("identity mode requires an external verifier that is not wired into this build, falling back to none", zap.String("mode", cfg.Mode))
	}
	return identity.None{}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
