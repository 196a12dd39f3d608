// Package app assembles the full server process: configuration from the
// environment, the logging pipeline, durable storage, reward settlement,
// the hub, and the HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	server "warzone2044/server"
	"warzone2044/server/internal/interest"
	servernet "warzone2044/server/internal/net"
	"warzone2044/server/internal/net/ws"
	"warzone2044/server/internal/persistence"
	"warzone2044/server/internal/raid"
	"warzone2044/server/internal/registry"
	"warzone2044/server/internal/rewards"
	"warzone2044/server/internal/world"
	"warzone2044/server/logging"
	loggingSinks "warzone2044/server/logging/sinks"
)

// Config is the process configuration. Zero values fall back to defaults.
type Config struct {
	Addr  string
	World world.Config

	QueueSize    int
	MessageRate  float64
	MessageBurst int

	// DBPath enables SQLite persistence when non-empty.
	DBPath string
	// LogJSONPath enables the NDJSON file sink when non-empty.
	LogJSONPath string
	// LogSinks selects which sinks attach; empty picks the defaults
	// (console and zap, plus json when LogJSONPath is set).
	LogSinks []string

	Logger *zap.Logger
}

// ConfigFromEnv reads WARZONE_* variables over the defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		Addr:   envString("WARZONE_ADDR", ":8080"),
		DBPath: os.Getenv("WARZONE_DB_PATH"),
		World: world.Config{
			Width:          envFloat("WARZONE_WORLD_WIDTH", 0),
			Height:         envFloat("WARZONE_WORLD_HEIGHT", 0),
			SectorSize:     envFloat("WARZONE_SECTOR_SIZE", 0),
			SpawnX:         envFloat("WARZONE_SPAWN_X", 0),
			SpawnY:         envFloat("WARZONE_SPAWN_Y", 0),
			InterestRadius: envFloat("WARZONE_INTEREST_RADIUS", 0),
		},
		QueueSize:    envInt("WARZONE_QUEUE_SIZE", 0),
		MessageRate:  envFloat("WARZONE_MESSAGE_RATE", 0),
		MessageBurst: envInt("WARZONE_MESSAGE_BURST", 0),
		LogJSONPath:  os.Getenv("WARZONE_LOG_JSON"),
		LogSinks:     envList("WARZONE_LOG_SINKS"),
	}
	return cfg
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = built
		defer logger.Sync()
	}

	router, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	defer router.Close(context.Background())

	worldCfg := cfg.World.Normalized()
	grid := world.NewGrid(worldCfg)
	reg := registry.New(grid)
	im := interest.New(reg, grid)

	opts := server.HubOptions{Publisher: router}

	var store *persistence.WriteBehind
	if cfg.DBPath != "" {
		sqlite, err := persistence.OpenSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open persistence: %w", err)
		}
		store = persistence.NewWriteBehind(sqlite, 0, router)
		defer store.Close()
		opts.Persist = store
	}

	ledger := rewards.NewLedgerSettler()
	settlement := rewards.NewAsync(ledger, 0, router)
	defer settlement.Close()

	raids := raid.New(reg, grid, DefaultEvaluator, settlement, router)
	opts.Raids = raids

	hub := server.NewHub(worldCfg, grid, reg, im, opts)
	go hub.RunJanitor(ctx)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:    logger,
		Publisher: router,
		WS: ws.HandlerConfig{
			Logger:       logger,
			Publisher:    router,
			QueueSize:    cfg.QueueSize,
			MessageRate:  cfg.MessageRate,
			MessageBurst: cfg.MessageBurst,
		},
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

// DefaultEvaluator is the stock combat policy: a flat, deterministic
// exchange. Dead participants neither deal nor take damage.
func DefaultEvaluator(attacker, defender registry.PlayerState) raid.Outcome {
	if !attacker.Alive || !defender.Alive {
		return raid.Outcome{}
	}
	return raid.Outcome{AttackerDamage: 5, DefenderDamage: 10}
}

func buildRouter(cfg Config, logger *zap.Logger) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	if len(logCfg.EnabledSinks) == 0 {
		logCfg.EnabledSinks = []string{"console", "zap"}
		if cfg.LogJSONPath != "" {
			logCfg.EnabledSinks = append(logCfg.EnabledSinks, "json")
		}
	}

	var named []logging.NamedSink
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
	}
	if logCfg.HasSink("zap") {
		zapSink, err := loggingSinks.NewZap(logger)
		if err != nil {
			return nil, fmt.Errorf("build zap sink: %w", err)
		}
		named = append(named, logging.NamedSink{Name: "zap", Sink: zapSink})
	}
	if logCfg.HasSink("json") && cfg.LogJSONPath != "" {
		file, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logCfg.JSON.FlushInterval),
		})
	}

	return logging.NewRouter(logCfg, logging.SystemClock{}, named), nil
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
