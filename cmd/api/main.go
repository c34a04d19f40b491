// Command api is the proximity alert server.
//
// Usage:
//
//	proximity-api
//	STORE_BACKEND=memory JWT_SECRET=dev proximity-api

// @title Proximity Alerts API
// @version 1.0.0
// @description Location ingest, nearby-contact alerts, meeting history and emergency broadcast.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Proximity Alerts
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/proximity-alerts/internal/api"
	"github.com/albapepper/proximity-alerts/internal/api/handler"
	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/cache"
	"github.com/albapepper/proximity-alerts/internal/config"
	"github.com/albapepper/proximity-alerts/internal/contacts"
	"github.com/albapepper/proximity-alerts/internal/db"
	"github.com/albapepper/proximity-alerts/internal/emergency"
	"github.com/albapepper/proximity-alerts/internal/ledger"
	"github.com/albapepper/proximity-alerts/internal/listener"
	"github.com/albapepper/proximity-alerts/internal/maintenance"
	"github.com/albapepper/proximity-alerts/internal/notifications"
	"github.com/albapepper/proximity-alerts/internal/proximity"
	"github.com/albapepper/proximity-alerts/internal/seed"

	_ "github.com/albapepper/proximity-alerts/docs" // swagger docs
)

type prunablePairs interface {
	proximity.PairStore
	maintenance.Pruner
}

type prunableAlerts interface {
	emergency.Store
	maintenance.Pruner
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	contacts  contacts.Store
	locations ledger.Store
	meetings  proximity.MeetingStore
	pairs     prunablePairs
	alerts    prunableAlerts
	history   maintenance.Pruner
	tokens    notifications.TokenStore
	seeder    seed.Writer
}

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var pool *db.Pool
	if cfg.StoreBackend == config.BackendPostgres {
		logger.Info("Connecting to database...")
		pool, err = db.New(ctx, cfg)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)

		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool, "up"); err != nil {
				logger.Error("Migration failed", "error", err)
				os.Exit(1)
			}
		}
	}
	st := openStores(cfg, pool)
	logger.Info("Stores ready", "backend", cfg.StoreBackend, "pair_state", cfg.PairStateBackend)

	if cfg.SeedFile != "" {
		fixture, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			logger.Error("Failed to load seed file", "error", err)
			os.Exit(1)
		}
		result := seed.Apply(ctx, st.seeder, fixture, logger)
		for _, e := range result.Errors {
			logger.Warn("seed error", "error", e)
		}
	}

	appCache := cache.New(cfg.CacheEnabled)
	defer appCache.Close()
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Push channels: websocket first, FCM when the user has no socket.
	hub := notifications.NewHub(originChecker(cfg.CORSAllowOrigins), logger)
	channels := []notifications.Dispatcher{hub}
	if st.tokens != nil {
		fcm, err := notifications.NewFCMSender(ctx, cfg.FCMCredentialsFile, st.tokens, logger)
		switch {
		case err != nil:
			logger.Error("Failed to initialize FCM", "error", err)
			os.Exit(1)
		case fcm != nil:
			channels = append(channels, fcm)
			logger.Info("FCM push enabled")
		default:
			logger.Info("FCM push disabled (no FIREBASE_CREDENTIALS_FILE)")
		}
	}
	dispatcher := notifications.NewCounting(
		notifications.WithTimeout(notifications.Fallback(channels...), cfg.IOTimeout), logger)

	graph := contacts.NewGraph(st.contacts)
	locations := ledger.New(st.locations, cfg.RecentWindow)

	engine := proximity.NewEngine(proximity.Deps{
		Ledger:     locations,
		Graph:      graph,
		Pairs:      st.pairs,
		History:    st.meetings,
		Dispatcher: dispatcher,
		OnMeeting: func(m proximity.Meeting) {
			appCache.Invalidate(m.Participants[:]...)
		},
		Logger: logger,
	}, cfg.Engine())

	broadcaster := emergency.NewBroadcaster(st.alerts, graph, dispatcher, emergency.Options{
		Workers:   cfg.FanOutWorkers,
		IOTimeout: cfg.IOTimeout,
	}, logger)

	// Location rows written by other services reach the engine via NOTIFY.
	if cfg.ListenerEnabled && pool != nil {
		go listener.Start(ctx, cfg.DatabaseURL, engine, logger)
	}

	tasks := maintenance.DefaultConfig().Tasks(maintenance.Pruners{
		PairState: st.pairs,
		Windows:   locations,
		History:   st.history,
		Alerts:    st.alerts,
	})
	go maintenance.Start(ctx, tasks, logger)

	deps := handler.Deps{
		Engine:      engine,
		Emergencies: broadcaster,
		Contacts:    graph,
		Locations:   locations,
		Push:        hub,
		Cache:       appCache,
		Logger:      logger,
	}
	if pool != nil {
		deps.DB = pool
	}
	router := api.NewRouter(deps, auth.NewJWT(cfg.JWTSecret), cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting proximity API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	// Let in-flight evaluations finish before the pool closes.
	engine.Wait()
	logger.Info("Server stopped", "engine", engine.Stats(), "deliveries", dispatcher.Stats())
}

func openStores(cfg *config.Config, pool *db.Pool) stores {
	if pool == nil {
		cs := contacts.NewMemoryStore()
		return stores{
			contacts:  cs,
			locations: ledger.NewMemoryStore(),
			meetings:  proximity.NewMemoryMeetingStore(),
			pairs:     proximity.NewMemoryPairStore(),
			alerts:    emergency.NewMemoryStore(),
			seeder:    seed.Memory(cs),
		}
	}
	cs := contacts.NewPGStore(pool.Pool)
	st := stores{
		contacts:  cs,
		locations: ledger.NewPGStore(pool.Pool),
		meetings:  proximity.NewPGMeetingStore(pool.Pool),
		pairs:     proximity.NewMemoryPairStore(),
		alerts:    emergency.NewPGStore(pool.Pool),
		history:   ledger.NewHistoryPruner(pool.Pool),
		tokens:    notifications.NewPGTokenStore(pool.Pool),
		seeder:    cs,
	}
	if cfg.PairStateBackend == config.BackendPostgres {
		st.pairs = proximity.NewPGPairStore(pool.Pool)
	}
	return st
}

// originChecker restricts websocket upgrades to the CORS origins.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
