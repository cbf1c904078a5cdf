// Command backend runs the Twitch chat bots of every owner behind one HTTP
// control surface. It:
//   - Loads configuration and initializes structured logging and tracing.
//   - Opens the store (Postgres with migrations, or in-memory) and optional Redis.
//   - Starts the proactive OAuth token refresher.
//   - Serves /healthz, /readyz, /metrics and the /bots/ control routes.
//
// Shutdown is graceful on SIGINT/SIGTERM: bots disconnect and in-flight
// handlers drain before the process exits.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/config"
	"github.com/MrSigel/pulseframelabs/backend/db"
	"github.com/MrSigel/pulseframelabs/backend/features"
	"github.com/MrSigel/pulseframelabs/backend/oauth"
	"github.com/MrSigel/pulseframelabs/backend/redis"
	"github.com/MrSigel/pulseframelabs/backend/server"
	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/store/memory"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
	"github.com/MrSigel/pulseframelabs/backend/twitchapi"
)

const serviceName = "pulseframe-bot"

// dashboardData serves hotword counts from wherever they are counted.
type dashboardData struct {
	store.Hotwords
	store.SlotRequests
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", cfg.SlogLevel().String()), slog.String("format", cfg.LogFormat))

	shutdownTracing, err := telemetry.InitTracing(serviceName, "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys, err := cfg.Keyring()
	if err != nil {
		slog.Error("invalid encryption key", slog.Any("err", err))
		os.Exit(1)
	}
	if keys == nil && cfg.StoreBackend == config.StorePostgres {
		slog.Warn("ENCRYPTION_KEY not set, bot tokens are stored in plaintext")
	}

	var (
		st    store.Store
		ready []server.Check
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		slog.Warn("using in-memory store, all data is lost on restart")
		st = memory.New()
	default:
		database, err := db.Open(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer closeDB(database)

		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
			os.Exit(1)
		}
		st = db.New(database, keys)
		ready = append(ready, server.Check{Name: "postgres", Fn: database.PingContext})
	}

	catalog := &features.Catalog{Store: st}
	data := dashboardData{Hotwords: st, SlotRequests: st}
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", slog.Any("err", err))
			os.Exit(1)
		}
		defer closeRedis(rdb)
		hotwords := redis.NewHotwordStore(rdb)
		catalog.Hotwords = hotwords
		data.Hotwords = hotwords
		ready = append(ready, server.Check{Name: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		slog.Info("hotword counters kept in redis")
	}

	if cfg.TwitchClientID == "" || cfg.TwitchClientSecret == "" {
		slog.Warn("TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set, token refresh will fail")
	}
	provider := oauth.NewProvider(st, twitchapi.NewClient(cfg.TwitchClientID, cfg.TwitchClientSecret))
	oauth.StartRefresher(ctx, st, cfg.TokenRefreshInterval, cfg.TokenRefreshWindow, provider.RefreshOwner)

	manager := bot.NewManager(func(ctx context.Context, ownerID string) (*bot.Controller, error) {
		return bot.NewController(ctx, bot.Options{
			OwnerID: ownerID,
			Conn: chat.NewTwitchConn(chat.Options{
				ConnectTimeout: cfg.ChatConnectTimeout,
				SendRate:       cfg.ChatSendRate,
				SendPeriod:     cfg.ChatSendPeriod,
			}),
			Credentials:     provider,
			Features:        catalog,
			Toggles:         st,
			DefaultFeatures: cfg.DefaultFeatures(),
			LogSize:         cfg.BotLogSize,
		})
	})

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	mux := server.NewMux(ctx, server.Deps{
		Bots:      manager,
		Data:      data,
		Ready:     ready,
		Auth:      server.AuthConfig{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Token: cfg.AdminToken},
		RateLimit: server.RateLimitConfig{PerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORS:      server.CORSConfig{AllowedOrigins: cfg.AllowedOrigins()},
	})
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.Start(ctx, cfg.HTTPAddr, mux); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	<-serverDone

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		slog.Error("bot shutdown incomplete", slog.Any("err", err))
	}
}

func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}

func closeRedis(rdb *goredis.Client) {
	if err := rdb.Close(); err != nil {
		slog.Error("failed to close redis", slog.Any("err", err))
	}
}
