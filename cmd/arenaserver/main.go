package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arenaroyale/arenaserver/internal/auth"
	"github.com/arenaroyale/arenaserver/internal/config"
	"github.com/arenaroyale/arenaserver/internal/events"
	"github.com/arenaroyale/arenaserver/internal/game/battle"
	"github.com/arenaroyale/arenaserver/internal/game/challenge"
	"github.com/arenaroyale/arenaserver/internal/game/matchmaking"
	"github.com/arenaroyale/arenaserver/internal/gameserver"
	"github.com/arenaroyale/arenaserver/internal/metrics"
	"github.com/arenaroyale/arenaserver/internal/store"
)

const ConfigPath = "config/arenaserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("ARENA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	log := slog.Default()

	log.Info("arena server starting", "log_level", cfg.LogLevel)

	players, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer players.Close()

	var pub *events.Publisher
	if cfg.NATSUrl != "" {
		pub, err = events.Connect(cfg.NATSUrl, log)
		if err != nil {
			return fmt.Errorf("connecting event feed: %w", err)
		}
		defer pub.Close()
		log.Info("event feed connected", "url", cfg.NATSUrl)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	tokens := auth.NewTokenManager(cfg.TokenSecret, time.Duration(cfg.TokenExpiryHours)*time.Hour)

	hub := gameserver.NewHub(tokens, players, m, gameserver.HubConfig{
		SendQueueSize: cfg.SendQueueSize,
		WriteTimeout:  time.Duration(cfg.WriteTimeout) * time.Second,
		ReadTimeout:   time.Duration(cfg.ReadTimeout) * time.Second,
	}, log)

	matchmaker := matchmaking.New(hub, log)
	battles := battle.NewCoordinator(hub, players, &countingPublisher{next: pub, metrics: m}, battle.Config{
		Duration:         time.Duration(cfg.BattleDuration) * time.Second,
		Grace:            time.Duration(cfg.BattleGrace) * time.Second,
		DamageRatePerSec: cfg.DamageRatePerSec,
		DamageRateBurst:  cfg.DamageRateBurst,
		DamageCapPerSec:  cfg.DamageCapPerSec,
	}, log)
	challenges := challenge.NewBroker(hub, battles, players,
		time.Duration(cfg.ChallengeExpiry)*time.Second, log)

	gameserver.NewHandlers(hub, players, matchmaker, battles, challenges, m, log)

	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	srv := gameserver.NewServer(addr, hub, matchmaker, battles, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { matchmaker.Run(gctx); return nil })
	g.Go(func() error { battles.Run(gctx); return nil })
	g.Go(func() error { challenges.Run(gctx); return nil })
	g.Go(func() error { gaugeLoop(gctx, m, matchmaker, battles); return nil })

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("arena server stopped")
	return nil
}

// openStore selects PostgreSQL when a host is configured, otherwise the
// in-memory store for local play.
func openStore(ctx context.Context, cfg config.Server, log *slog.Logger) (store.PlayerStore, error) {
	if cfg.Database.Host == "" {
		log.Warn("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	dsn := cfg.Database.DSN()
	if err := store.RunMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations applied")

	s, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	log.Info("database connected", "host", cfg.Database.Host)
	return s, nil
}

// countingPublisher counts finished battles by outcome before forwarding
// the result to the event feed, if one is configured.
type countingPublisher struct {
	next    *events.Publisher
	metrics *metrics.Metrics
}

func (p *countingPublisher) PublishResult(ctx context.Context, res battle.Result) {
	outcome := "win"
	switch {
	case res.WinnerID == nil:
		outcome = "draw"
	case res.Timeout:
		outcome = "timeout"
	}
	p.metrics.BattlesTotal.WithLabelValues(outcome).Inc()

	if p.next != nil {
		p.next.PublishResult(ctx, res)
	}
}

// gaugeLoop refreshes the queue and battle gauges once per second.
func gaugeLoop(ctx context.Context, m *metrics.Metrics, mm *matchmaking.Matchmaker, battles *battle.Coordinator) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.BattlesActive.Set(float64(battles.ActiveCount()))
			m.QueueSize.Reset()
			for mode, size := range mm.QueueSizes() {
				m.QueueSize.WithLabelValues(mode).Set(float64(size))
			}
		}
	}
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
