package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/finengine/internal/audit"
	auditpg "github.com/sawpanic/finengine/internal/audit/postgres"
	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/config"
	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/dispatcher"
	"github.com/sawpanic/finengine/internal/engine"
	"github.com/sawpanic/finengine/internal/httpapi"
	"github.com/sawpanic/finengine/internal/ledger"
	ledgerpg "github.com/sawpanic/finengine/internal/ledger/postgres"
	"github.com/sawpanic/finengine/internal/notifier"
	"github.com/sawpanic/finengine/internal/query"
	"github.com/sawpanic/finengine/internal/recommendation"
	"github.com/sawpanic/finengine/internal/recommendation/cache"
	recommendationpg "github.com/sawpanic/finengine/internal/recommendation/postgres"
	"github.com/sawpanic/finengine/internal/ticker"
	"github.com/sawpanic/finengine/internal/trend"
	"github.com/sawpanic/finengine/internal/user"
	userpg "github.com/sawpanic/finengine/internal/user/postgres"
)

const (
	appName = "finengine"
	version = "v0.1.0"
)

// components is every collaborator one cycle, one delivery sweep, or one
// HTTP request needs. Built once at startup from the loaded Config.
type components struct {
	cfg   config.Config
	clock clock.Clock
	db    *sqlx.DB
	redis *redis.Client

	store    recommendation.Store
	targets  engine.MonthlyTargetProvider
	activity engine.EmployeeActivityLookup

	orchestrator *engine.Orchestrator
	dispatcher   *dispatcher.Dispatcher
	query        *query.Service
	trend        *trend.Service
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Financial anomaly detection, recommendation, and delivery engine",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")

	rootCmd.AddCommand(newCycleCmd())
	rootCmd.AddCommand(newDeliverCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newCycleCmd implements a one-shot orchestrator run, useful for manual
// invocation or a cron-driven Ticker substitute outside the daemon.
func newCycleCmd() *cobra.Command {
	var ownerID, policyName string

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one detection cycle and persist surviving recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			result := c.orchestrator.Run(cmd.Context(), policyByFlag(policyName), ownerID)
			log.Info().
				Int("detected", result.Detected).
				Int("gated", result.Gated).
				Int("created", result.Created).
				Bool("partial", result.Partial).
				Msg("cycle complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "restrict detectors to this owner (empty = all owners)")
	cmd.Flags().StringVar(&policyName, "policy", "critical", "gating policy: critical|relaxed|none")
	return cmd
}

// newDeliverCmd sweeps PendingDelivery once, the manual equivalent of what
// the serve daemon's ticker does automatically.
func newDeliverCmd() *cobra.Command {
	var maxAgeMinutes int

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Dispatch all pending recommendations to their target audience",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			batch := c.dispatcher.DeliverPending(cmd.Context(), maxAgeMinutes)
			log.Info().
				Int("attempted", batch.Attempted).
				Int("errors", len(batch.Errors)).
				Msg("delivery sweep complete")
			for _, err := range batch.Errors {
				log.Warn().Err(err).Msg("delivery sweep error")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeMinutes, "max-age-minutes", 60, "only recommendations generated within this many minutes")
	return cmd
}

// newCleanupCmd purges recommendations older than the configured retention
// window.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete recommendations older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			deleted, err := c.store.CleanupOlderThan(cmd.Context(), cfg.RetentionDays)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", deleted).Int("retention_days", cfg.RetentionDays).Msg("cleanup complete")
			return nil
		},
	}
}

// newServeCmd runs the Engine as a daemon: a Ticker-driven cycle/delivery
// loop alongside the HTTP trigger & query surface. The same Orchestrator
// backs both the ticker loop and the POST /cycles handler.
func newServeCmd() *cobra.Command {
	var cycleIntervalSecs, deliverIntervalSecs int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a daemon with a ticker loop and an HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			registry := prometheus.NewRegistry()
			server, err := httpapi.NewServer(
				httpapi.ServerConfig{
					Host:           cfg.HTTP.Host,
					Port:           cfg.HTTP.Port,
					ReadTimeout:    10 * time.Second,
					WriteTimeout:   10 * time.Second,
					IdleTimeout:    60 * time.Second,
					RequestTimeout: 25 * time.Second,
				},
				c.orchestrator, c.dispatcher, c.query, c.trend, c.clock, registry, log.Logger,
			)
			if err != nil {
				return err
			}

			c.orchestrator.Metrics = server.Metrics
			c.dispatcher.Metrics = server.Metrics

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := server.Start(); err != nil {
					log.Error().Err(err).Msg("httpapi server stopped")
				}
			}()

			cycleTick := ticker.New(time.Duration(cycleIntervalSecs) * time.Second)
			deliverTick := ticker.New(time.Duration(deliverIntervalSecs) * time.Second)
			cleanupTick := ticker.New(24 * time.Hour)
			defer cycleTick.Stop()
			defer deliverTick.Stop()
			defer cleanupTick.Stop()

			runLoop(ctx, c, server, cycleTick, deliverTick, cleanupTick)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&cycleIntervalSecs, "cycle-interval-seconds", 300, "how often to run a detection cycle")
	cmd.Flags().IntVar(&deliverIntervalSecs, "deliver-interval-seconds", 60, "how often to sweep pending deliveries")
	return cmd
}

func runLoop(ctx context.Context, c *components, server *httpapi.Server, cycleTick, deliverTick, cleanupTick ticker.Ticker) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			return
		case <-cycleTick.C():
			result := c.orchestrator.Run(ctx, engine.CriticalOnlyPolicy(), "")
			server.Hub.Broadcast(httpapi.LiveEvent{Type: "cycle.completed", Timestamp: c.clock.Now(), Payload: result})
		case <-deliverTick.C():
			batch := c.dispatcher.DeliverPending(ctx, 60)
			server.Hub.Broadcast(httpapi.LiveEvent{Type: "delivery.swept", Timestamp: c.clock.Now(), Payload: batch})
		case <-cleanupTick.C():
			deleted, err := c.store.CleanupOlderThan(ctx, c.cfg.RetentionDays)
			if err != nil {
				log.Warn().Err(err).Msg("retention cleanup failed")
				continue
			}
			log.Info().Int64("deleted", deleted).Msg("retention cleanup complete")
		}
	}
}

func policyByFlag(name string) engine.GatingPolicy {
	switch name {
	case "relaxed":
		return engine.RelaxedPolicy()
	case "none":
		return engine.NoGatingPolicy()
	default:
		return engine.CriticalOnlyPolicy()
	}
}

func detectorConfigFrom(cfg config.Config) detectors.Config {
	d := detectors.Defaults()
	d.ExpenseSpikeThresholdPct = cfg.Detectors.ExpenseSpikePct
	d.RevenueDeclineThresholdPct = cfg.Detectors.RevenueDeclinePct
	d.CashflowLookbackDays = cfg.Detectors.CashflowLookbackDays
	d.CashflowRunThreshold = cfg.Detectors.CashflowRunThreshold
	d.InactivityDays = cfg.Detectors.InactivityDays
	d.MaxAmount = cfg.MaxTransactionAmt
	if len(cfg.Scorer.Priors) > 0 {
		d.Priors = make(map[detectors.Kind]float64, len(cfg.Scorer.Priors))
		for kind, prior := range cfg.Scorer.Priors {
			d.Priors[detectors.Kind(kind)] = prior
		}
	}
	return d
}

// buildComponents wires every port to its Postgres/Redis/in-memory
// implementation per the loaded Config. The WhatsApp transport itself is
// out of scope (modeled as an opaque Notifier port); production wiring
// here uses the in-memory reference Notifier, called through the
// dispatcher's circuit breaker as a real transport would be.
func buildComponents(cfg config.Config) (*components, error) {
	clk, err := clock.New(cfg.OperatingTimezone)
	if err != nil {
		return nil, fmt.Errorf("main: build clock: %w", err)
	}

	var db *sqlx.DB
	if cfg.PostgresDSN != "" {
		sqlDB, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("main: open postgres: %w", err)
		}
		db = sqlx.NewDb(sqlDB, "postgres")
	}

	const queryTimeout = 5 * time.Second

	var (
		led       ledger.Ledger
		store     recommendation.Store
		directory user.Directory
		auditSink audit.Sink
		targets   engine.MonthlyTargetProvider
		activity  engine.EmployeeActivityLookup
	)

	if db != nil {
		led = ledgerpg.New(db, clk, queryTimeout, cfg.MaxTransactionAmt)
		store = recommendationpg.New(db, queryTimeout)
		directory = userpg.New(db, queryTimeout)
		auditSink = auditpg.New(db, queryTimeout, log.Logger)
		targets = ledgerpg.NewTargetProvider(db, queryTimeout)
		activity = ledgerpg.NewActivityLookup(db, queryTimeout)
	} else {
		log.Warn().Msg("no postgres_dsn configured; falling back to an empty in-memory directory and a discard audit sink")
		directory = user.NewInMemory(nil)
		auditSink = audit.Discard{}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" && store != nil {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = cache.New(store, redisClient, cfg.Gating.DeduplicationWindowMinutes)
	}

	if store == nil {
		return nil, fmt.Errorf("main: no recommendation store configured (set postgres_dsn)")
	}
	if led == nil {
		return nil, fmt.Errorf("main: no ledger configured (set postgres_dsn)")
	}

	notify := notifier.NewInMemory()

	disp := dispatcher.New(store, directory, notify, auditSink, clk, log.Logger,
		cfg.Notifier.RateLimitCapacity, cfg.Notifier.RateLimitPerMin, 4)

	orch := &engine.Orchestrator{
		Ledger:      led,
		Store:       store,
		Clock:       clk,
		Targets:     targets,
		Activity:    activity,
		DetectorCfg: detectorConfigFrom(cfg),
		Log:         log.Logger,
		Audit:       auditSink,
	}

	trendSvc := trend.New(led, clk)
	querySvc := query.New(led, clk, trendSvc, targets)

	return &components{
		cfg: cfg, clock: clk, db: db, redis: redisClient,
		store: store, targets: targets, activity: activity,
		orchestrator: orch, dispatcher: disp, query: querySvc, trend: trendSvc,
	}, nil
}

func (c *components) close() {
	if c.redis != nil {
		c.redis.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}
