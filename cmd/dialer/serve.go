package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/callerid"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/config"
	"campaign-dialer/internal/contacts"
	"campaign-dialer/internal/dialer"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/metrics"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/reporting"
	"campaign-dialer/internal/scheduler"
	"campaign-dialer/internal/telephony"
	"campaign-dialer/internal/wallet"
	"campaign-dialer/pkg/logger"
	"campaign-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pgxDriver = "pgx"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the dialer and the campaign trigger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		return runServer(cmd.Context(), cfg)
	},
}

// app is everything the HTTP layer and the background loops share.
type app struct {
	cfg config.Config
	log *slog.Logger

	authManager *auth.Manager
	metrics     *metrics.Dialer

	campaigns *campaigns.Service
	queue     dialqueue.Store
	wallet    *wallet.Service
	reports   *reporting.Service

	manager  *dialer.Manager
	loopback *telephony.LoopbackProvider
	trigger  *scheduler.Trigger
}

func runServer(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, pgxDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	defer rdb.Close()

	a, err := buildApp(cfg, log, db, rdb)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           a.router(db),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.manager.Start()

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return a.trigger.Run(ctx)
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", cfg.Dialer.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	runErr := g.Wait()

	// Runs stop after the HTTP server so late webhooks still reach them.
	a.manager.Close()
	if a.loopback != nil {
		a.loopback.Close()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = logger.ShutdownFlush(flushCtx, 2*time.Second)
	return runErr
}

func buildApp(cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}
	a.authManager = authManager

	dbx := utils.SQLX(db, pgxDriver)

	auditSvc := audit.NewService(audit.NewPostgresRepo(dbx))
	a.queue = dialqueue.NewPostgresStore(dbx)
	contactStore := contacts.NewPostgresStore(dbx)
	callRepo := calls.NewPostgresRepo(db)
	a.wallet = wallet.NewService(db)
	rater := pricing.NewService(pricing.NewPostgresRepo(dbx))
	a.reports = reporting.NewService(callRepo, a.wallet)

	a.campaigns = campaigns.NewService(campaigns.NewPostgresRepo(dbx), a.queue)
	a.campaigns.DefaultTimezone = cfg.Dialer.DefaultTimezone
	a.campaigns.Audit = auditSvc
	a.campaigns.Metrics = a.metrics
	a.campaigns.Log = log

	var provider telephony.VoiceProvider
	switch cfg.Dialer.Provider {
	case config.ProviderTwilio:
		provider = telephony.NewTwilioProvider(cfg.Twilio)
	default:
		// The sink is the manager, attached once it exists.
		a.loopback = telephony.NewLoopbackProvider(nil, cfg.Dialer.LoopbackCallDuration)
		provider = a.loopback
	}

	var callerIDs dialer.CallerIDs
	if cfg.Dialer.CallerIDs != "" {
		pool, err := callerid.FromSpec(cfg.Dialer.CallerIDs)
		if err != nil {
			return nil, fmt.Errorf("caller id pool: %w", err)
		}
		callerIDs = pool
	}

	lease, err := utils.NewRedisLease(rdb, cfg.Dialer.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("run lease: %w", err)
	}

	var bus dialer.OutcomeBus
	switch cfg.Dialer.OutcomeBus {
	case config.OutcomeBusRedis:
		rb, err := dialer.NewRedisBus(rdb, dialer.DefaultOutcomeStream, 0, log)
		if err != nil {
			return nil, fmt.Errorf("outcome bus: %w", err)
		}
		bus = rb
	default:
		bus = dialer.NewMemoryBus(0)
	}

	manager, err := dialer.NewManager(dialer.Deps{
		Campaigns: a.campaigns,
		Queue:     a.queue,
		Contacts:  contactStore,
		Calls:     callRepo,
		Wallet:    a.wallet,
		Rater:     rater,
		Provider:  provider,
		CallerIDs: callerIDs,
		Audit:     auditSvc,
		Metrics:   a.metrics,
		Lease:     lease,
		Bus:       bus,
		Log:       log,
	}, dialer.Options{
		StatusCallbackURL: cfg.StatusCallbackURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("dialer init failed: %w", err)
	}
	a.manager = manager
	if a.loopback != nil {
		a.loopback.Sink = manager
	}
	a.campaigns.SetActivator(manager)

	a.trigger = scheduler.New(a.campaigns, manager, a.queue, cfg.Dialer.SweepInterval, log)
	return a, nil
}
