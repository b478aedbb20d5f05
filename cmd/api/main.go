package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"coldcall-bridge/internal/audit"
	"coldcall-bridge/internal/auth"
	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/callerid"
	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/config"
	"coldcall-bridge/internal/finalize"
	"coldcall-bridge/internal/httpapi"
	"coldcall-bridge/internal/pricing"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/reporting"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/internal/webhook"
	"coldcall-bridge/pkg/logger"
	"coldcall-bridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Both adapters register even with blank credentials so local envs can
	// point the API at sandboxes; production validates credentials upfront.
	providers := provider.NewRegistry()
	providers.Register(provider.NewConferenceAdapter(provider.ConferenceConfig{
		BaseURL:     cfg.Providers.Conference.BaseURL,
		AccountSID:  cfg.Providers.Conference.AccountSID,
		APIToken:    cfg.Providers.Conference.APIToken,
		CallbackURL: cfg.WebhookURL("conference"),
	}, nil))
	providers.Register(provider.NewDirectAdapter(provider.DirectConfig{
		BaseURL:     cfg.Providers.Direct.BaseURL,
		APIToken:    cfg.Providers.Direct.APIToken,
		CallbackURL: cfg.WebhookURL("direct"),
	}, nil))
	providers.Register(provider.NewSIPAdapter())

	store := session.NewRedisStore(rdb, cfg.Bridge.Retention, cfg.Bridge.MaxLifetime)

	var slots bridge.SlotLimiter
	if cfg.Bridge.MaxLiveSessions > 0 {
		slots = bridge.NewRedisSlots(rdb, cfg.Bridge.MaxLiveSessions, cfg.Bridge.MaxLifetime)
	}

	var callerIDs bridge.CallerIDPicker
	if cfg.Bridge.CallerIDPool != "" {
		pool, err := callerid.ParsePool(cfg.Bridge.CallerIDPool, nil)
		if err != nil {
			log.Error("caller id pool invalid", "err", err)
			os.Exit(1)
		}
		callerIDs = pool
	}

	// Completion records always land in the archive; the downstream
	// collector is added when configured.
	archive := calllog.NewArchive(db)
	recorder := calllog.Fanout{archive}
	if cfg.CallLog.URL != "" {
		recorder = append(recorder, calllog.NewHTTPRecorder(cfg.CallLog.URL, cfg.CallLog.AuthToken, cfg.CallLog.Timeout))
	}

	auditLog := audit.NewService(audit.NewMemoryRepo())

	finalizer := finalize.NewFinalizer(finalize.Deps{
		Store:    store,
		Recorder: recorder,
		Pricer:   pricing.NewService(pricing.NewPostgresRepo(db)),
		Audit:    auditLog,
	}, cfg.CallLog.MaxRetries, 0)
	finalizer.Start(rootCtx)

	manager := bridge.NewManager(bridge.ManagerDeps{
		Store:     store,
		Providers: providers,
		CallerIDs: callerIDs,
		Sink:      finalizer,
		Slots:     slots,
	}, cfg.Bridge.RingTimeout, nil)

	dispatcher := webhook.NewDispatcher(manager, 0, 0)
	dispatcher.Start(rootCtx)

	watchdog := bridge.NewWatchdog(manager, cfg.Bridge.WatchdogInterval, cfg.Bridge.BrowserJoinTimeout)
	go watchdog.Run(rootCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		API: httpapi.Handlers{
			Manager: manager,
			Control: bridge.NewController(manager),
			Reports: reporting.NewService(archive),
			Audit:   auditLog,
		},
		Webhooks: &webhook.Handlers{
			Dispatcher:       dispatcher,
			ConferenceSecret: cfg.Providers.Conference.WebhookSecret,
			DirectSecret:     cfg.Providers.Direct.WebhookSecret,
		},
		Tokens: tokens,
		DB:     db,
		Redis:  rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Workers observe rootCtx; once the listener is down, drain them.
	dispatcher.Wait()
	finalizer.Wait()
	log.Info("shutdown complete")
}
