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

	"callcenter/internal/agents"
	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/calls"
	"callcenter/internal/config"
	"callcenter/internal/control"
	"callcenter/internal/dialer"
	"callcenter/internal/httpapi"
	"callcenter/internal/locks"
	"callcenter/internal/metrics"
	"callcenter/internal/publisher"
	"callcenter/internal/queue"
	"callcenter/internal/reporting"
	"callcenter/internal/routing"
	"callcenter/internal/telephony"
	"callcenter/internal/webhook"
	"callcenter/migrations"
	"callcenter/pkg/logger"
	"callcenter/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
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

	log := logger.New(cfg.App.Env, logger.Options{File: cfg.Log.File})
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api stopped with error", "err", err)
		_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
		os.Exit(1)
	}
	_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.PolicyFile == "" {
		return errors.New("POLICY_FILE is required")
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	comp, err := buildComponents(policy)
	if err != nil {
		return err
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{}, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.Migrate {
		if _, err := utils.Migrate(ctx, db, migrations.FS, log); err != nil {
			return err
		}
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	locker, err := locks.NewRedis(rdb, locks.RedisConfig{})
	if err != nil {
		return err
	}

	// Provider
	twilioClient, err := telephony.NewTwilioClient(telephony.TwilioConfig{AccountSID: cfg.Twilio.AccountSID, AuthToken: cfg.Twilio.AuthToken})
	if err != nil {
		return err
	}
	provider := telephony.NewAdapter(twilioClient, telephony.AdapterConfig{
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		AnswerURL:     cfg.CallbackURL(voicePath),
		RingTimeout:   cfg.Provider.RingTimeout,
	}, log)

	// Core state
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	store := calls.NewStore(calls.NewPostgresRepo(db), locker, log)
	coord := agents.NewCoordinator(agents.NewPostgresRepo(db), locker, log)
	queues := queue.NewManager(comp.Queues)

	router := routing.NewRouter(store, coord, queues, provider, routing.Config{Numbers: comp.Numbers}, log)
	router.SetAbandonLogger(routing.AuditAdapter{Audit: auditSvc})
	router.Attach()
	if err := router.Rebuild(ctx); err != nil {
		return err
	}

	dial := dialer.New(store, dialer.NewPostgresRepo(db), provider, locker, dialer.Config{
		Campaigns:         comp.Campaigns,
		StatusCallbackURL: cfg.CallbackURL(statusPath),
	}, log)
	dial.Attach()

	ctl := control.NewService(store, coord, provider, control.Config{
		CallerID:             cfg.Twilio.FromNumber,
		StatusCallbackURL:    cfg.CallbackURL(statusPath),
		RecordingCallbackURL: cfg.CallbackURL(recordingPath),
	}, log)
	ctl.SetConsentChecker(control.MetadataConsent{})
	ctl.SetAudit(auditSvc)

	// Observers
	store.Subscribe(metrics.CallObserver{})
	var pub publisher.Publisher = publisher.Noop{}
	if cfg.MQTT.Broker != "" {
		mp, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID})
		if err != nil {
			return err
		}
		pub = mp
	}
	defer pub.Close()
	store.Subscribe(publisher.NewCallObserver(pub, cfg.MQTT.TopicPrefix, log))

	// Webhooks
	keys, err := webhook.NewRedisKeyStore(rdb, "", cfg.Webhook.IdempotencyTTL)
	if err != nil {
		return err
	}
	dispatcher := webhook.NewDispatcher(cfg.Webhook.Workers, 0, log)
	hooks := &webhook.Handler{
		Engine:     router,
		Calls:      store,
		Verifier:   provider,
		Keys:       keys,
		Events:     webhook.NewPostgresEventLog(db),
		Dispatcher: dispatcher,
		Audit:      auditSvc,
		BaseURL:    cfg.Twilio.PublicBaseURL,
		Log:        log,
	}

	scheduler := dialer.NewScheduler(log)
	if err := scheduler.Add("dialer", cfg.Schedule.Dialer, dial.TickAll); err != nil {
		return err
	}
	if err := scheduler.Add("queue_sweep", cfg.Schedule.QueueSweep, router.Sweep); err != nil {
		return err
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	r.Use(metrics.Middleware())

	registerPublicRoutes(r, health{db: db, rdb: rdb}, hooks)
	api := httpapi.Handlers{
		Auth:       authManager,
		Control:    ctl,
		Dialer:     dial,
		Reports:    reporting.NewService(store, dial),
		Audit:      auditSvc,
		AllowLogin: cfg.Auth.DevLogin,
	}
	registerAuthRoutes(r, api)
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), api)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})
	return g.Wait()
}
