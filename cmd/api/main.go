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

	"voicedesk/internal/auth"
	"voicedesk/internal/calendar"
	"voicedesk/internal/calllog"
	"voicedesk/internal/config"
	"voicedesk/internal/relay"
	"voicedesk/internal/store"
	"voicedesk/internal/tools"
	"voicedesk/internal/voiceagent"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	cipher, err := store.NewCipher(cfg.Relay.TokenEncryptionKey)
	if err != nil {
		log.Error("token cipher init failed", "err", err)
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

	st := store.NewPostgres(db, cipher)

	cronofy := calendar.NewClient(cfg.Cronofy.ClientID, cfg.Cronofy.ClientSecret)
	cal := calendar.NewAdapter(cronofy, st, log)

	dispatcher := tools.NewDispatcher(st, cal, log)

	callLog := calllog.NewService(calllog.NewPostgresRepo(db))

	bridge := &relay.Bridge{
		Merchants: st,
		Executor:  dispatcher,
		Calls:     callLog,
		Agent: voiceagent.Options{
			APIKey:       cfg.OpenAI.APIKey,
			Model:        cfg.OpenAI.RealtimeModel,
			DefaultVoice: cfg.OpenAI.DefaultVoice,
		},
		Redis:    rdb,
		MaxCalls: cfg.Relay.MaxConcurrentCalls,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:    &cfg,
		auth:   authManager,
		store:  st,
		bridge: bridge,
		calls:  callLog,
		db:     db,
		redis:  rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No Read/WriteTimeout: media stream WebSockets live for the
		// whole call.
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

	// Detached calendar mirror writes finish before the store goes away.
	dispatcher.Wait()
}
