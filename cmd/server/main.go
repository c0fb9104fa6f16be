package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NoticeWatch/internal/api"
	"github.com/LJTian/NoticeWatch/internal/collector"
	"github.com/LJTian/NoticeWatch/internal/config"
	"github.com/LJTian/NoticeWatch/internal/logger"
	"github.com/LJTian/NoticeWatch/internal/notifier"
	"github.com/LJTian/NoticeWatch/internal/scheduler"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	sources, err := config.LoadSources(cfg.SitesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.SitesFile).Msg("load sites failed")
	}

	store, err := storage.Open(cfg.Store(), log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("init store failed")
	}
	defer store.Close()

	n, err := notifier.Open(cfg.Notifier(), log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.NotifyDriver).Msg("init notifier failed")
	}
	defer notifier.Close(n)

	s := scheduler.New(sources, collector.DefaultRegistry(cfg.ChromePath, log), store, n, scheduler.Options{
		Concurrency:   cfg.Concurrency,
		SourceTimeout: cfg.SourceTimeout,
		// 启动后稍等片刻再跑首轮，避免与部署时的健康检查抢资源
		StartupDelay: 5 * time.Second,
	}, log)
	if err := s.Schedule(cfg.CronSpec); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.CronSpec).Msg("invalid CRON_SPEC")
	}
	s.Start()
	log.Info().Int("sources", len(sources)).Str("cron", cfg.CronSpec).Msg("scheduler started")

	// API
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	apiServer := api.NewServer(s, log)
	r.Use(apiServer.Logger())
	// 若配置了访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	apiServer.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting api server ...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server exit")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// 等待进行中的一轮结束，超时则取消（已推送的指纹仍会写回）
	if err := s.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler stop timed out, in-flight run canceled")
	}
	log.Info().Msg("bye")
}
