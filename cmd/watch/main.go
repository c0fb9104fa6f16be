package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/LJTian/NoticeWatch/internal/collector"
	"github.com/LJTian/NoticeWatch/internal/config"
	"github.com/LJTian/NoticeWatch/internal/logger"
	"github.com/LJTian/NoticeWatch/internal/notifier"
	"github.com/LJTian/NoticeWatch/internal/scheduler"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

// 退出码
const (
	exitOK         = 0
	exitAborted    = 1
	exitConfig     = 2
	exitSaveFailed = 3
)

// 执行一轮检测后退出：适合由系统 cron 或 CI 定时调用
func main() {
	os.Exit(run())
}

func run() int {
	dryRun := flag.Bool("dry-run", false, "fetch and diff only, do not notify or save state")
	bootstrap := flag.Bool("bootstrap", false, "record current notices as seen without notifying")
	sitesFile := flag.String("sites", "", "sites file (overrides SITES_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return exitConfig
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if *sitesFile != "" {
		cfg.SitesFile = *sitesFile
	}
	sources, err := config.LoadSources(cfg.SitesFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.SitesFile).Msg("load sites failed")
		return exitConfig
	}

	store, err := storage.Open(cfg.Store(), log)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("init store failed")
		return exitAborted
	}
	defer store.Close()

	n, err := openNotifier(cfg, *dryRun, log)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.NotifyDriver).Msg("init notifier failed")
		return exitConfig
	}
	defer notifier.Close(n)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(sources, collector.DefaultRegistry(cfg.ChromePath, log), store, n, scheduler.Options{
		Concurrency:   cfg.Concurrency,
		SourceTimeout: cfg.SourceTimeout,
		DryRun:        *dryRun,
		Bootstrap:     *bootstrap,
	}, log)

	report, err := s.RunOnce(ctx)
	if report != nil {
		fmt.Print(report.String())
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, scheduler.ErrSaveFailed):
		return exitSaveFailed
	default:
		return exitAborted
	}
}

// dry run 不会推送，不必连接外部渠道
func openNotifier(cfg *config.Config, dryRun bool, log zerolog.Logger) (notifier.Notifier, error) {
	if dryRun {
		return &notifier.Log{Log: log}, nil
	}
	return notifier.Open(cfg.Notifier(), log)
}
