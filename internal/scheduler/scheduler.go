package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LJTian/NoticeWatch/internal/collector"
	"github.com/LJTian/NoticeWatch/internal/notifier"
	"github.com/LJTian/NoticeWatch/internal/processor"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

const (
	defaultSourceTimeout = 60 * time.Second
	// 取消后仍给写回状态留出的时间
	saveTimeout = 30 * time.Second
)

// Options 控制一轮执行的行为
type Options struct {
	// Concurrency 为同时抓取的站点数，1 表示顺序执行
	Concurrency int
	// SourceTimeout 为单站点抓取超时，站点可单独覆盖
	SourceTimeout time.Duration
	// DryRun 只抓取与比对，不推送也不写回状态
	DryRun bool
	// Bootstrap 只记录指纹不推送，首次部署时避免刷屏
	Bootstrap bool
	// StartupDelay 为 Start 后首轮执行的延迟，0 表示不自动执行首轮
	StartupDelay time.Duration
}

// Scheduler 编排一轮检测：加载状态 → 各站点抓取/比对 → 推送 → 写回状态
type Scheduler struct {
	cron     *cron.Cron
	sources  []collector.Source
	registry *collector.Registry
	store    storage.Store
	notifier notifier.Notifier
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	runMu sync.Mutex
	// stopped 由 runMu 保护；Stop 之后不再开始新的一轮
	stopped bool

	mu   sync.RWMutex
	last *Report

	baseCtx    context.Context
	cancelBase context.CancelFunc
	startTimer *time.Timer
}

func New(sources []collector.Source, registry *collector.Registry, store storage.Store, n notifier.Notifier, opts Options, log zerolog.Logger) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = defaultSourceTimeout
	}
	srcs := make([]collector.Source, len(sources))
	copy(srcs, sources)

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sources:    srcs,
		registry:   registry,
		store:      store,
		notifier:   n,
		opts:       opts,
		log:        log,
		now:        time.Now,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})))
	return s
}

// Sources 返回配置的站点（副本）
func (s *Scheduler) Sources() []collector.Source {
	out := make([]collector.Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// Store 返回状态存储，供只读查询使用
func (s *Scheduler) Store() storage.Store {
	return s.store
}

// Cron 暴露底层 cron，便于追加其它定时任务
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// Schedule 按 cron 表达式注册定时检测，上一轮未结束时跳过本次触发
func (s *Scheduler) Schedule(spec string) error {
	_, err := s.cron.AddFunc(spec, s.runScheduled)
	return err
}

// Start 启动定时任务；配置了 StartupDelay 时延迟执行首轮
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.opts.StartupDelay > 0 {
		s.mu.Lock()
		s.startTimer = time.AfterFunc(s.opts.StartupDelay, s.runScheduled)
		s.mu.Unlock()
	}
}

// Stop 停止定时任务并等待进行中的一轮结束；ctx 到期则取消该轮
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.startTimer != nil {
		s.startTimer.Stop()
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		// 等待 API 或启动定时器触发的那一轮，并拒绝之后迟到的触发
		s.runMu.Lock()
		s.stopped = true
		s.runMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-ctx.Done():
		s.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled() {
	if _, err := s.TryRun(s.baseCtx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.log.Info().Msg("previous run still in progress, skip")
			return
		}
		if errors.Is(err, ErrStopped) {
			return
		}
		s.log.Error().Err(err).Msg("scheduled run failed")
	}
}

// LastReport 返回最近一轮的报告
func (s *Scheduler) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) setLast(r *Report) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// TryRun 与 RunOnce 相同，但已有一轮在执行时立即返回 ErrRunInProgress
func (s *Scheduler) TryRun(ctx context.Context) (*Report, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	return s.run(ctx)
}

// Trigger 在后台启动一轮检测并立即返回；已有一轮在执行时返回 ErrRunInProgress
func (s *Scheduler) Trigger() error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	if s.stopped {
		s.runMu.Unlock()
		return ErrStopped
	}
	go func() {
		defer s.runMu.Unlock()
		if _, err := s.run(s.baseCtx); err != nil {
			s.log.Error().Err(err).Msg("triggered run failed")
		}
	}()
	return nil
}

// RunOnce 执行完整的一轮检测。
// 状态加载失败时返回 ErrAborted 且不做任何写入；单个站点或单条推送的失败不影响整体结果。
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	return s.run(ctx)
}

type sourceResult struct {
	delta    processor.Delta
	err      error
	duration time.Duration
}

func (s *Scheduler) run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		State:     RunRunning,
		Sources:   []SourceReport{},
	}
	log := s.log.With().Str("run", report.RunID).Logger()
	log.Info().Int("sources", len(s.sources)).Msg("start check run...")

	st, err := s.store.Load(ctx)
	if err != nil {
		report.State = RunAborted
		report.Err = err.Error()
		report.FinishedAt = s.now()
		s.setLast(report)
		log.Error().Err(err).Msg("load seen state failed, abort run")
		return report, fmt.Errorf("%w: load state: %w", ErrAborted, err)
	}

	enabled := make([]collector.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if !src.Enabled {
			log.Debug().Str("source", src.ID).Msg("source disabled, skip")
			continue
		}
		enabled = append(enabled, src)
	}

	// 各站点并发抓取，只读本轮开始时加载的状态；结果在下方统一合并
	results := make([]sourceResult, len(enabled))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, src := range enabled {
		seen := st.Seen(src.ID)
		g.Go(func() error {
			results[i] = s.collect(ctx, src, seen, log)
			return nil
		})
	}
	_ = g.Wait()

	// 唯一的状态修改点：按配置顺序推送并记录指纹
	for i, src := range enabled {
		res := results[i]
		sr := SourceReport{
			Source:   src.ID,
			Name:     src.DisplayName(),
			Type:     src.Type,
			Fetched:  res.delta.Fetched,
			Duration: res.duration,
		}
		srcLog := log.With().Str("source", src.ID).Logger()

		if res.err != nil {
			sr.ErrKind = errorKind(res.err)
			sr.Err = res.err.Error()
			srcLog.Error().Err(res.err).Str("kind", sr.ErrKind).Msg("source skipped")
			report.Sources = append(report.Sources, sr)
			continue
		}

		st.Ensure(src.ID)
		sr.New = len(res.delta.New)
		for _, item := range res.delta.New {
			if ctx.Err() != nil {
				// 被取消：剩余公告既不推送也不记录，下一轮重新检测
				sr.Interrupted = true
				break
			}
			if s.opts.DryRun {
				srcLog.Info().Str("title", item.Record.Title).Str("link", item.Record.Link).Msg("dry run: new notice")
				continue
			}
			if !s.opts.Bootstrap {
				n := notifier.New(src, item.Record, item.Fingerprint, s.now())
				if err := s.notifier.Notify(ctx, n); err != nil {
					if ctx.Err() != nil {
						sr.Interrupted = true
						break
					}
					nerr := &NotificationError{Source: src.ID, Fingerprint: item.Fingerprint, Err: err}
					sr.NotifyFailed++
					srcLog.Warn().Err(nerr).Str("title", item.Record.Title).Msg("notify failed, keep as seen")
				} else {
					sr.Notified++
				}
			}
			// 推送失败也记录指纹，避免持续失败的渠道导致反复重发
			st.Add(src.ID, item.Fingerprint)
		}
		srcLog.Info().Int("fetched", sr.Fetched).Int("new", sr.New).Int("notified", sr.Notified).Msg("source done")
		report.Sources = append(report.Sources, sr)
	}

	if s.opts.DryRun {
		report.State = RunDryRun
		report.FinishedAt = s.now()
		s.setLast(report)
		log.Info().Int("new", report.TotalNew()).Msg("dry run done, state not saved")
		return report, nil
	}

	// 已推送的公告必须落盘，即便调用方已取消
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.store.Save(saveCtx, st); err != nil {
		report.State = RunSaveFailed
		report.Err = err.Error()
		report.FinishedAt = s.now()
		s.setLast(report)
		log.Error().Err(err).Msg("save seen state failed")
		return report, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	report.State = RunPersisted
	report.FinishedAt = s.now()
	s.setLast(report)
	log.Info().
		Int("new", report.TotalNew()).
		Int("failed_sources", len(report.FailedSources())).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("check run done (all sources)")
	return report, nil
}

// collect 抓取单个站点并与已知指纹比对，不修改任何共享状态
func (s *Scheduler) collect(ctx context.Context, src collector.Source, seen processor.SeenSet, log zerolog.Logger) sourceResult {
	start := time.Now()
	log.Info().Str("source", src.ID).Str("type", src.Type).Msg("check source...")

	ex, err := s.registry.Lookup(src.Type)
	if err != nil {
		return sourceResult{err: &ConfigError{Source: src.ID, Err: err}, duration: time.Since(start)}
	}

	records, err := s.extract(ctx, ex, src)
	if err != nil {
		return sourceResult{err: &ExtractionError{Source: src.ID, Err: err}, duration: time.Since(start)}
	}

	return sourceResult{
		delta:    processor.Diff(src.ID, records, seen),
		duration: time.Since(start),
	}
}

// extract 在站点超时内执行抓取；超时后放弃仍在进行的调用
func (s *Scheduler) extract(ctx context.Context, ex collector.Extractor, src collector.Source) ([]collector.Record, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = s.opts.SourceTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		records []collector.Record
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		records, err := ex.Extract(cctx, src)
		ch <- result{records: records, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return collector.Clean(src.URL, res.records), nil
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", timeout, cctx.Err())
		}
		return nil, cctx.Err()
	}
}

// cronLogger 把 cron 的日志接到 zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
