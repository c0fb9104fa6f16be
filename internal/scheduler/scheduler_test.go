package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/NoticeWatch/internal/collector"
	"github.com/LJTian/NoticeWatch/internal/notifier"
	"github.com/LJTian/NoticeWatch/internal/processor"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	state   storage.State
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func newMemStore() *memStore {
	return &memStore{state: storage.NewState()}
}

func (m *memStore) Load(context.Context) (storage.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.state.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st storage.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = st.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() storage.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
	fail map[string]bool
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[n.Record.Title] {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Record.Title)
	}
	return out
}

func rec(title string) collector.Record {
	return collector.Record{Title: title, Link: "https://example.com/" + title}
}

func static(records ...collector.Record) collector.Extractor {
	return collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		return records, nil
	})
}

func failing(err error) collector.Extractor {
	return collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		return nil, err
	})
}

func src(id, typ string) collector.Source {
	return collector.Source{ID: id, Type: typ, URL: "https://example.com/" + id, Enabled: true}
}

type fixture struct {
	registry *collector.Registry
	store    *memStore
	notifier *fakeNotifier
}

func newFixture() *fixture {
	return &fixture{
		registry: collector.NewRegistry(),
		store:    newMemStore(),
		notifier: &fakeNotifier{fail: map[string]bool{}},
	}
}

func (f *fixture) scheduler(opts Options, sources ...collector.Source) *Scheduler {
	return New(sources, f.registry, f.store, f.notifier, opts, zerolog.Nop())
}

func TestRunNotifiesOnlyUnseen(t *testing.T) {
	f := newFixture()
	r1, r2 := rec("h1"), rec("h2")
	f.store.state.Add("A", processor.Fingerprint(r1))
	f.registry.Register("a", static(r1, r2))

	report, err := f.scheduler(Options{}, src("A", "a")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunPersisted, report.State)
	require.Equal(t, []string{"h2"}, f.notifier.titles())

	st := f.store.snapshot()
	require.Equal(t, 2, st.Len("A"))
	require.True(t, st.Contains("A", processor.Fingerprint(r1)))
	require.True(t, st.Contains("A", processor.Fingerprint(r2)))

	require.Len(t, report.Sources, 1)
	require.Equal(t, 2, report.Sources[0].Fetched)
	require.Equal(t, 1, report.Sources[0].New)
	require.Equal(t, 1, report.Sources[0].Notified)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("1"), rec("2")))
	s := f.scheduler(Options{}, src("A", "a"))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, f.notifier.titles(), 2)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, f.notifier.titles(), 2)
	require.Equal(t, 0, report.TotalNew())
	require.Equal(t, 2, f.store.saves)
}

func TestRunDuplicateWithinExtractionNotifiedOnce(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("dup"), rec("dup")))

	_, err := f.scheduler(Options{}, src("A", "a")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"dup"}, f.notifier.titles())
	require.Equal(t, 1, f.store.snapshot().Len("A"))
}

func TestFirstRunNotifiesEverythingOnce(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("a1"), rec("a2")))
	f.registry.Register("b", static(rec("b1")))

	report, err := f.scheduler(Options{}, src("A", "a"), src("B", "b")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2", "b1"}, f.notifier.titles())
	require.Equal(t, 3, report.TotalNew())

	st := f.store.snapshot()
	require.Equal(t, 2, st.Len("A"))
	require.Equal(t, 1, st.Len("B"))
}

func TestFailingSourceIsIsolated(t *testing.T) {
	f := newFixture()
	prior := processor.Fingerprint(rec("old"))
	f.store.state.Add("A", prior)
	f.registry.Register("broken", failing(errors.New("navigation timeout")))
	f.registry.Register("ok", static(rec("b1")))

	report, err := f.scheduler(Options{}, src("A", "broken"), src("B", "ok")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunPersisted, report.State)
	require.Equal(t, []string{"b1"}, f.notifier.titles())

	st := f.store.snapshot()
	require.Equal(t, 1, st.Len("A"))
	require.True(t, st.Contains("A", prior))
	require.Equal(t, 1, st.Len("B"))

	failed := report.FailedSources()
	require.Len(t, failed, 1)
	require.Equal(t, "A", failed[0].Source)
	require.Equal(t, KindExtraction, failed[0].ErrKind)
	require.Contains(t, failed[0].Err, "navigation timeout")
}

func TestNotificationFailureStillCommits(t *testing.T) {
	f := newFixture()
	f.notifier.fail["bad"] = true
	f.registry.Register("a", static(rec("bad"), rec("good")))
	s := f.scheduler(Options{}, src("A", "a"))

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, f.notifier.titles())
	require.Equal(t, 1, report.Sources[0].NotifyFailed)
	require.Equal(t, 1, report.Sources[0].Notified)
	require.Equal(t, 2, f.store.snapshot().Len("A"))

	// 下一轮不会重发
	delete(f.notifier.fail, "bad")
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, f.notifier.titles())
}

func TestUnknownTypeIsConfigError(t *testing.T) {
	f := newFixture()
	f.registry.Register("ok", static(rec("b1")))

	report, err := f.scheduler(Options{}, src("A", "rss"), src("B", "ok")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, f.notifier.titles())
	require.Equal(t, KindConfig, report.Sources[0].ErrKind)
	require.Contains(t, report.Sources[0].Err, "unsupported source type")
	_, ok := f.store.snapshot()["A"]
	require.False(t, ok)
}

func TestExtractionTimeoutAbandonsCall(t *testing.T) {
	f := newFixture()
	release := make(chan struct{})
	defer close(release)
	f.registry.Register("slow", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		<-release
		return []collector.Record{rec("late")}, nil
	}))
	f.registry.Register("ok", static(rec("b1")))

	slow := src("A", "slow")
	slow.Timeout = 50 * time.Millisecond

	start := time.Now()
	report, err := f.scheduler(Options{}, slow, src("B", "ok")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, KindExtraction, report.Sources[0].ErrKind)
	require.Contains(t, report.Sources[0].Err, "timed out")
	require.Equal(t, []string{"b1"}, f.notifier.titles())
}

func TestExtractorPanicIsExtractionError(t *testing.T) {
	f := newFixture()
	f.registry.Register("panic", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		panic("selector exploded")
	}))

	report, err := f.scheduler(Options{}, src("A", "panic")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindExtraction, report.Sources[0].ErrKind)
}

func TestCorruptStoreAbortsWithoutWrites(t *testing.T) {
	f := newFixture()
	f.store.loadErr = storage.ErrCorrupt
	called := false
	f.registry.Register("a", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		called = true
		return nil, nil
	}))

	report, err := f.scheduler(Options{}, src("A", "a")).RunOnce(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAborted))
	require.True(t, errors.Is(err, storage.ErrCorrupt))
	require.Equal(t, RunAborted, report.State)
	require.False(t, called)
	require.Zero(t, f.store.saves)
	require.Empty(t, f.notifier.titles())
}

func TestSaveFailureIsReported(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("disk full")
	f.registry.Register("a", static(rec("1")))

	report, err := f.scheduler(Options{}, src("A", "a")).RunOnce(context.Background())
	require.True(t, errors.Is(err, ErrSaveFailed))
	require.Equal(t, RunSaveFailed, report.State)
}

func TestConcurrentRunKeepsConfigOrder(t *testing.T) {
	f := newFixture()
	var sources []collector.Source
	for _, id := range []string{"A", "B", "C", "D"} {
		id := id
		delay := time.Duration(4-len(sources)) * 10 * time.Millisecond
		f.registry.Register(id, collector.ExtractorFunc(func(ctx context.Context, _ collector.Source) ([]collector.Record, error) {
			time.Sleep(delay)
			return []collector.Record{rec(id + "1"), rec(id + "2")}, nil
		}))
		sources = append(sources, src(id, id))
	}

	report, err := f.scheduler(Options{Concurrency: 4}, sources...).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"A1", "A2", "B1", "B2", "C1", "C2", "D1", "D2"}, f.notifier.titles())
	require.Equal(t, 8, report.TotalNew())
	for _, id := range []string{"A", "B", "C", "D"} {
		require.Equal(t, 2, f.store.snapshot().Len(id))
	}
}

func TestDryRunDoesNotNotifyOrSave(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("1")))

	report, err := f.scheduler(Options{DryRun: true}, src("A", "a")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunDryRun, report.State)
	require.Equal(t, 1, report.TotalNew())
	require.Empty(t, f.notifier.titles())
	require.Zero(t, f.store.saves)
}

func TestBootstrapCommitsWithoutNotifying(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("1"), rec("2")))

	report, err := f.scheduler(Options{Bootstrap: true}, src("A", "a")).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunPersisted, report.State)
	require.Empty(t, f.notifier.titles())
	require.Equal(t, 2, f.store.snapshot().Len("A"))
}

func TestDisabledSourceKeepsState(t *testing.T) {
	f := newFixture()
	fp := processor.Fingerprint(rec("x"))
	f.store.state.Add("A", fp)
	f.registry.Register("a", static(rec("y")))

	disabled := src("A", "a")
	disabled.Enabled = false
	report, err := f.scheduler(Options{}, disabled).RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Sources)
	require.Empty(t, f.notifier.titles())
	require.True(t, f.store.snapshot().Contains("A", fp))
}

func TestTryRunWhileRunning(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.registry.Register("a", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		close(started)
		<-release
		return nil, nil
	}))
	s := f.scheduler(Options{}, src("A", "a"))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-started

	_, err := s.TryRun(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	require.NotNil(t, s.LastReport())
	require.Equal(t, RunPersisted, s.LastReport().State)
}

func TestTriggerRunsInBackground(t *testing.T) {
	f := newFixture()
	release := make(chan struct{})
	f.registry.Register("a", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		<-release
		return []collector.Record{rec("1")}, nil
	}))
	s := f.scheduler(Options{}, src("A", "a"))

	require.NoError(t, s.Trigger())
	require.ErrorIs(t, s.Trigger(), ErrRunInProgress)
	close(release)

	require.Eventually(t, func() bool {
		r := s.LastReport()
		return r != nil && r.State == RunPersisted
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"1"}, f.notifier.titles())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestNoRunStartsAfterStop(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(rec("1")))
	s := f.scheduler(Options{StartupDelay: time.Hour}, src("A", "a"))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	// 启动定时器已触发但晚于 Stop 拿到锁
	s.runScheduled()

	_, err := s.TryRun(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	_, err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, s.Trigger(), ErrStopped)

	require.Zero(t, f.store.loads)
	require.Empty(t, f.notifier.titles())
	require.Nil(t, s.LastReport())
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.registry.Register("a", collector.ExtractorFunc(func(context.Context, collector.Source) ([]collector.Record, error) {
		close(started)
		<-release
		return []collector.Record{rec("1")}, nil
	}))
	s := f.scheduler(Options{}, src("A", "a"))
	require.NoError(t, s.Trigger())
	<-started

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- s.Stop(ctx)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	require.Equal(t, 1, f.store.saves)
	require.Equal(t, RunPersisted, s.LastReport().State)
}

func TestNotificationMessageIsFormatted(t *testing.T) {
	f := newFixture()
	f.registry.Register("a", static(collector.Record{Title: "A & B", Link: "https://e/1"}))
	source := src("A", "a")
	source.Name = "게시판"

	_, err := f.scheduler(Options{}, source).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "🆕 <b>게시판</b>\nA &amp; B\n👉 https://e/1", f.notifier.sent[0].Text)
}

func TestReportString(t *testing.T) {
	r := &Report{RunID: "r1", State: RunPersisted, Sources: []SourceReport{
		{Source: "A", Name: "엘리스", Fetched: 3, New: 1, Notified: 1},
		{Source: "B", Name: "B", ErrKind: KindExtraction, Err: "boom"},
	}}
	out := r.String()
	require.True(t, strings.HasPrefix(out, "run r1: persisted, 1 new\n"))
	require.Contains(t, out, "엘리스  fetched=3 new=1 notified=1")
	require.Contains(t, out, "FAILED (extraction): boom")
}

func TestScheduleAndStop(t *testing.T) {
	f := newFixture()
	s := f.scheduler(Options{}, src("A", "a"))
	require.Error(t, s.Schedule("not a cron"))
	require.NoError(t, s.Schedule("*/5 * * * *"))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("x")
	require.Equal(t, KindConfig, errorKind(&ConfigError{Source: "A", Err: base}))
	require.Equal(t, KindExtraction, errorKind(&ExtractionError{Source: "A", Err: base}))
	require.Equal(t, KindNotification, errorKind(&NotificationError{Source: "A", Err: base}))
	require.Equal(t, "", errorKind(base))
	require.ErrorIs(t, &ExtractionError{Source: "A", Err: base}, base)
}
