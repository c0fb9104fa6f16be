package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// RunState 是一轮执行的终态
type RunState string

const (
	RunRunning    RunState = "running"
	RunPersisted  RunState = "persisted"
	RunAborted    RunState = "aborted"
	RunSaveFailed RunState = "save_failed"
	RunDryRun     RunState = "dry_run"
)

// SourceReport 是单个站点在本轮中的结果
type SourceReport struct {
	Source       string        `json:"source"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Fetched      int           `json:"fetched"`
	New          int           `json:"new"`
	Notified     int           `json:"notified"`
	NotifyFailed int           `json:"notifyFailed"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	ErrKind      string        `json:"errKind,omitempty"`
	Err          string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Failed 表示站点在本轮被跳过
func (r SourceReport) Failed() bool {
	return r.ErrKind == KindConfig || r.ErrKind == KindExtraction
}

// Report 汇总一轮执行
type Report struct {
	RunID      string         `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	State      RunState       `json:"state"`
	Err        string         `json:"error,omitempty"`
	Sources    []SourceReport `json:"sources"`
}

// TotalNew 返回本轮所有站点的新公告数
func (r *Report) TotalNew() int {
	n := 0
	for _, s := range r.Sources {
		n += s.New
	}
	return n
}

// FailedSources 返回被跳过的站点
func (r *Report) FailedSources() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Failed() {
			out = append(out, s)
		}
	}
	return out
}

// String 渲染为便于阅读的表格；站点名可能包含中日韩文字，按显示宽度对齐
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s, %d new\n", r.RunID, r.State, r.TotalNew())
	if r.Err != "" {
		fmt.Fprintf(&b, "  error: %s\n", r.Err)
	}

	width := len("source")
	for _, s := range r.Sources {
		if w := runewidth.StringWidth(s.Name); w > width {
			width = w
		}
	}
	for _, s := range r.Sources {
		name := runewidth.FillRight(s.Name, width)
		switch {
		case s.Failed():
			fmt.Fprintf(&b, "  %s  FAILED (%s): %s\n", name, s.ErrKind, s.Err)
		default:
			fmt.Fprintf(&b, "  %s  fetched=%d new=%d notified=%d", name, s.Fetched, s.New, s.Notified)
			if s.NotifyFailed > 0 {
				fmt.Fprintf(&b, " notify_failed=%d", s.NotifyFailed)
			}
			if s.Interrupted {
				b.WriteString(" interrupted")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
