// Package notifier 负责把新公告推送到外部渠道。
// 消息模板与转义在这里统一完成，各个渠道只负责投递。
package notifier

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/LJTian/NoticeWatch/internal/collector"
)

// 支持的推送驱动
const (
	DriverTelegram = "telegram"
	DriverKafka    = "kafka"
	DriverLog      = "log"
)

// 标题过长时截断，保证单条消息落在 Telegram 4096 字符的限制内
const maxTitleRunes = 1000

// Notification 是一条待推送的新公告，Text 为已格式化、已转义的消息正文
type Notification struct {
	SourceID    string
	SourceName  string
	Record      collector.Record
	Fingerprint string
	Text        string
	DetectedAt  time.Time
}

// Notifier 投递一条消息，返回 nil 表示投递成功
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func 允许用普通函数实现 Notifier
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// New 为一条新公告构造 Notification
func New(src collector.Source, rec collector.Record, fp string, now time.Time) Notification {
	return Notification{
		SourceID:    src.ID,
		SourceName:  src.DisplayName(),
		Record:      rec,
		Fingerprint: fp,
		Text:        Format(src, rec),
		DetectedAt:  now,
	}
}

// Format 按 Telegram HTML 模式渲染消息，所有来自页面和配置的文本都会被转义
func Format(src collector.Source, rec collector.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🆕 <b>%s</b>\n", esc(src.DisplayName()))
	b.WriteString(esc(truncateRunes(rec.Title, maxTitleRunes)))
	b.WriteByte('\n')
	if rec.HasDate() && strings.TrimSpace(rec.DateText()) != "" {
		fmt.Fprintf(&b, "📅 %s\n", esc(rec.DateText()))
	}
	fmt.Fprintf(&b, "👉 %s", esc(rec.Link))
	return b.String()
}

func esc(s string) string {
	return html.EscapeString(s)
}

// truncateRunes 按 rune 截断，超出部分以省略号结尾
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

// Close 关闭持有连接的 Notifier（例如 Kafka writer）
func Close(n Notifier) error {
	if c, ok := n.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
