package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// Log 只把消息写入日志，未配置任何外部渠道时使用
type Log struct {
	Log zerolog.Logger
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.Log.Info().
		Str("source", n.SourceID).
		Str("title", n.Record.Title).
		Str("link", n.Record.Link).
		Str("fingerprint", n.Fingerprint).
		Msg("new notice")
	return nil
}
