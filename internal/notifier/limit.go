package notifier

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// limited 用令牌桶限制推送速率，避免触发渠道的频率限制
type limited struct {
	next    Notifier
	limiter *rate.Limiter
}

// Limit 包装 Notifier，perSec <= 0 时不限速
func Limit(n Notifier, perSec float64, burst int) Notifier {
	if perSec <= 0 {
		return n
	}
	if burst <= 0 {
		burst = 1
	}
	return &limited{next: n, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *limited) Notify(ctx context.Context, n Notification) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Notify(ctx, n)
}

func (l *limited) Close() error {
	if c, ok := l.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
