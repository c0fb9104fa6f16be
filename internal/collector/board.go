package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
)

const (
	defaultUserAgent      = "NoticeWatchBot/1.0"
	defaultRequestTimeout = 30 * time.Second
)

// BoardExtractor 抓取服务端直接渲染的公告列表页（静态 HTML）
type BoardExtractor struct {
	UserAgent string
	Log       zerolog.Logger
}

func (b *BoardExtractor) Extract(ctx context.Context, src Source) ([]Record, error) {
	sel := selectorsFor(src, defaultBoardSelectors)
	log := b.Log.With().Str("source", src.ID).Logger()
	log.Debug().Str("url", src.URL).Msg("fetch board listing...")

	ua := b.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	c := colly.NewCollector(colly.UserAgent(ua))
	c.SetRequestTimeout(requestTimeout(ctx))
	c.WithTransport(&ctxTransport{ctx: ctx, next: http.DefaultTransport})

	results := make([]Record, 0, 32)
	c.OnHTML(sel.Row, func(e *colly.HTMLElement) {
		rec, ok := parseRow(e.DOM, sel)
		if !ok {
			return
		}
		// 相对链接按当前请求地址补全
		rec.Link = e.Request.AbsoluteURL(rec.Link)
		results = append(results, rec)
	})

	if err := c.Visit(src.URL); err != nil {
		return nil, fmt.Errorf("board: visit %s: %w", src.URL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		log.Warn().Str("row", sel.Row).Msg("board listing got 0 rows")
	}
	return Clean(src.URL, results), nil
}

// ctxTransport 把站点的 ctx 绑到 colly 发出的每个请求上，站点超时或取消时请求随之中断
type ctxTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// requestTimeout 以 ctx 的剩余时间作为 HTTP 超时，避免请求比站点超时更久
func requestTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < defaultRequestTimeout {
			return rem
		}
	}
	return defaultRequestTimeout
}
