package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// 页面加载后额外等待的时间，给前端脚本渲染列表
const defaultSettle = 3 * time.Second

// BrowserExtractor 使用 headless Chrome 渲染页面后再解析，适用于由 JS 生成列表的站点
type BrowserExtractor struct {
	// Defaults 为该类型的默认选择器，站点 params 可覆盖
	Defaults rowSelectors
	// ExecPath 为空时由 chromedp 自动查找浏览器
	ExecPath string
	Log      zerolog.Logger
}

// NewElyesExtractor 返回 elyes 类型站点使用的预设
func NewElyesExtractor(execPath string, log zerolog.Logger) *BrowserExtractor {
	return &BrowserExtractor{Defaults: defaultBoardSelectors, ExecPath: execPath, Log: log}
}

func (b *BrowserExtractor) Extract(ctx context.Context, src Source) ([]Record, error) {
	sel := selectorsFor(src, b.defaults())
	log := b.Log.With().Str("source", src.ID).Logger()
	log.Debug().Str("url", src.URL).Msg("render listing in headless browser...")

	settle := defaultSettle
	if raw := src.Param("settle", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("browser: invalid settle %q: %w", raw, err)
		}
		settle = d
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}

	// 每次抓取使用独立的浏览器实例，结束后随 ctx 一起释放
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	actions := []chromedp.Action{
		chromedp.Navigate(src.URL),
		chromedp.WaitReady(src.Param("wait", "body"), chromedp.ByQuery),
	}
	if settle > 0 {
		actions = append(actions, chromedp.Sleep(settle))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("browser: render %s: %w", src.URL, err)
	}

	records, err := parseHTML(html, sel)
	if err != nil {
		return nil, fmt.Errorf("browser: parse %s: %w", src.URL, err)
	}
	if len(records) == 0 {
		log.Warn().Str("row", sel.Row).Msg("rendered listing got 0 rows")
	}
	return Clean(src.URL, records), nil
}

func (b *BrowserExtractor) defaults() rowSelectors {
	if b.Defaults.Row == "" {
		return defaultBoardSelectors
	}
	return b.Defaults
}
