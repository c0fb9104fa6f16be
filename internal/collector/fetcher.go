package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnknownType 表示站点配置中的 type 没有对应的 Extractor
var ErrUnknownType = errors.New("unsupported source type")

// Source 描述一个被监控的列表页
type Source struct {
	ID      string
	Name    string
	Type    string
	URL     string
	Params  map[string]string
	Enabled bool
	// 单个站点的超时，0 表示使用全局 SOURCE_TIMEOUT
	Timeout time.Duration
}

// DisplayName 返回用于通知展示的名称
func (s Source) DisplayName() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	return s.ID
}

// Param 读取类型相关参数，未配置时返回默认值
func (s Source) Param(key, def string) string {
	if v, ok := s.Params[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Record 是 Extractor 输出的统一结构；Date 为页面原文，不做解析
type Record struct {
	Title string
	Link  string
	Date  *string
}

// HasDate 判断该条记录是否带日期
func (r Record) HasDate() bool {
	return r.Date != nil
}

// DateText 返回日期文本，无日期时为空串
func (r Record) DateText() string {
	if r.Date == nil {
		return ""
	}
	return *r.Date
}

// StrPtr 用于构造带日期的 Record
func StrPtr(s string) *string {
	return &s
}

// Extractor 抽象每一种站点类型的抓取逻辑。
// 实现不能修改共享状态，且必须按页面列表顺序返回记录。
type Extractor interface {
	Extract(ctx context.Context, src Source) ([]Record, error)
}

// ExtractorFunc 允许用普通函数实现 Extractor
type ExtractorFunc func(ctx context.Context, src Source) ([]Record, error)

func (f ExtractorFunc) Extract(ctx context.Context, src Source) ([]Record, error) {
	return f(ctx, src)
}

// Registry 按 type 标签分发到具体的 Extractor
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register 注册（或覆盖）某个类型的 Extractor
func (r *Registry) Register(typ string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[normalizeType(typ)] = e
}

// Lookup 返回类型对应的 Extractor，未知类型返回 ErrUnknownType
func (r *Registry) Lookup(typ string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[normalizeType(typ)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return e, nil
}

// Types 返回已注册的类型（排序后）
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}

// Clean 丢弃标题为空或缺少链接的记录，并把相对链接补全为绝对地址
func Clean(base string, records []Record) []Record {
	baseURL, _ := url.Parse(base)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		r.Title = collapseSpaces(r.Title)
		r.Link = strings.TrimSpace(r.Link)
		if r.Title == "" || r.Link == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(r.Link), "javascript:") {
			continue
		}
		if baseURL != nil {
			if ref, err := url.Parse(r.Link); err == nil {
				r.Link = baseURL.ResolveReference(ref).String()
			}
		}
		if r.Date != nil {
			d := collapseSpaces(*r.Date)
			if d == "" {
				r.Date = nil
			} else {
				r.Date = &d
			}
		}
		out = append(out, r)
	}
	return out
}

// collapseSpaces 合并标题中的换行与连续空白
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
