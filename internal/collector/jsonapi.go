package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	jsonMaxResponseBytes = 4 << 20 // 4MB
	jsonClientTimeout    = 30 * time.Second
)

// JSONExtractor 抓取由 XHR 接口返回的公告列表。
// params: items 为列表所在路径（点分隔，默认为根节点）；title/link/date 为字段路径；
// link_format 用于只返回 ID 的接口，其中的 {} 会被替换为 link 字段的值。
type JSONExtractor struct {
	Client    *http.Client
	UserAgent string
	Log       zerolog.Logger
}

func (j *JSONExtractor) Extract(ctx context.Context, src Source) ([]Record, error) {
	j.Log.Info().Str("source", src.ID).Str("url", src.URL).Msg("fetch json listing...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("json: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if j.UserAgent != "" {
		req.Header.Set("User-Agent", j.UserAgent)
	}

	client := j.Client
	if client == nil {
		client = &http.Client{Timeout: jsonClientTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("json: fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("json: unexpected status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, jsonMaxResponseBytes))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("json: decode: %w", err)
	}

	records, err := parseJSONItems(doc, src)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		j.Log.Warn().Str("source", src.ID).Msg("json: no items found, check params")
	}
	return records, nil
}

func parseJSONItems(doc any, src Source) ([]Record, error) {
	itemsPath := src.Param("items", "")
	node, ok := lookupPath(doc, itemsPath)
	if !ok {
		return nil, fmt.Errorf("json: path %q not found", itemsPath)
	}
	list, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("json: path %q is not an array", itemsPath)
	}

	titleKey := src.Param("title", "title")
	linkKey := src.Param("link", "url")
	dateKey := src.Param("date", "")
	linkFormat := src.Param("link_format", "")

	records := make([]Record, 0, len(list))
	for _, it := range list {
		title := fieldText(it, titleKey)
		link := fieldText(it, linkKey)
		if linkFormat != "" && link != "" {
			link = strings.ReplaceAll(linkFormat, "{}", link)
		}
		rec := Record{Title: title, Link: link}
		if dateKey != "" {
			if d := fieldText(it, dateKey); d != "" {
				rec.Date = StrPtr(d)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// lookupPath 按点分隔的路径逐层取值，空路径返回自身
func lookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, key := range strings.Split(path, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return v, true
}

// fieldText 把标量字段转成文本，对象、数组与缺失字段返回空串
func fieldText(item any, path string) string {
	v, ok := lookupPath(item, path)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
