package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LJTian/NoticeWatch/internal/collector"
)

// 站点文件校验错误
var (
	ErrNoSources         = errors.New("at least one site is required")
	ErrSourceMissingID   = errors.New("site name is required")
	ErrDuplicateSource   = errors.New("duplicate site name")
	ErrSourceMissingType = errors.New("site type is required")
	ErrSourceMissingURL  = errors.New("site url is required")
)

// siteEntry 对应站点文件中的一项，JSON（sites.json）与 YAML 均可
type siteEntry struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Params  map[string]string `yaml:"params"`
	Enabled *bool             `yaml:"enabled"`
	Timeout string            `yaml:"timeout"`
}

// LoadSources 读取并校验站点列表，保持文件中的顺序
func LoadSources(path string) ([]collector.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources 解析站点列表。
// 兼容旧格式：只有 name 时以 name 作为站点 ID。
func ParseSources(data []byte) ([]collector.Source, error) {
	var entries []siteEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoSources
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]collector.Source, 0, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = strings.TrimSpace(e.Name)
		}
		if id == "" {
			return nil, fmt.Errorf("site #%d: %w", i+1, ErrSourceMissingID)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("site %q: %w", id, ErrDuplicateSource)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(e.Type) == "" {
			return nil, fmt.Errorf("site %q: %w", id, ErrSourceMissingType)
		}
		if strings.TrimSpace(e.URL) == "" {
			return nil, fmt.Errorf("site %q: %w", id, ErrSourceMissingURL)
		}

		src := collector.Source{
			ID:      id,
			Name:    strings.TrimSpace(e.Name),
			Type:    strings.TrimSpace(e.Type),
			URL:     strings.TrimSpace(e.URL),
			Params:  e.Params,
			Enabled: e.Enabled == nil || *e.Enabled,
		}
		if e.Timeout != "" {
			d, err := time.ParseDuration(e.Timeout)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("site %q: invalid timeout %q", id, e.Timeout)
			}
			src.Timeout = d
		}
		out = append(out, src)
	}
	return out, nil
}
