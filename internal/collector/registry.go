package collector

import "github.com/rs/zerolog"

// 内置的站点类型
const (
	TypeBoard   = "board"
	TypeBrowser = "browser"
	TypeElyes   = "elyes"
	TypeJSON    = "json"
)

// DefaultRegistry 注册所有内置 Extractor
func DefaultRegistry(chromePath string, log zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(TypeBoard, &BoardExtractor{Log: log})
	r.Register(TypeBrowser, &BrowserExtractor{ExecPath: chromePath, Log: log})
	r.Register(TypeElyes, NewElyesExtractor(chromePath, log))
	r.Register(TypeJSON, &JSONExtractor{Log: log})
	return r
}
