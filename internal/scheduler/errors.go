package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted 表示状态加载失败，本轮没有做任何写入
	ErrAborted = errors.New("run aborted")
	// ErrSaveFailed 表示本轮结束时状态写回失败
	ErrSaveFailed = errors.New("save state failed")
	// ErrRunInProgress 表示已有一轮在执行
	ErrRunInProgress = errors.New("run already in progress")
	// ErrStopped 表示调度器已停止，不再开始新的一轮
	ErrStopped = errors.New("scheduler stopped")
)

// 错误分类，写入运行报告
const (
	KindConfig       = "config"
	KindExtraction   = "extraction"
	KindNotification = "notification"
)

// ConfigError 站点配置有误（例如未知的站点类型），跳过该站点
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source %s: config: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExtractionError 抓取失败（网络、超时、页面结构变化），本轮不记录该站点的任何指纹
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("source %s: extract: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NotificationError 推送失败；该公告的指纹仍会被记录，不会重发
type NotificationError struct {
	Source      string
	Fingerprint string
	Err         error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("source %s: notify %s: %v", e.Source, e.Fingerprint, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// errorKind 返回错误分类
func errorKind(err error) string {
	var (
		ce *ConfigError
		ee *ExtractionError
		ne *NotificationError
	)
	switch {
	case errors.As(err, &ce):
		return KindConfig
	case errors.As(err, &ee):
		return KindExtraction
	case errors.As(err, &ne):
		return KindNotification
	default:
		return ""
	}
}
