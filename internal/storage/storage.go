package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LJTian/NoticeWatch/internal/processor"
)

// ErrCorrupt 表示持久化状态存在但无法解析。
// 此时必须中止本轮，避免把所有公告当作新公告重复推送。
var ErrCorrupt = errors.New("seen store corrupt")

// 支持的存储驱动
const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Store 是已通知指纹的持久化接口。
// Load 每轮开始调用一次，Save 每轮结束调用一次，并保证读者不会看到写了一半的数据。
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Close() error
}

// Config 选择并配置存储驱动
type Config struct {
	Driver      string
	Path        string
	PostgresDSN string
	RedisAddr   string
	RedisPrefix string
}

// Open 按驱动初始化存储
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverFile:
		return NewFileStore(cfg.Path)
	case DriverRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPrefix, log)
	case DriverPostgres, "postgresql":
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// fromLists 校验并转换持久化格式
func fromLists(lists map[string][]string) (State, error) {
	st := NewState()
	for src, fps := range lists {
		if strings.TrimSpace(src) == "" {
			return nil, corruptf("empty source id")
		}
		st.Ensure(src)
		for _, fp := range fps {
			if !processor.IsFingerprint(fp) {
				return nil, corruptf("source %q: invalid fingerprint %q", src, fp)
			}
			st.Add(src, fp)
		}
	}
	return st, nil
}
