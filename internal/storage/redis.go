package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRedisPrefix = "noticewatch:"

// redisStore 为每个站点维护一个 Redis set，并用 <prefix>sources 记录站点列表
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(addr, prefix string, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required for redis driver")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis ping failed")
	}
	return &redisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *redisStore) sourcesKey() string {
	return s.prefix + "sources"
}

func (s *redisStore) seenKey(source string) string {
	return s.prefix + "seen:" + source
}

func (s *redisStore) Load(ctx context.Context) (State, error) {
	sources, err := s.rdb.SMembers(ctx, s.sourcesKey()).Result()
	if err != nil {
		return nil, s.wrap(err)
	}
	lists := make(map[string][]string, len(sources))
	for _, src := range sources {
		fps, err := s.rdb.SMembers(ctx, s.seenKey(src)).Result()
		if err != nil {
			return nil, s.wrap(err)
		}
		lists[src] = fps
	}
	return fromLists(lists)
}

// Save 在一个 MULTI/EXEC 事务中整体替换所有站点的集合
func (s *redisStore) Save(ctx context.Context, st State) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, src := range st.Sources() {
			key := s.seenKey(src)
			pipe.Del(ctx, key)
			if fps := st.Fingerprints(src); len(fps) > 0 {
				members := make([]any, len(fps))
				for i, fp := range fps {
					members[i] = fp
				}
				pipe.SAdd(ctx, key, members...)
			}
			pipe.SAdd(ctx, s.sourcesKey(), src)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

// wrap 把类型错误（key 被其它数据占用）归为 ErrCorrupt
func (s *redisStore) wrap(err error) error {
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return corruptf("redis: %v", err)
	}
	return fmt.Errorf("redis load: %w", err)
}
