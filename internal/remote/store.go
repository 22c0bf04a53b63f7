// Package remote implements the optional shared cache tier on top of a
// Redis-compatible key/value store. Entries live under "<prefix>-<key>" with
// an expiry that is re-applied after every hit, so trees that are actually
// being used never fall out of the cache. The tier surfaces transport errors
// to the caller; deciding whether they are fatal is the orchestrator's job
// (reads are best-effort, writes are not).
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minArchiveBytes 是远端返回值可信的最小长度。比这还短的响应不可能是
// 合法的依赖树归档，按未命中处理，防止空响应/乱码被当成缓存命中。
const minArchiveBytes = 64

// Store 是基于 Redis 的远端缓存层。
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Options 描述远端存储的连接与命名空间参数。
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewStore 按配置创建远端存储。
func NewStore(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Store{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL}
}

func (s *Store) key(key string) string {
	return s.prefix + "-" + key
}

// Get 获取键对应的归档字节。未命中（包括长度低于下限的可疑响应）返回
// (nil, false, nil)；传输错误原样上抛。
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("远端读取失败: %w", err)
	}
	if !plausibleArchive(val) {
		return nil, false, nil
	}
	return val, true, nil
}

// plausibleArchive 报告取回的字节是否可能是合法归档。
func plausibleArchive(val []byte) bool {
	return len(val) >= minArchiveBytes
}

// Touch 为键重新续满 TTL。每次命中后调用，续期失败不影响已取回的数据。
func (s *Store) Touch(ctx context.Context, key string) error {
	if err := s.rdb.Expire(ctx, s.key(key), s.ttl).Err(); err != nil {
		return fmt.Errorf("远端续期失败: %w", err)
	}
	return nil
}

// Put 以 SETEX 语义写入键值：值与过期时间在同一次写里原子生效。
func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("远端写入失败: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接。
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭底层客户端。
func (s *Store) Close() error {
	return s.rdb.Close()
}
