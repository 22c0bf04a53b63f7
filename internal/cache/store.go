package cache

import (
	"context"
	"errors"
	"io"

	"github.com/fast-install/fast-install/internal/cachekey"
)

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Store 管理本地缓存目录的读写。磁盘布局遵循：
//
//	<CacheDir>/<platform>-<digest>.tgz    # 每个键一个不可变归档
type Store interface {
	// Exists 报告键对应的归档是否存在。
	Exists(key cachekey.Key) bool

	// Get 返回键对应归档的绝对路径。若不存在则返回 ErrNotFound。
	Get(key cachekey.Key) (string, error)

	// Put 把 sourceDir 打包进键对应的槽位并返回归档路径。打包失败时
	// 不得留下损坏的缓存条目。
	Put(ctx context.Context, key cachekey.Key, sourceDir string) (string, error)

	// Fill 把远端取回的归档字节写入键对应的槽位（临时文件 + rename
	// 保证原子性），返回归档路径。
	Fill(ctx context.Context, key cachekey.Key, body io.Reader) (string, error)

	// Remove 删除键对应的归档；不存在时为 no-op。
	Remove(key cachekey.Key) error
}
