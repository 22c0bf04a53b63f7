package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Tree 封装工作目录里的依赖树（例如 node_modules）及其快照操作。
type Tree struct {
	path  string
	codec Codec
}

// NewTree 以 path 为依赖树目录构建 Tree。codec 为空时使用 TarGz。
func NewTree(path string, codec Codec) *Tree {
	if codec == nil {
		codec = TarGz{}
	}
	return &Tree{path: path, codec: codec}
}

// Path 返回依赖树目录。
func (t *Tree) Path() string {
	return t.path
}

// Exists 报告依赖树目录当前是否存在。
func (t *Tree) Exists() bool {
	info, err := os.Stat(t.path)
	return err == nil && info.IsDir()
}

// Clear 删除依赖树目录；目录不存在时为 no-op。安装前总是先清空，
// 保证每次安装都从已知的空状态开始，而不是与旧内容混合。
func (t *Tree) Clear() error {
	if err := os.RemoveAll(t.path); err != nil {
		return fmt.Errorf("清理依赖树失败: %w", err)
	}
	return nil
}

// Restore 把归档解开回依赖树所在的目录。
func (t *Tree) Restore(ctx context.Context, archivePath string) error {
	return t.codec.Unpack(ctx, archivePath, filepath.Dir(t.path))
}
