package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNoManifest 表示候选 manifest 文件一个都不存在。
var ErrNoManifest = errors.New("no manifest file found")

// DefaultManifests 是候选 manifest 的默认优先级列表。锁定文件在前：
// 锁定文件固定了精确版本，存在时它的哈希才是权威的缓存键来源。
var DefaultManifests = []string{
	"npm-shrinkwrap.json",
	"package-lock.json",
	"yarn.lock",
	"package.json",
}

// ManifestDigest 在 dir 下按优先级取第一个存在的普通文件，返回其内容摘要
// 与被选中的文件名。摘要不用于安全目的，只要求稳定且足够抗碰撞。
func ManifestDigest(dir string, candidates []string) (string, string, error) {
	if len(candidates) == 0 {
		candidates = DefaultManifests
	}

	for _, name := range candidates {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		digest, err := HashFile(path)
		if err != nil {
			return "", "", fmt.Errorf("计算 %s 摘要失败: %w", name, err)
		}
		return digest, name, nil
	}

	return "", "", fmt.Errorf("%w: 尝试了 %v", ErrNoManifest, candidates)
}

// HashFile 返回文件内容的 sha256 十六进制摘要。
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
