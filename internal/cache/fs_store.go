package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fast-install/fast-install/internal/cachekey"
	"github.com/fast-install/fast-install/internal/snapshot"
)

// NewStore 以 root 为缓存根目录构建本地存储，整个进程复用一份实例。
func NewStore(root string, codec snapshot.Codec) (Store, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	if codec == nil {
		codec = snapshot.TarGz{}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	return &fileStore{root: abs, codec: codec}, nil
}

type fileStore struct {
	root  string
	codec snapshot.Codec
}

func (s *fileStore) path(key cachekey.Key) string {
	return filepath.Join(s.root, key.Filename())
}

func (s *fileStore) Exists(key cachekey.Key) bool {
	info, err := os.Stat(s.path(key))
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Get(key cachekey.Key) (string, error) {
	path := s.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

func (s *fileStore) Put(ctx context.Context, key cachekey.Key, sourceDir string) (string, error) {
	path := s.path(key)
	// codec.Pack 失败时会自行清理半成品文件，因此这里直接写最终槽位。
	if err := s.codec.Pack(ctx, sourceDir, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *fileStore) Fill(ctx context.Context, key cachekey.Key, body io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	tempFile, err := os.CreateTemp(s.root, ".fill-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = io.Copy(tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	path := s.path(key)
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return path, nil
}

func (s *fileStore) Remove(key cachekey.Key) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
