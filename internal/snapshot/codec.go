package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrCorruptArchive 表示归档存在但无法解开。它与 "不存在" 严格区分：
// 拿到却解不开的缓存条目絶不能被当成未命中静默吞掉。
var ErrCorruptArchive = errors.New("corrupt archive")

// Codec 抽象依赖树归档的打包/解包，便于测试替换。
type Codec interface {
	// Pack 把 dir 打包为 archivePath。写入失败时必须清理残留的半成品文件。
	Pack(ctx context.Context, dir, archivePath string) error

	// Unpack 把归档解开到 destDir 下。归档内容以 Pack 时的目录名为根，
	// 因此 Unpack(Pack(dir), filepath.Dir(dir)) 会原地还原 dir。
	Unpack(ctx context.Context, archivePath, destDir string) error
}

// TarGz 是默认的 tar.gz 实现。
type TarGz struct{}

func (TarGz) Pack(ctx context.Context, dir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("创建归档失败: %w", err)
	}

	err = writeTarGz(ctx, out, dir)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("打包 %s 失败: %w", dir, err)
	}
	return nil
}

func writeTarGz(ctx context.Context, out io.Writer, dir string) error {
	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	base := filepath.Base(dir)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

func (TarGz) Unpack(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}

		target, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := extractFile(target, tr, fs.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// 其余类型（设备文件等）不会出现在依赖树里，直接跳过。
		}
	}
}

func extractFile(target string, r io.Reader, mode fs.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, r)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return nil
}

// securePath 拒绝逃逸 destDir 的条目名。
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: 非法条目路径 %q", ErrCorruptArchive, name)
	}
	return target, nil
}
