package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/fast-install/fast-install/internal/cache"
	"github.com/fast-install/fast-install/internal/cachekey"
	"github.com/fast-install/fast-install/internal/installer"
	"github.com/fast-install/fast-install/internal/snapshot"
)

// RemoteStore 是编排器看到的远端缓存层。禁用远端时注入 nil。
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Touch(ctx context.Context, key string) error
	Put(ctx context.Context, key string, val []byte) error
}

// Outcome 描述一次运行的终态，用于日志与测试断言。
type Outcome string

const (
	OutcomeAdopted   Outcome = "adopted"
	OutcomeHitLocal  Outcome = "hit-local"
	OutcomeHitRemote Outcome = "hit-remote"
	OutcomeInstalled Outcome = "installed"
)

// Result 汇总推导出的键、选中的 manifest 与终态。
type Result struct {
	Key      cachekey.Key
	Manifest string
	Outcome  Outcome
}

// Options 是单次运行的行为开关。
type Options struct {
	// Force 跳过所有缓存查找，强制真实安装并整体替换缓存条目。
	Force bool

	// CacheExisting 把当前磁盘上的依赖树视为权威结果直接入缓存，
	// 不清理、不查找、不安装。
	CacheExisting bool
}

// Deps 汇总编排器的全部协作者，均可在测试中替换。
type Deps struct {
	Prober    cachekey.Prober
	Manifests []string
	WorkDir   string
	Local     cache.Store
	Remote    RemoteStore
	Tree      *snapshot.Tree
	Installer installer.Runner
	Logger    *logrus.Logger
}

// Orchestrator 按既定状态机协调两级缓存与真实安装。
type Orchestrator struct {
	deps   Deps
	logger *logrus.Logger
}

// New 创建编排器。Logger 为空时日志被丢弃（测试便利）。
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Run 执行一次完整运行。键推导只发生一次，之后的所有决策复用同一个键。
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	key, manifest, err := cachekey.Derive(ctx, o.deps.Prober, o.deps.WorkDir, o.deps.Manifests)
	if err != nil {
		return nil, fmt.Errorf("推导缓存键失败: %w", err)
	}

	fields := logrus.Fields{
		"action":   "derive_key",
		"key":      key.String(),
		"manifest": manifest,
	}
	o.logger.WithFields(fields).Info("缓存键推导完成")

	result := &Result{Key: key, Manifest: manifest}

	if opts.CacheExisting {
		if err := o.publish(ctx, key); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeAdopted
		o.logOutcome(result)
		return result, nil
	}

	// 安装前总是清空依赖树，保证结果可复现于已知的空状态。
	if err := o.deps.Tree.Clear(); err != nil {
		return nil, err
	}

	if !opts.Force {
		outcome, err := o.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if outcome != "" {
			result.Outcome = outcome
			o.logOutcome(result)
			return result, nil
		}
	}

	o.logger.WithFields(logrus.Fields{"action": "install", "key": key.String(), "force": opts.Force}).
		Info("执行真实安装")
	if err := o.deps.Installer.Install(ctx); err != nil {
		return nil, err
	}

	if opts.Force {
		// 强制刷新先清掉旧槽位：若重新打包中途失败，不能留下一份
		// 可能已失效的旧归档冒充有效条目。
		if err := o.deps.Local.Remove(key); err != nil {
			return nil, fmt.Errorf("删除旧缓存条目失败: %w", err)
		}
	}

	if err := o.publish(ctx, key); err != nil {
		return nil, err
	}
	result.Outcome = OutcomeInstalled
	o.logOutcome(result)
	return result, nil
}

// lookup 先查本地（无网络开销），再查远端。返回空 Outcome 表示未命中。
func (o *Orchestrator) lookup(ctx context.Context, key cachekey.Key) (Outcome, error) {
	path, err := o.deps.Local.Get(key)
	switch {
	case err == nil:
		if err := o.deps.Tree.Restore(ctx, path); err != nil {
			// 找到却解不开的条目是致命错误：起因（磁盘损坏、被截断的
			// 传输）大概率会复现，当成未命中只会掩盖问题。
			return "", err
		}
		return OutcomeHitLocal, nil
	case !errors.Is(err, cache.ErrNotFound):
		return "", err
	}

	if o.deps.Remote == nil {
		return "", nil
	}

	payload, ok, err := o.deps.Remote.Get(ctx, key.String())
	if err != nil {
		// 远端读取是尽力而为：降级成未命中并继续本地流程。
		o.logger.WithFields(logrus.Fields{"action": "remote_get", "key": key.String()}).
			Warnf("远端缓存读取失败，按未命中处理: %v", err)
		return "", nil
	}
	if !ok {
		return "", nil
	}

	if err := o.deps.Remote.Touch(ctx, key.String()); err != nil {
		o.logger.WithFields(logrus.Fields{"action": "remote_touch", "key": key.String()}).
			Warnf("远端条目续期失败，不影响本次命中: %v", err)
	}

	localPath, err := o.deps.Local.Fill(ctx, key, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("写入本地缓存槽位失败: %w", err)
	}
	if err := o.deps.Tree.Restore(ctx, localPath); err != nil {
		return "", err
	}
	return OutcomeHitRemote, nil
}

// publish 把当前依赖树写入本地层，远端已配置时同步写入远端层。
// 远端写失败是致命的：用户明确要求共享缓存，静默不共享是正确性问题。
func (o *Orchestrator) publish(ctx context.Context, key cachekey.Key) error {
	archivePath, err := o.deps.Local.Put(ctx, key, o.deps.Tree.Path())
	if err != nil {
		return fmt.Errorf("写入本地缓存失败: %w", err)
	}

	if o.deps.Remote == nil {
		return nil
	}

	payload, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("读取归档失败: %w", err)
	}
	if err := o.deps.Remote.Put(ctx, key.String(), payload); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) logOutcome(result *Result) {
	o.logger.WithFields(logrus.Fields{
		"action":  "run_complete",
		"key":     result.Key.String(),
		"outcome": string(result.Outcome),
	}).Info("运行结束")
}
