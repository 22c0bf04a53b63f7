// Package installer runs the real dependency install as an opaque external
// command. The orchestrator only cares about the exit status; the command's
// own output is passed straight through to the user.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrInstallFailed 表示安装命令以非零状态退出。
var ErrInstallFailed = errors.New("install command failed")

// Runner 抽象真实安装操作，便于在测试中注入假实现。
type Runner interface {
	Install(ctx context.Context) error
}

// Command 通过执行配置的命令完成安装，stdout/stderr 直接透传给用户。
type Command struct {
	Argv []string
	Dir  string
}

func (c Command) Install(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("%w: 安装命令为空", ErrInstallFailed)
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	return nil
}
