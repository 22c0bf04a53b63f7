package cachekey

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrPlatformUndetectable 表示运行时无法报告自身平台，键推导必须中止。
var ErrPlatformUndetectable = errors.New("platform undetectable")

// Prober 抽象平台探测，便于在测试中注入假实现。
type Prober interface {
	// Platform 返回形如 "v18-linux-x64" 的稳定平台标识。
	Platform(ctx context.Context) (string, error)
}

// platformScript 由运行时自行输出 {主版本}-{平台}-{架构}，保证标识反映
// 真正执行依赖树的运行时，而不是宿主机的名义标签。
const platformScript = "process.stdout.write(process.version.split('.')[0]+'-'+process.platform+'-'+process.arch)"

// RuntimeProber 通过执行运行时命令（默认 node）探测平台标识。
type RuntimeProber struct {
	Command string
}

func (p RuntimeProber) Platform(ctx context.Context) (string, error) {
	command := p.Command
	if command == "" {
		command = "node"
	}

	out, err := exec.CommandContext(ctx, command, "-e", platformScript).Output()
	if err != nil {
		return "", fmt.Errorf("%w: 执行 %s 失败: %v", ErrPlatformUndetectable, command, err)
	}

	id := strings.TrimSpace(string(out))
	if id == "" || strings.ContainsAny(id, " \t\r\n/\\") {
		return "", fmt.Errorf("%w: 运行时输出非法: %q", ErrPlatformUndetectable, id)
	}
	return id, nil
}
