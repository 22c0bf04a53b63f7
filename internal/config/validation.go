package config

import (
	"errors"
	"path/filepath"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置开跑。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if strings.TrimSpace(c.CacheDir) == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if strings.TrimSpace(c.TreePath) == "" {
		return newFieldError("TreePath", "不能为空")
	}
	if filepath.IsAbs(c.TreePath) {
		return newFieldError("TreePath", "必须是工作目录下的相对路径")
	}
	if len(c.InstallCommand) == 0 || strings.TrimSpace(c.InstallCommand[0]) == "" {
		return newFieldError("InstallCommand", "不能为空")
	}
	if strings.TrimSpace(c.Runtime) == "" {
		return newFieldError("Runtime", "不能为空")
	}
	for _, name := range c.Manifests {
		if strings.ContainsAny(name, "/\\") {
			return newFieldError("Manifests", "候选文件名不能包含路径分隔符: "+name)
		}
	}

	if !c.RemoteEnabled() {
		return nil
	}

	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return newFieldError("RemotePort", "必须在 1-65535")
	}
	if c.RemoteTTL.DurationValue() <= 0 {
		return newFieldError("RemoteTTL", "必须大于 0")
	}
	if strings.TrimSpace(c.RemotePrefix) == "" {
		return newFieldError("RemotePrefix", "不能为空")
	}
	if strings.Contains(c.RemotePrefix, " ") {
		return newFieldError("RemotePrefix", "不能包含空白字符")
	}
	return nil
}
