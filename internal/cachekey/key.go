package cachekey

import "context"

// Key 由平台标识与 manifest 内容摘要组成，是两级缓存共用的寻址单元。
// 序列化形式为 "<platform>-<digest>"，两部分均为字母数字，不含路径分隔符。
type Key struct {
	Platform string
	Digest   string
}

// String 返回缓存键的序列化形式。
func (k Key) String() string {
	return k.Platform + "-" + k.Digest
}

// Filename 返回本地缓存条目对应的文件名。
func (k Key) Filename() string {
	return k.String() + ".tgz"
}

// Derive 按 "先平台、后 manifest" 的顺序推导缓存键，并返回被选中的
// manifest 文件名用于日志诊断。任一步失败都意味着整次运行无法寻址缓存。
func Derive(ctx context.Context, prober Prober, dir string, candidates []string) (Key, string, error) {
	platform, err := prober.Platform(ctx)
	if err != nil {
		return Key{}, "", err
	}

	digest, chosen, err := ManifestDigest(dir, candidates)
	if err != nil {
		return Key{}, "", err
	}

	return Key{Platform: platform, Digest: digest}, chosen, nil
}
