package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fast-install/fast-install/internal/cache"
	"github.com/fast-install/fast-install/internal/cachekey"
	"github.com/fast-install/fast-install/internal/snapshot"
)

type stubProber struct {
	id  string
	err error
}

func (s stubProber) Platform(context.Context) (string, error) {
	return s.id, s.err
}

// fakeCodec 记录解包调用，Pack 在这些测试里不会被触达。
type fakeCodec struct {
	unpacks   []string
	unpackErr error
}

func (c *fakeCodec) Pack(ctx context.Context, dir, archivePath string) error {
	return os.WriteFile(archivePath, []byte("packed:"+dir), 0o644)
}

func (c *fakeCodec) Unpack(ctx context.Context, archivePath, destDir string) error {
	c.unpacks = append(c.unpacks, archivePath)
	return c.unpackErr
}

// fakeLocal 是文件路径语义与真实存储一致的内存实现，额外记录操作顺序。
type fakeLocal struct {
	dir       string
	ops       []string
	entries   map[cachekey.Key]string
	putErr    error
	removeErr error
}

func newFakeLocal(t *testing.T) *fakeLocal {
	t.Helper()
	return &fakeLocal{dir: t.TempDir(), entries: map[cachekey.Key]string{}}
}

func (f *fakeLocal) seed(t *testing.T, key cachekey.Key, payload []byte) {
	t.Helper()
	path := filepath.Join(f.dir, key.Filename())
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("预置本地缓存失败: %v", err)
	}
	f.entries[key] = path
}

func (f *fakeLocal) Exists(key cachekey.Key) bool {
	f.ops = append(f.ops, "exists")
	_, ok := f.entries[key]
	return ok
}

func (f *fakeLocal) Get(key cachekey.Key) (string, error) {
	f.ops = append(f.ops, "get")
	path, ok := f.entries[key]
	if !ok {
		return "", cache.ErrNotFound
	}
	return path, nil
}

func (f *fakeLocal) Put(ctx context.Context, key cachekey.Key, sourceDir string) (string, error) {
	f.ops = append(f.ops, "put")
	if f.putErr != nil {
		return "", f.putErr
	}
	path := filepath.Join(f.dir, key.Filename())
	if err := os.WriteFile(path, []byte("packed:"+sourceDir), 0o644); err != nil {
		return "", err
	}
	f.entries[key] = path
	return path, nil
}

func (f *fakeLocal) Fill(ctx context.Context, key cachekey.Key, body io.Reader) (string, error) {
	f.ops = append(f.ops, "fill")
	payload, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, key.Filename())
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	f.entries[key] = path
	return path, nil
}

func (f *fakeLocal) Remove(key cachekey.Key) error {
	f.ops = append(f.ops, "remove")
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.entries, key)
	return nil
}

type fakeRemote struct {
	entries  map[string][]byte
	gets     int
	touches  int
	puts     int
	lastPut  []byte
	getErr   error
	touchErr error
	putErr   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: map[string][]byte{}}
}

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.gets++
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	val, ok := f.entries[key]
	return val, ok, nil
}

func (f *fakeRemote) Touch(ctx context.Context, key string) error {
	f.touches++
	return f.touchErr
}

func (f *fakeRemote) Put(ctx context.Context, key string, val []byte) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.lastPut = val
	f.entries[key] = val
	return nil
}

type fakeInstaller struct {
	calls int
	err   error
	tree  string
}

func (f *fakeInstaller) Install(ctx context.Context) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.tree != "" {
		if err := os.MkdirAll(f.tree, 0o755); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	orch    *Orchestrator
	local   *fakeLocal
	remote  *fakeRemote
	install *fakeInstaller
	codec   *fakeCodec
	treeDir string
	key     cachekey.Key
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()

	workDir := t.TempDir()
	manifest := filepath.Join(workDir, "package-lock.json")
	if err := os.WriteFile(manifest, []byte(`{"lockfileVersion":3}`), 0o644); err != nil {
		t.Fatalf("写入 manifest 失败: %v", err)
	}
	digest, _, err := cachekey.ManifestDigest(workDir, nil)
	if err != nil {
		t.Fatalf("摘要计算失败: %v", err)
	}

	treeDir := filepath.Join(workDir, "node_modules")
	codec := &fakeCodec{}
	local := newFakeLocal(t)
	install := &fakeInstaller{tree: treeDir}

	deps := Deps{
		Prober:    stubProber{id: "v18-linux-x64"},
		WorkDir:   workDir,
		Local:     local,
		Tree:      snapshot.NewTree(treeDir, codec),
		Installer: install,
	}
	if remote != nil {
		deps.Remote = remote
	}

	return &harness{
		orch:    New(deps),
		local:   local,
		remote:  remote,
		install: install,
		codec:   codec,
		treeDir: treeDir,
		key:     cachekey.Key{Platform: "v18-linux-x64", Digest: digest},
	}
}

func (h *harness) populateTree(t *testing.T) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(h.treeDir, "pkg"), 0o755); err != nil {
		t.Fatalf("准备依赖树失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(h.treeDir, "pkg", "index.js"), []byte("x"), 0o644); err != nil {
		t.Fatalf("准备依赖树失败: %v", err)
	}
}

func TestLocalHitShortCircuitsInstall(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	h.local.seed(t, h.key, []byte("archive"))

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeHitLocal {
		t.Fatalf("期望本地命中，得到 %s", result.Outcome)
	}
	if h.install.calls != 0 {
		t.Fatalf("本地命中不应触发安装")
	}
	// 本地命中时不应发起任何远端请求。
	if remote.gets != 0 || remote.touches != 0 {
		t.Fatalf("本地命中不应访问远端: gets=%d touches=%d", remote.gets, remote.touches)
	}
	if len(h.codec.unpacks) != 1 {
		t.Fatalf("应恰好解包一次，实际 %d", len(h.codec.unpacks))
	}
}

func TestRemoteHitPopulatesLocalAndRenewsTTL(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	remote.entries[h.key.String()] = []byte("remote archive payload")

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeHitRemote {
		t.Fatalf("期望远端命中，得到 %s", result.Outcome)
	}
	if remote.touches != 1 {
		t.Fatalf("每次远端命中应恰好续期一次，实际 %d", remote.touches)
	}
	if h.install.calls != 0 {
		t.Fatalf("远端命中不应触发安装")
	}
	// 远端载荷应落入本地槽位后再解包。
	path, err := h.local.Get(h.key)
	if err != nil {
		t.Fatalf("远端命中后本地层应被填充: %v", err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, []byte("remote archive payload")) {
		t.Fatalf("本地槽位内容不符: %q", got)
	}
}

func TestTouchFailureDoesNotInvalidateHit(t *testing.T) {
	remote := newFakeRemote()
	remote.touchErr = errors.New("expire timeout")
	h := newHarness(t, remote)
	remote.entries[h.key.String()] = []byte("payload")

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("续期失败不应使命中失效: %v", err)
	}
	if result.Outcome != OutcomeHitRemote {
		t.Fatalf("期望远端命中，得到 %s", result.Outcome)
	}
}

func TestMissInstallsAndPublishesBothTiers(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeInstalled {
		t.Fatalf("期望安装路径，得到 %s", result.Outcome)
	}
	if h.install.calls != 1 {
		t.Fatalf("应恰好安装一次，实际 %d", h.install.calls)
	}
	if !h.local.Exists(h.key) {
		t.Fatalf("安装后本地层应被填充")
	}
	if remote.puts != 1 {
		t.Fatalf("安装后远端层应被填充，实际 puts=%d", remote.puts)
	}
	if !bytes.HasPrefix(remote.lastPut, []byte("packed:")) {
		t.Fatalf("远端写入的应是归档字节: %q", remote.lastPut)
	}
}

func TestMissWithRemoteDisabled(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeInstalled {
		t.Fatalf("期望安装路径，得到 %s", result.Outcome)
	}
	if result.Key.String() != h.key.String() {
		t.Fatalf("键不符: %s != %s", result.Key, h.key)
	}
}

func TestRemoteReadFailureDegradesToMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.getErr = errors.New("connection refused")
	h := newHarness(t, remote)

	result, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("远端读失败应软降级: %v", err)
	}
	if result.Outcome != OutcomeInstalled {
		t.Fatalf("期望回退到安装，得到 %s", result.Outcome)
	}
}

func TestRemoteWriteFailureIsFatal(t *testing.T) {
	remote := newFakeRemote()
	remote.putErr = errors.New("connection reset")
	h := newHarness(t, remote)

	if _, err := h.orch.Run(context.Background(), Options{}); err == nil {
		t.Fatalf("远端写失败必须使整次运行失败")
	}
	// 安装本身已经发生。
	if h.install.calls != 1 {
		t.Fatalf("安装应已执行，实际 %d", h.install.calls)
	}
}

func TestForceSkipsLookupAndRemovesStaleEntry(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	h.local.seed(t, h.key, []byte("stale archive"))
	remote.entries[h.key.String()] = []byte("stale remote")

	result, err := h.orch.Run(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeInstalled {
		t.Fatalf("force 应走安装路径，得到 %s", result.Outcome)
	}
	if remote.gets != 0 {
		t.Fatalf("force 不应发起远端查找")
	}
	for _, op := range h.local.ops {
		if op == "get" {
			t.Fatalf("force 不应发起本地查找: %v", h.local.ops)
		}
	}

	// 旧条目应在重新打包之前被删除。
	var removeIdx, putIdx = -1, -1
	for i, op := range h.local.ops {
		switch op {
		case "remove":
			removeIdx = i
		case "put":
			putIdx = i
		}
	}
	if removeIdx == -1 || putIdx == -1 || removeIdx > putIdx {
		t.Fatalf("force 应先删除旧条目再写入: %v", h.local.ops)
	}
}

func TestForceRemoveFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.local.seed(t, h.key, []byte("stale"))
	h.local.removeErr = errors.New("permission denied")

	if _, err := h.orch.Run(context.Background(), Options{Force: true}); err == nil {
		t.Fatalf("旧条目删除失败必须致命")
	}
}

func TestAdoptExistingSkipsClearInstallUnpack(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote)
	h.populateTree(t)

	result, err := h.orch.Run(context.Background(), Options{CacheExisting: true})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if result.Outcome != OutcomeAdopted {
		t.Fatalf("期望 adopted，得到 %s", result.Outcome)
	}
	if h.install.calls != 0 {
		t.Fatalf("adopt 模式不应安装")
	}
	if len(h.codec.unpacks) != 0 {
		t.Fatalf("adopt 模式不应解包")
	}
	// 依赖树不应被清理。
	if _, err := os.Stat(filepath.Join(h.treeDir, "pkg", "index.js")); err != nil {
		t.Fatalf("adopt 模式不应清理依赖树: %v", err)
	}
	if !h.local.Exists(h.key) {
		t.Fatalf("adopt 后本地层应有条目")
	}
	if remote.puts != 1 {
		t.Fatalf("adopt 后远端层应有条目，实际 puts=%d", remote.puts)
	}
}

func TestAdoptExistingPackFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.local.putErr = errors.New("disk full")
	h.populateTree(t)

	if _, err := h.orch.Run(context.Background(), Options{CacheExisting: true}); err == nil {
		t.Fatalf("adopt 模式打包失败必须致命")
	}
}

func TestCorruptLocalEntryIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.local.seed(t, h.key, []byte("garbled"))
	h.codec.unpackErr = snapshot.ErrCorruptArchive

	_, err := h.orch.Run(context.Background(), Options{})
	if !errors.Is(err, snapshot.ErrCorruptArchive) {
		t.Fatalf("损坏的缓存条目必须致命，得到 %v", err)
	}
	if h.install.calls != 0 {
		t.Fatalf("损坏条目不得静默回退到安装")
	}
}

func TestInstallFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.install.err = errors.New("registry unreachable")

	if _, err := h.orch.Run(context.Background(), Options{}); err == nil {
		t.Fatalf("安装失败必须致命")
	}
	if h.local.Exists(h.key) {
		t.Fatalf("安装失败后不应写缓存")
	}
}

func TestKeyDerivationFailureAbortsEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.populateTree(t)
	h.orch.deps.Prober = stubProber{err: cachekey.ErrPlatformUndetectable}

	_, err := h.orch.Run(context.Background(), Options{})
	if !errors.Is(err, cachekey.ErrPlatformUndetectable) {
		t.Fatalf("期望 ErrPlatformUndetectable，得到 %v", err)
	}
	// 键推导失败时连清理都不应发生。
	if _, statErr := os.Stat(h.treeDir); statErr != nil {
		t.Fatalf("键推导失败不应清理依赖树: %v", statErr)
	}
	if h.install.calls != 0 {
		t.Fatalf("键推导失败不应安装")
	}
}

func TestLocalPackFailureAfterInstallIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.local.putErr = errors.New("disk full")

	if _, err := h.orch.Run(context.Background(), Options{}); err == nil {
		t.Fatalf("安装成功但缓存写入失败时，整次运行必须失败")
	}
	if h.install.calls != 1 {
		t.Fatalf("安装应已执行")
	}
}
