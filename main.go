package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fast-install/fast-install/internal/cache"
	"github.com/fast-install/fast-install/internal/cachekey"
	"github.com/fast-install/fast-install/internal/config"
	"github.com/fast-install/fast-install/internal/installer"
	"github.com/fast-install/fast-install/internal/logging"
	"github.com/fast-install/fast-install/internal/orchestrator"
	"github.com/fast-install/fast-install/internal/remote"
	"github.com/fast-install/fast-install/internal/snapshot"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath     string
	explicitConfig bool
	force          bool
	cacheExisting  bool
	checkOnly      bool
	showVersion    bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath, opts.explicitConfig)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	runID := uuid.NewString()

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", runID)
		fields["cache_dir"] = cfg.CacheDir
		fields["tree_path"] = cfg.TreePath
		fields["remote"] = cfg.RemoteEnabled()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化失败: %v\n", err)
		return 1
	}
	defer cleanup()

	fields := logging.BaseFields("startup", runID)
	fields["cache_dir"] = cfg.CacheDir
	fields["remote"] = cfg.RemoteEnabled()
	fields["force"] = opts.force
	fields["cache_existing"] = opts.cacheExisting
	logger.WithFields(fields).Info("配置加载完成")

	result, err := orch.Run(context.Background(), orchestrator.Options{
		Force:         opts.force,
		CacheExisting: opts.cacheExisting,
	})
	if err != nil {
		logger.WithFields(logging.BaseFields("run_failed", runID)).Error(err.Error())
		fmt.Fprintf(stdErr, "运行失败: %v\n", err)
		return 1
	}

	logger.WithFields(logging.RunFields(
		runID, result.Key.String(), result.Manifest, string(result.Outcome), cfg.RemoteEnabled(),
	)).Info("依赖树就绪")
	return 0
}

// buildOrchestrator 遵循 "配置 → 本地存储 → 远端存储 → 编排器" 的顺序组装，
// 保证所有组件共享同一份快照编解码实例。
func buildOrchestrator(cfg *config.Config, logger *logrus.Logger) (*orchestrator.Orchestrator, func(), error) {
	codec := snapshot.TarGz{}

	local, err := cache.NewStore(cfg.CacheDir, codec)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("无法确定工作目录: %w", err)
	}

	cleanup := func() {}
	var remoteStore orchestrator.RemoteStore
	if cfg.RemoteEnabled() {
		rs := remote.NewStore(remote.Options{
			Host:     cfg.RemoteHost,
			Port:     cfg.RemotePort,
			Password: cfg.RemotePassword,
			DB:       cfg.RemoteDB,
			Prefix:   cfg.RemotePrefix,
			TTL:      cfg.RemoteTTL.DurationValue(),
		})
		remoteStore = rs
		cleanup = func() { _ = rs.Close() }
	}

	treePath := filepath.Join(workDir, cfg.TreePath)

	orch := orchestrator.New(orchestrator.Deps{
		Prober:    cachekey.RuntimeProber{Command: cfg.Runtime},
		Manifests: cfg.Manifests,
		WorkDir:   workDir,
		Local:     local,
		Remote:    remoteStore,
		Tree:      snapshot.NewTree(treePath, codec),
		Installer: installer.Command{Argv: cfg.InstallCommand, Dir: workDir},
		Logger:    logger,
	})
	return orch, cleanup, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("fast-install", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag    string
		force         bool
		cacheExisting bool
		checkOnly     bool
		showVer       bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FAST_INSTALL_CONFIG 覆盖）")
	fs.BoolVar(&force, "force", false, "跳过缓存查找，强制真实安装并刷新缓存")
	fs.BoolVar(&cacheExisting, "cache-existing", false, "把当前依赖树直接写入缓存，不执行安装")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FAST_INSTALL_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	explicit := path != ""
	if path == "" {
		path = "config.toml"
	}

	if force && cacheExisting {
		return cliOptions{}, fmt.Errorf("-force 与 -cache-existing 不能同时使用")
	}

	return cliOptions{
		configPath:     path,
		explicitConfig: explicit,
		force:          force,
		cacheExisting:  cacheExisting,
		checkOnly:      checkOnly,
		showVersion:    showVer,
	}, nil
}
