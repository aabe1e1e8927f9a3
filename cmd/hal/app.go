package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samueljseay/hal9999/internal/artifacts"
	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/logging"
	"github.com/samueljseay/hal9999/internal/orchestrator"
	"github.com/samueljseay/hal9999/internal/provider"
	"github.com/samueljseay/hal9999/internal/provider/localvm"
	"github.com/samueljseay/hal9999/internal/taskmgr"
	"github.com/samueljseay/hal9999/internal/vmpool"
)

// app bundles the components every subcommand needs, built once from the
// persistent flags on rootCmd. Closing it releases the sqlite/bbolt file
// handles.
type app struct {
	store   dbstore.Store
	pool    *vmpool.Pool
	tasks   *taskmgr.Manager
	arts    *artifacts.Store
	orch    *orchestrator.Orchestrator
	dataDir string

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp wires store, provider slots, pool, task manager, artifacts, and
// orchestrator from rootCmd's persistent flags — the same composition
// root shape as cuemby-warren/pkg/manager.NewManager, collapsed into one
// function since hal has no Raft/cluster-join phase to separate out.
func buildApp(cmd *cobra.Command) (*app, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	providersCSV, _ := cmd.Flags().GetString("providers")
	configPath, _ := cmd.Flags().GetString("config")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var fileCfg *config.FileConfig
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		fileCfg = &config.FileConfig{}
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	slots, err := config.Load(providersCSV, fileCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("load provider slots: %w", err)
	}

	store, err := dbstore.Open(filepath.Join(dataDir, "hal9999.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{store: store, dataDir: dataDir}
	a.closers = append(a.closers, store.Close)

	providers := map[string]provider.Provider{}
	ctx := context.Background()
	for _, s := range slots.Ordered() {
		switch s.Provider {
		case "localvm":
			prov, err := localvm.Dial(ctx, localvm.Config{
				LibvirtURI:   "qemu:///system",
				BaseImageDir: filepath.Join(dataDir, "images"),
				WorkDir:      filepath.Join(dataDir, "vms"),
				QMPSocketDir: filepath.Join(dataDir, "qmp"),
				Logger:       logging.WithComponent("localvm"),
			})
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("dial localvm for slot %q: %w", s.Name, err)
			}
			providers[s.Name] = prov
		default:
			a.Close()
			return nil, fmt.Errorf("slot %q: unknown provider kind %q (only \"localvm\" is implemented)", s.Name, s.Provider)
		}
	}

	pool := vmpool.New(vmpool.Config{
		Store:     store,
		Slots:     slots,
		Providers: providers,
		Logger:    logging.WithComponent("vmpool"),
	})
	pool.Start()
	a.closers = append(a.closers, func() error {
		pool.Stop()
		return nil
	})

	arts, err := artifacts.Open(dataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open artifacts: %w", err)
	}
	a.closers = append(a.closers, arts.Close)

	creds, err := config.NewCredentials(dataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	tasks := taskmgr.New(store, logging.WithComponent("taskmgr"))

	orch := orchestrator.New(orchestrator.Config{
		Store:       store,
		Pool:        pool,
		Tasks:       tasks,
		Artifacts:   arts,
		Credentials: creds,
		DataDir:     dataDir,
		Agent: orchestrator.AgentConfig{
			Command:    agentCommandFromEnv(),
			InstallCmd: agentInstallCmdFromEnv(),
		},
		Logger: logging.WithComponent("orchestrator"),
	})

	a.pool = pool
	a.tasks = tasks
	a.arts = arts
	a.orch = orch
	return a, nil
}

func agentCommandFromEnv() string {
	if v := os.Getenv("HAL_AGENT_COMMAND"); v != "" {
		return v
	}
	return "claude-agent run"
}

func agentInstallCmdFromEnv() string {
	return os.Getenv("HAL_AGENT_INSTALL_CMD")
}
