// Command hearthd is the local control-plane daemon described in
// spec.md: it exposes MCP over JSON-RPC 2.0 for privileged
// workstation actions. Grounded on the teacher's cmd/pulse-agent and
// cmd/pulse-control-plane (cobra root + version subcommand,
// errgroup+signal.NotifyContext graceful shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/config"
	"github.com/hearthd/hearthd/internal/dispatch"
	"github.com/hearthd/hearthd/internal/execkit"
	"github.com/hearthd/hearthd/internal/kernel"
	"github.com/hearthd/hearthd/internal/logging"
	"github.com/hearthd/hearthd/internal/registry"
	"github.com/hearthd/hearthd/internal/snapshot"
	"github.com/hearthd/hearthd/internal/transport"
	"github.com/hearthd/hearthd/plugins/pkgmanager"
	"github.com/hearthd/hearthd/plugins/sysinfo"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hearthd",
	Short: "hearthd is the workstation control-plane daemon",
	Long:  "hearthd exposes MCP over JSON-RPC 2.0 for privileged workstation actions: package management, service control, disk partitioning, window-manager IPC, and screen capture.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(context.Background())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon (also the default when no subcommand is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(context.Background())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hearthd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/hearthd/config.yaml", "path to YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		LogDir:    cfg.Logging.LogDir,
		MaxFiles:  cfg.Logging.MaxFiles,
		MaxSizeMB: cfg.Logging.MaxSize,
		Component: "hearthd",
		Console:   true,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	auditLogger, err := audit.NewSQLiteLogger(audit.SQLiteLoggerConfig{DataDir: cfg.Snapshot.Dir})
	if err != nil {
		return fmt.Errorf("init audit sink: %w", err)
	}
	audit.SetLogger(auditLogger)
	defer auditLogger.Close()

	policy := execkit.NewPolicy(cfg.Security.AllowedCommands)
	executor := execkit.New(policy)

	var svcProvider snapshot.ServiceStateProvider
	if len(cfg.Snapshot.Services) > 0 {
		svcProvider = snapshot.NewSystemdProvider(executor, cfg.Snapshot.Services)
	}

	snapStore, err := snapshot.New(snapshot.Config{DataDir: cfg.Snapshot.Dir, Services: svcProvider, Logger: auditLogger})
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}

	reg := registry.New()
	if err := reg.Register(ctx, sysinfo.New()); err != nil {
		return fmt.Errorf("register sysinfo plugin: %w", err)
	}
	if err := reg.Register(ctx, pkgmanager.New(executor)); err != nil {
		log.Warn().Err(err).Msg("pkgmanager plugin unavailable, continuing without it")
	}

	k := kernel.New(kernel.Config{
		MaxConcurrentOperations: cfg.Security.MaxConcurrentOperations,
		AuditAll:                cfg.Security.AuditAll,
		Logger:                  auditLogger,
	})

	d := dispatch.New(reg, k, dispatch.ServerInfo{Name: "hearthd", Version: Version})
	srv := transport.New(d, reg, Version)
	srv.Mux().Handle("/metrics", promhttp.Handler())

	watcher, err := config.NewWatcher(configPath, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("config hot-reload unavailable")
	} else {
		watcher.OnReload = func(next *config.Config) {
			logging.SetLevel(next.Logging.Level)
			k.SetCapacity(next.Security.MaxConcurrentOperations)
			executor.UpdatePolicy(execkit.NewPolicy(next.Security.AllowedCommands))
			log.Info().
				Str("level", next.Logging.Level).
				Int("max_concurrent_operations", next.Security.MaxConcurrentOperations).
				Int("allowed_commands", len(next.Security.AllowedCommands)).
				Msg("applied hot-reloaded configuration")
		}
		defer watcher.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Mux()}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("hearthd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down: terminating live child processes")
		executor.KillAllProcesses()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reg.Cleanup(shutdownCtx)

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	// Snapshot the running state once at startup so a restore target
	// always exists even before any client requests one.
	if _, err := snapStore.CreateSnapshot(ctx, "startup", cfg.Snapshot.Files); err != nil {
		log.Warn().Err(err).Msg("startup snapshot failed")
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
