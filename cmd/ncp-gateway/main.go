// Command ncp-gateway is the Tool Orchestration Gateway's entrypoint: it
// resolves the config root, brings the orchestrator up in the background,
// and speaks the Gateway Protocol Surface (§4.8) on stdio until a signal or
// a fatal transport error asks it to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ncpgateway/internal/config"
	"ncpgateway/internal/gateway"
	"ncpgateway/internal/logging"
	"ncpgateway/internal/orchestrator"
	"ncpgateway/internal/shutdown"
)

var (
	version = "dev"

	flagProfile    string
	flagConfigPath string
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:     "ncp-gateway",
	Short:   "Tool Orchestration Gateway",
	Long:    "Aggregates a fleet of downstream MCP servers behind two synthetic tools, find and run.",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ncp-gateway %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Profile to serve (default: "+config.DefaultProfileName+"; "+config.EnvProfile+" applies when the flag is not set)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config-path", "", "Config root directory ("+config.EnvConfigPath+" applies when the flag is not set)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug-level logging (also enabled by "+config.EnvDebug+"=true)")

	viper.SetEnvPrefix("ncp")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag("config-path", rootCmd.PersistentFlags().Lookup("config-path"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run wires the config root, the orchestrator, and the protocol surface
// together and blocks until shutdown completes. Anything that fails before
// the gateway can accept a single request is treated as unrecoverable (§6
// exit code 1); anything after that point is surfaced over JSON-RPC instead
// of killing the process.
func run(ctx context.Context) error {
	instanceID := uuid.NewString()

	root := viper.GetString("config-path")
	if root == "" {
		var err error
		root, err = config.ResolveRoot()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ncp-gateway: resolve config root: %v\n", err)
			os.Exit(1)
		}
	}
	paths := config.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "ncp-gateway: prepare config root %s: %v\n", root, err)
		os.Exit(1)
	}

	debug := viper.GetBool("debug") || config.DebugFromEnv()
	logger, err := logging.Init(logging.Options{Debug: debug, LogDir: paths.LogsDir()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ncp-gateway: init logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With(zap.String("instance_id", instanceID))

	if workDir := config.WorkingDirFromEnv(); workDir != "" {
		if err := os.Chdir(workDir); err != nil {
			logger.Error("failed to change working directory", zap.String("dir", workDir), zap.Error(err))
			os.Exit(1)
		}
	}

	profileName := viper.GetString("profile")
	if profileName == "" {
		profileName = config.ProfileNameFromEnv()
	}

	store := config.NewStore(paths, logger)

	orch, err := orchestrator.New(paths, store, profileName, logger)
	if err != nil {
		logger.Error("failed to construct orchestrator", zap.Error(err))
		os.Exit(1)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if !config.BackgroundInitDisabledFromEnv() {
		go orch.Start(bgCtx)
	} else {
		logger.Info("background indexing disabled", zap.String("env", config.EnvDisableBackgroundInit))
	}

	logging.SetMCPMode(true)

	gw := gateway.New(orch, logger, os.Stdout)

	coordinator := shutdown.NewCoordinator(logger, config.ShutdownHandlerTimeout, config.ShutdownTotalTimeout)

	serveCtx, serveCancel := context.WithCancel(ctx)
	coordinator.RegisterFunc("protocol-surface", shutdown.PhaseProtocol, func(ctx context.Context) error {
		serveCancel()
		gw.Wait()
		return nil
	})
	coordinator.RegisterFunc("background-indexing", shutdown.PhaseBackground, func(ctx context.Context) error {
		bgCancel()
		return nil
	})
	coordinator.RegisterFunc("downstream-connections", shutdown.PhaseConnections, func(ctx context.Context) error {
		orch.Cleanup()
		return nil
	})

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		<-sigCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTotalTimeout+time.Second)
		defer cancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown completed with errors", zap.Error(err))
		}
	}()

	serveErr := gw.Serve(serveCtx, os.Stdin)
	if !coordinator.IsShuttingDown() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTotalTimeout)
		_ = coordinator.Shutdown(shutdownCtx)
		cancel()
	}
	<-coordinator.Done()

	if serveErr != nil && serveCtx.Err() == nil {
		logger.Error("protocol surface exited with error", zap.Error(serveErr))
		return serveErr
	}
	return nil
}
