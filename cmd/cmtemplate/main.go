package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/data-power-io/cmdump-templates/internal/config"
	"github.com/data-power-io/cmdump-templates/internal/logging"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// app carries what every command needs once the persistent flags are parsed
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cmtemplate",
		Short: "Build master templates from configuration-dump exports",
		Long: `cmtemplate parses sectioned configuration-dump exports, one directory per
group below the input root, and writes the union of parameters per section as a
master template for every group plus one global template.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (keys as CMDUMP_* names)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (json or console)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newBuildCmd(a))
	root.AddCommand(newParseCmd(a))
	root.AddCommand(newMergeCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.Set(config.LogLevel, a.logLevel)
	cfg.Set(config.LogFormat, a.logFormat)
	if a.verbose {
		cfg.Set(config.LogLevel, "debug")
	}
	a.cfg = cfg

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.GetString(config.LogLevel, "info"),
		Format: cfg.GetString(config.LogFormat, "console"),
		Fields: map[string]string{"service": "cmtemplate"},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func (a *app) signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			a.logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// no config or logger needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cmtemplate", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
