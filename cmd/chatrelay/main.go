package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server"
	"go.uber.org/zap"
)

const Version = "v0.1.0"

type options struct {
	configFile string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Relay chat messages to an Azure OpenAI deployment",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to YAML configuration file (default: environment only)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			if missing := cfg.Provider.Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "Warning: chat requests will fail until these are set: %v\n", missing)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatrelay %s\n", Version)
		},
	})

	return root
}

// loadConfig reads the dotenv file when present, then the YAML file if
// one is given, otherwise the environment alone.
func loadConfig(opts *options) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	if opts.configFile == "" {
		return config.FromEnv()
	}
	return config.LoadFile(opts.configFile)
}

func serve(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	errors.SetLogger(logger)

	var serverOpts []server.Option
	if opts.configFile != "" {
		watcher, err := config.NewConfigWatcher(opts.configFile, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer watcher.Close()
		cfg = watcher.GetCurrentConfig()
		serverOpts = append(serverOpts, server.WithConfigWatcher(watcher))
	}

	srv, err := server.NewServer(cfg, logger, serverOpts...)
	if err != nil {
		return fmt.Errorf("server initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting chatrelay",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
	)
	return srv.Start(ctx)
}
