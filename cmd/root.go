package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/logging"
	"github.com/chaos-io/bgremover/rembg"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg      config.Config
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "bgremover",
	Short:   "Remove image backgrounds through a rembg backend",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		var err error
		cfg, err = config.Load(files...)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logging.Setup(cfg.LogLevel)
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
}

func newSessions(backend rembg.BackendConfig) (*rembg.Sessions, error) {
	factory, err := rembg.NewFactory(backend)
	if err != nil {
		return nil, err
	}
	return rembg.NewSessions(factory), nil
}
