package cli

import (
	"context"
	"fmt"

	"github.com/harun/vprtutor/internal/config"
	"github.com/harun/vprtutor/internal/daemon"
	"github.com/harun/vprtutor/internal/logger"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tutor bot",
	Long: `Start the tutor bot in the foreground.
It polls Telegram until interrupted with Ctrl+C or SIGTERM.`,
	RunE: runStart,
}

// runDaemon is replaced in tests
var runDaemon = func(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(warning).Msg("Config warning")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return runDaemon(ctx, cfg, log)
}

// loadConfig applies the global flags on top of the file and environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).WithEnvFile(envFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := cfg.Logging
	return logger.New(logger.Config{
		Level:     lc.Level,
		File:      lc.File,
		Console:   lc.Console,
		Pretty:    lc.Pretty,
		Redaction: lc.Redaction,
		MaxSize:   lc.MaxSize,
		MaxAge:    lc.MaxAge,
		Compress:  lc.Compress,
		Secrets:   cfg.Secrets(),
	})
}
