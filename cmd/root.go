package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/combined-energy/combinedenergy"
	"github.com/s0up4200/combined-energy/config"
	"github.com/s0up4200/combined-energy/filter"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
	client  *combinedenergy.Client
	filters *filter.Manager

	// Command flags
	filterExpr string
	preset     string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "combined-energy",
	Short: "Read energy data from a Combined Energy installation",
	Long: `combined-energy talks to the Combined Energy monitoring service. It logs in
with your account, reads installation details and device readings, and can
follow the live readings stream of one installation.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// initializeApp loads the configuration and builds the API client
func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger = setupLogger(cfg.Logging).With().
		Str("run_id", uuid.NewString()).
		Str("command", cmd.Name()).
		Logger()

	opts := []combinedenergy.Option{
		combinedenergy.WithTimeout(cfg.Client.Timeout),
		combinedenergy.WithExpiryWindow(cfg.Client.ExpiryWindow),
		combinedenergy.WithUserAgent(cfg.Client.UserAgent),
	}

	client, err = combinedenergy.NewClient(combinedenergy.Credentials{
		MobileOrEmail: cfg.Account.Email,
		Password:      cfg.Account.Password,
	}, cfg.Account.InstallID, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	filters = filter.NewManager()
	if err := filters.Load(cfg.Filter.PresetExpressions()); err != nil {
		return fmt.Errorf("invalid filter preset: %w", err)
	}

	return nil
}

// closeApp releases the client session
func closeApp(cmd *cobra.Command, args []string) {
	if client != nil {
		client.Close()
	}
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isatty.IsTerminal(os.Stderr.Fd()),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// getFilterExpression determines the filter expression to use. An empty
// result with a nil error means no filtering.
func getFilterExpression() (string, error) {
	// Priority: command line filter > preset > default
	if filterExpr != "" {
		return filterExpr, nil
	}

	if preset != "" {
		if presetFilter, ok := cfg.Filter.Presets[preset]; ok {
			return presetFilter.Expression, nil
		}
		return "", fmt.Errorf("preset '%s' not found in config", preset)
	}

	return cfg.Filter.DefaultExpression, nil
}

// addFilterFlags registers --filter and --preset on cmd
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "use a preset filter from config")
}
