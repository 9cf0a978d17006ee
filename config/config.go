package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/s0up4200/combined-energy/combinedenergy"
)

// EnvPrefix is prepended to every environment override, e.g. CE_ACCOUNT_EMAIL
const EnvPrefix = "CE"

// Load loads the configuration from file and the environment. A missing
// config file is not an error when the account is supplied through the
// environment.
func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases
	_ = v.BindEnv("account.email", "CE_ACCOUNT_EMAIL", "CE_EMAIL")
	_ = v.BindEnv("account.password", "CE_ACCOUNT_PASSWORD", "CE_PASSWORD")
	_ = v.BindEnv("account.install_id", "CE_ACCOUNT_INSTALL_ID", "CE_INSTALL_ID")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".combined-energy"))
		}

		// Check /etc
		v.AddConfigPath("/etc/combined-energy/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Account defaults
	v.SetDefault("account.email", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.install_id", 0)

	// Client defaults
	v.SetDefault("client.timeout", combinedenergy.DefaultRequestTimeout)
	v.SetDefault("client.expiry_window", combinedenergy.DefaultExpiryWindow)
	v.SetDefault("client.user_agent", "")

	// Watch defaults
	v.SetDefault("watch.interval", time.Minute)
	v.SetDefault("watch.increment", 300)
	v.SetDefault("watch.initial_delta", time.Hour)
	v.SetDefault("watch.log_session_reset", combinedenergy.DefaultLogSessionRestart)
	v.SetDefault("watch.metrics_addr", "")

	// Filter defaults
	v.SetDefault("filter.default_expression", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)

	// Update defaults
	v.SetDefault("update.repository", "s0up4200/combined-energy")
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Account.Email == "" {
		return fmt.Errorf("account.email is required")
	}

	if cfg.Account.Password == "" {
		return fmt.Errorf("account.password is required")
	}

	if cfg.Account.InstallID <= 0 {
		return fmt.Errorf("account.install_id must be a positive installation id")
	}

	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}

	if cfg.Client.ExpiryWindow < 0 {
		return fmt.Errorf("client.expiry_window must not be negative")
	}

	if cfg.Watch.Increment <= 0 {
		return fmt.Errorf("invalid watch.increment: %d (must be a positive number of seconds)", cfg.Watch.Increment)
	}

	if cfg.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive")
	}

	if cfg.Watch.LogSessionReset < 0 {
		return fmt.Errorf("watch.log_session_reset must not be negative")
	}

	for name, p := range cfg.Filter.Presets {
		if strings.TrimSpace(p.Expression) == "" {
			return fmt.Errorf("filter preset '%s' has no expression", name)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}
