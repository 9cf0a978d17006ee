package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	Account Account       `mapstructure:"account"`
	Client  ClientConfig  `mapstructure:"client"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Logging LoggingConfig `mapstructure:"logging"`
	Update  UpdateConfig  `mapstructure:"update"`
}

// Account holds the Combined Energy login and the installation to read
type Account struct {
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	InstallID int    `mapstructure:"install_id"`
}

// ClientConfig tunes the API client
type ClientConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ExpiryWindow time.Duration `mapstructure:"expiry_window"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// WatchConfig controls the polling loop of the watch command
type WatchConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Increment       int           `mapstructure:"increment"`
	InitialDelta    time.Duration `mapstructure:"initial_delta"`
	LogSessionReset int           `mapstructure:"log_session_reset"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// FilterConfig contains filter definitions
type FilterConfig struct {
	DefaultExpression string                  `mapstructure:"default_expression"`
	Presets           map[string]PresetFilter `mapstructure:"presets"`
}

// PresetFilter is a named filter expression
type PresetFilter struct {
	Description string `mapstructure:"description"`
	Expression  string `mapstructure:"expression"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// UpdateConfig points the update command at the release repository
type UpdateConfig struct {
	Repository string `mapstructure:"repository"`
}

// PresetExpressions returns the preset expressions keyed by name
func (f FilterConfig) PresetExpressions() map[string]string {
	out := make(map[string]string, len(f.Presets))
	for name, p := range f.Presets {
		out[name] = p.Expression
	}
	return out
}
