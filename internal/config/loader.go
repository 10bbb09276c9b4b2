package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CEPHFETCH"

// ConfigError reports a fatal configuration problem detected before any
// host is contacted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	l.setupViper(DefaultConfig())

	// Defaults live in Viper; decoding into a zero value keeps list settings
	// from the file from being merged into the default lists.
	cfg := &Config{}

	if err := l.loadConfigFile(); err != nil {
		return nil, &ConfigError{Path: l.configFile, Err: err}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Path: l.ConfigFileUsed(), Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: l.ConfigFileUsed(), Err: err}
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all local path fields. Remote paths are left alone.
func expandPaths(cfg *Config) {
	cfg.SSH.KeyFile = expandTilde(cfg.SSH.KeyFile)
	cfg.SSH.KnownHosts = expandTilde(cfg.SSH.KnownHosts)
	cfg.Paths.CollectionDir = expandTilde(cfg.Paths.CollectionDir)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.History.Path = expandTilde(cfg.History.Path)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "cephfetch"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "cephfetch"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees env vars for keys Viper already knows about.
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("ssh.port", cfg.SSH.Port)
	v.SetDefault("ssh.connect_timeout", cfg.SSH.ConnectTimeout)
	v.SetDefault("ssh.key_requires_password", cfg.SSH.KeyRequiresPassword)

	v.SetDefault("paths.collection_dir", cfg.Paths.CollectionDir)

	v.SetDefault("execution.prompt_timeout", cfg.Execution.PromptTimeout)
	v.SetDefault("execution.script_timeout", cfg.Execution.ScriptTimeout)
	v.SetDefault("execution.poll_interval", cfg.Execution.PollInterval)
	v.SetDefault("execution.settle_delay", cfg.Execution.SettleDelay)
	v.SetDefault("execution.artifact_window", cfg.Execution.ArtifactWindow)
	v.SetDefault("execution.locate_timeout", cfg.Execution.LocateTimeout)
	v.SetDefault("execution.transfer_timeout", cfg.Execution.TransferTimeout)
	v.SetDefault("execution.max_concurrent", cfg.Execution.MaxConcurrent)
	v.SetDefault("execution.escalation_patterns", cfg.Execution.EscalationPatterns)
	v.SetDefault("execution.completion_markers", cfg.Execution.CompletionMarkers)
	v.SetDefault("execution.artifact_names", cfg.Execution.ArtifactNames)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("history.enabled", cfg.History.Enabled)
	v.SetDefault("history.path", cfg.History.Path)
}

// loadConfigFile attempts to load the configuration file. A missing file is
// only an error when it was named explicitly; validation reports the missing
// required keys otherwise.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		if _, err := os.Stat(l.configFile); err != nil {
			return fmt.Errorf("config file not found: %w", err)
		}
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. Values set here win over file and env.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// bindEnvVars binds CEPHFETCH_* environment variables for config keys.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		"ssh.username",
		"ssh.key_file",
		"ssh.key_requires_password",
		"ssh.port",
		"ssh.connect_timeout",
		"ssh.known_hosts",
		"paths.remote_script_path",
		"paths.collection_dir",
		"execution.prompt_timeout",
		"execution.script_timeout",
		"execution.poll_interval",
		"execution.settle_delay",
		"execution.artifact_window",
		"execution.locate_timeout",
		"execution.transfer_timeout",
		"execution.max_concurrent",
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.enable_caller",
		"history.enabled",
		"history.path",
	}

	for _, key := range envBindings {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}
