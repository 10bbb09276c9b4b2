// Package config handles cephfetch configuration loading and validation.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cephdash/cephfetch/internal/models"
)

// Default values used when the configuration omits a setting.
const (
	DefaultPort              = 22
	DefaultConnectTimeout    = 15 * time.Second
	DefaultPromptTimeout     = 30 * time.Second
	DefaultScriptTimeout     = 10 * time.Minute
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultSettleDelay       = 1 * time.Second
	DefaultArtifactWindow    = 10 * time.Minute
	DefaultLocateTimeout     = 30 * time.Second
	DefaultTransferTimeout   = 2 * time.Minute
	DefaultCollectionDir     = "output"
	DefaultHistoryFile       = ".cephfetch-history.db"
	minPollInterval          = 10 * time.Millisecond
	maxConcurrentSessionsCap = 64
)

// DefaultCompletionMarkers are the completion lines printed by known
// versions of the remote collection script.
var DefaultCompletionMarkers = []string{
	"Results saved to ceph-mapping.md",
	"Results saved to ceph-details-output",
	"Ceph information collection complete",
}

// DefaultEscalationPatterns match the sudo password request.
var DefaultEscalationPatterns = []string{
	"password for",
	"[sudo] password",
}

// DefaultArtifactNames are the legacy fixed name followed by host-qualified patterns.
var DefaultArtifactNames = []string{
	"ceph-mapping.md",
	"ceph-details-output-*.md",
	"ceph-mapping-*.md",
}

// Config is the root configuration structure for cephfetch.
type Config struct {
	// SSH authentication settings.
	SSH SSHConfig `yaml:"ssh" mapstructure:"ssh"`

	// Targets is the ordered list of hosts to visit.
	Targets []models.Target `yaml:"targets" mapstructure:"targets"`

	// Paths settings.
	Paths PathsConfig `yaml:"paths" mapstructure:"paths"`

	// Execution timing and matching settings.
	Execution ExecutionConfig `yaml:"execution" mapstructure:"execution"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// History settings.
	History HistoryConfig `yaml:"history" mapstructure:"history"`
}

// SSHConfig contains authentication settings shared by every target.
type SSHConfig struct {
	// Username is the remote login user.
	Username string `yaml:"username" mapstructure:"username"`

	// KeyFile is the private key path.
	KeyFile string `yaml:"key_file" mapstructure:"key_file"`

	// KeyRequiresPassword prompts once for the key passphrase.
	KeyRequiresPassword bool `yaml:"key_requires_password" mapstructure:"key_requires_password"`

	// Port is used for target addresses without an explicit port.
	Port int `yaml:"port" mapstructure:"port"`

	// ConnectTimeout bounds TCP connect plus SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// KnownHosts enables host key verification against a known_hosts file.
	KnownHosts string `yaml:"known_hosts" mapstructure:"known_hosts"`
}

// PathsConfig contains remote and local paths.
type PathsConfig struct {
	// RemoteScriptPath is the diagnostic script on each target.
	RemoteScriptPath string `yaml:"remote_script_path" mapstructure:"remote_script_path"`

	// CollectionDir receives the retrieved artifacts.
	CollectionDir string `yaml:"collection_dir" mapstructure:"collection_dir"`
}

// ExecutionConfig controls prompt detection and remote execution.
type ExecutionConfig struct {
	PromptTimeout      time.Duration `yaml:"prompt_timeout" mapstructure:"prompt_timeout"`
	ScriptTimeout      time.Duration `yaml:"script_timeout" mapstructure:"script_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	SettleDelay        time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	ArtifactWindow     time.Duration `yaml:"artifact_window" mapstructure:"artifact_window"`
	LocateTimeout      time.Duration `yaml:"locate_timeout" mapstructure:"locate_timeout"`
	TransferTimeout    time.Duration `yaml:"transfer_timeout" mapstructure:"transfer_timeout"`
	MaxConcurrent      int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	EscalationPatterns []string      `yaml:"escalation_patterns" mapstructure:"escalation_patterns"`
	CompletionMarkers  []string      `yaml:"completion_markers" mapstructure:"completion_markers"`
	ArtifactNames      []string      `yaml:"artifact_names" mapstructure:"artifact_names"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			Port:           DefaultPort,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Targets: []models.Target{},
		Paths: PathsConfig{
			CollectionDir: DefaultCollectionDir,
		},
		Execution: ExecutionConfig{
			PromptTimeout:      DefaultPromptTimeout,
			ScriptTimeout:      DefaultScriptTimeout,
			PollInterval:       DefaultPollInterval,
			SettleDelay:        DefaultSettleDelay,
			ArtifactWindow:     DefaultArtifactWindow,
			LocateTimeout:      DefaultLocateTimeout,
			TransferTimeout:    DefaultTransferTimeout,
			MaxConcurrent:      1,
			EscalationPatterns: append([]string(nil), DefaultEscalationPatterns...),
			CompletionMarkers:  append([]string(nil), DefaultCompletionMarkers...),
			ArtifactNames:      append([]string(nil), DefaultArtifactNames...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid. Every problem is reported
// under its path in the config file.
func (c *Config) Validate() error {
	v := &models.ValidationErrors{}

	v.Check(strings.TrimSpace(c.SSH.Username) != "", "ssh.username", "is required")
	v.Check(strings.TrimSpace(c.SSH.KeyFile) != "", "ssh.key_file", "is required")
	v.Check(c.SSH.Port >= 1 && c.SSH.Port <= 65535, "ssh.port", "must be between 1 and 65535")
	v.Check(c.SSH.ConnectTimeout > 0, "ssh.connect_timeout", "must be positive")

	v.Check(len(c.Targets) > 0, "targets", "at least one target is required")
	seen := make(map[string]int, len(c.Targets))
	for i, target := range c.Targets {
		at := models.Index("targets", i)
		v.Add(at, target.Validate())
		if first, ok := seen[target.Name]; ok && target.Name != "" {
			v.Add(models.JoinPath(at, "name"), fmt.Errorf("%w: %q also used by %s", models.ErrDuplicateTarget, target.Name, models.Index("targets", first)))
			continue
		}
		seen[target.Name] = i
	}

	script := strings.TrimSpace(c.Paths.RemoteScriptPath)
	v.Check(script != "", "paths.remote_script_path", "is required")
	v.Check(script == "" || !strings.HasSuffix(script, "/"), "paths.remote_script_path", "must name a file")
	v.Check(strings.TrimSpace(c.Paths.CollectionDir) != "", "paths.collection_dir", "is required")

	exec := c.Execution
	v.Check(exec.PromptTimeout > 0, "execution.prompt_timeout", "must be positive")
	v.Check(exec.ScriptTimeout > 0, "execution.script_timeout", "must be positive")
	v.Check(exec.PollInterval >= minPollInterval, "execution.poll_interval", "must be at least 10ms")
	v.Check(exec.SettleDelay >= 0, "execution.settle_delay", "must not be negative")
	v.Check(exec.ArtifactWindow >= time.Minute, "execution.artifact_window", "must be at least 1m")
	v.Check(exec.LocateTimeout > 0, "execution.locate_timeout", "must be positive")
	v.Check(exec.TransferTimeout > exec.SettleDelay, "execution.transfer_timeout", "must exceed execution.settle_delay")
	v.Check(exec.MaxConcurrent >= 1 && exec.MaxConcurrent <= maxConcurrentSessionsCap,
		"execution.max_concurrent", fmt.Sprintf("must be between 1 and %d", maxConcurrentSessionsCap))
	v.Check(len(nonEmpty(exec.CompletionMarkers)) > 0, "execution.completion_markers", "at least one marker is required")
	v.Check(len(nonEmpty(exec.EscalationPatterns)) > 0, "execution.escalation_patterns", "at least one pattern is required")

	names := nonEmpty(exec.ArtifactNames)
	v.Check(len(names) > 0, "execution.artifact_names", "at least one name is required")
	for i, name := range names {
		at := models.Index("execution.artifact_names", i)
		if strings.ContainsAny(name, "/'") {
			v.Check(false, at, "must be a plain file name or glob")
		} else if _, err := path.Match(name, ""); err != nil {
			v.Add(at, err)
		}
	}

	v.Check(c.Logging.Format == "console" || c.Logging.Format == "json", "logging.format", "must be console or json")

	return v.Err()
}

// ScriptDir returns the remote directory holding the script, or "" when the
// script path has no directory component.
func (c *Config) ScriptDir() string {
	dir := path.Dir(c.Paths.RemoteScriptPath)
	if dir == "." {
		return ""
	}
	return dir
}

// ScriptName returns the base name of the remote script.
func (c *Config) ScriptName() string {
	return path.Base(c.Paths.RemoteScriptPath)
}

// HistoryPath returns the SQLite history file path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.CollectionDir, DefaultHistoryFile)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			out = append(out, value)
		}
	}
	return out
}
