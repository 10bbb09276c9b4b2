// Package cli implements the cephfetch command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/logging"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 2
)

// ExitError carries a process exit code. Printed is set when the command
// already reported the problem to the operator.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cephfetch",
		Short: "Collect Ceph diagnostic reports from remote hosts",
		Long: "cephfetch logs into every configured host over SSH, runs the Ceph " +
			"collection script under sudo and copies the generated report into the " +
			"local collection directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().String("config", "", "config file (default: search ~/.config/cephfetch, .)")
	cmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newCollectCmd(),
		newListCmd(),
		newHistoryCmd(),
		newVersionCmd(version),
	)
	return cmd
}

// newLoader builds a config loader honouring the persistent flags.
func newLoader(cmd *cobra.Command) *config.Loader {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loader.Set("logging.level", level)
	}
	return loader
}

// loadCollectionDir resolves the collection directory for read-only
// commands, which should work even when the config is incomplete.
func loadCollectionDir(cmd *cobra.Command) (*config.Config, string, error) {
	loader := newLoader(cmd)
	cfg, err := loader.Load()
	if err == nil {
		return cfg, cfg.Paths.CollectionDir, nil
	}
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		return nil, "", err
	}
	dir := loader.Viper().GetString("paths.collection_dir")
	if dir == "" {
		dir = config.DefaultCollectionDir
	}
	return nil, dir, nil
}

// initLogging configures the global logger from cfg.
func initLogging(cfg *config.Config, stderr io.Writer) (io.Closer, error) {
	return logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       stderr,
		File:         cfg.Logging.File,
		EnableCaller: cfg.Logging.EnableCaller,
	})
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cephfetch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cephfetch %s\n", version)
			return err
		},
	}
}
