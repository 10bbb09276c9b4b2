package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cephdash/cephfetch/internal/collect"
	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/credentials"
	"github.com/cephdash/cephfetch/internal/db"
	"github.com/cephdash/cephfetch/internal/events"
	"github.com/cephdash/cephfetch/internal/logging"
	"github.com/cephdash/cephfetch/internal/models"
	"github.com/cephdash/cephfetch/internal/ssh"
)

// escalationPasswordEnv presets the sudo password for unattended runs. The
// variable is removed from the environment once read, but the copy the Go
// runtime made at startup is an immutable string and cannot be wiped.
const escalationPasswordEnv = config.EnvPrefix + "_ESCALATION_PASSWORD"

type collectOptions struct {
	concurrency int
	targets     []string
	prompter    credentials.Prompter
}

func newCollectCmd() *cobra.Command {
	opts := &collectOptions{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the collection script on every target and fetch the reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "override execution.max_concurrent")
	cmd.Flags().StringSliceVar(&opts.targets, "targets", nil, "only visit these target names (comma separated)")
	return cmd
}

func runCollect(cmd *cobra.Command, opts *collectOptions) error {
	preset := takeEscalationPassword()
	defer clear(preset)

	loader := newLoader(cmd)
	if opts.concurrency > 0 {
		loader.Set("execution.max_concurrent", opts.concurrency)
	}
	cfg, err := loader.Load()
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	closer, err := initLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer closer.Close()
	logger := logging.Component("cli")

	targets := models.FilterTargets(cfg.Targets, opts.targets)
	if len(targets) == 0 {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("no configured target matches %s", strings.Join(opts.targets, ","))}
	}

	prompter := opts.prompter
	if prompter == nil {
		prompter = credentials.NewTerminalPrompter()
	}
	material, err := credentials.Load(credentials.LoadOptions{
		Username:            cfg.SSH.Username,
		KeyFile:             cfg.SSH.KeyFile,
		KeyRequiresPassword: cfg.SSH.KeyRequiresPassword,
		EscalationPassword:  preset,
		Prompter:            prompter,
	})
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	// The runner wipes on return; this covers the setup errors below.
	defer material.Wipe()

	dialer, err := newDialer(cfg, material)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	publisher, closeHistory := openHistory(cmd.Context(), cfg, logger)
	defer closeHistory()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := collect.NewPipeline(cfg, sshConnector(dialer), publisher)
	runner := collect.NewRunner(pipeline, material,
		collect.WithConcurrency(cfg.Execution.MaxConcurrent),
		collect.WithPublisher(publisher),
	)

	summary, runErr := runner.Run(ctx, targets)
	out := cmd.OutOrStdout()
	if err := renderOutcomes(out, runner.Outcomes()); err != nil {
		return err
	}
	renderSummary(out, summary, cfg.Paths.CollectionDir)

	code := exitCode(summary, runErr)
	if code == ExitOK {
		return nil
	}
	if runErr == nil {
		return &ExitError{Code: code, Err: errors.New(summary.String()), Printed: true}
	}
	return &ExitError{Code: code, Err: runErr}
}

// takeEscalationPassword copies the preset password out of the environment
// and unsets it so child processes and later lookups do not see it.
func takeEscalationPassword() []byte {
	value, ok := os.LookupEnv(escalationPasswordEnv)
	if !ok {
		return nil
	}
	_ = os.Unsetenv(escalationPasswordEnv)
	if value == "" {
		return nil
	}
	return []byte(value)
}

// exitCode maps a run result onto the process exit code.
func exitCode(summary models.RunSummary, err error) int {
	switch {
	case err != nil:
		return ExitFailure
	case summary.Succeeded == 0:
		return ExitFailure
	case summary.Failed > 0:
		return ExitPartial
	default:
		return ExitOK
	}
}

func newDialer(cfg *config.Config, material *credentials.Material) (*ssh.Dialer, error) {
	opts := []ssh.DialerOption{
		ssh.WithPort(cfg.SSH.Port),
		ssh.WithConnectTimeout(cfg.SSH.ConnectTimeout),
	}
	if cfg.SSH.KnownHosts != "" {
		callback, err := ssh.KnownHostsCallback(cfg.SSH.KnownHosts)
		if err != nil {
			return nil, &config.ConfigError{Err: fmt.Errorf("ssh.known_hosts: %w", err)}
		}
		opts = append(opts, ssh.WithHostKeyCallback(callback))
	}
	return ssh.NewDialer(material, opts...), nil
}

func sshConnector(dialer *ssh.Dialer) collect.Connector {
	return collect.ConnectorFunc(func(ctx context.Context, target models.Target) (collect.Session, error) {
		session, err := dialer.Dial(ctx, target)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// openHistory wires the SQLite run history into a publisher. History is
// best effort: failures are logged and the run continues without it.
func openHistory(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, func()) {
	if !cfg.History.Enabled {
		return events.NewInMemoryPublisher(), func() {}
	}

	database, err := db.Open(cfg.HistoryPath())
	if err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		return events.NewInMemoryPublisher(), func() {}
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		_ = database.Close()
		return events.NewInMemoryPublisher(), func() {}
	}

	publisher := events.NewInMemoryPublisher(events.WithRepository(db.NewEventRepository(database)))
	if err := db.NewRecorder(db.NewRunRepository(database)).Attach(publisher); err != nil {
		logger.Warn().Err(err).Msg("run history recorder not attached")
	}
	return publisher, func() {
		if err := database.Close(); err != nil {
			logger.Debug().Err(err).Msg("close history database")
		}
	}
}
