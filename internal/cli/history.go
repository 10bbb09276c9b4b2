package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cephdash/cephfetch/internal/config"
	"github.com/cephdash/cephfetch/internal/db"
	"github.com/cephdash/cephfetch/internal/models"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent collection runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := loadCollectionDir(cmd)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			path := filepath.Join(dir, config.DefaultHistoryFile)
			if cfg != nil {
				path = cfg.HistoryPath()
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				_, err := fmt.Fprintf(out, "No run history at %s\n", path)
				return err
			}

			database, err := db.Open(path)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			defer database.Close()
			if _, err := database.MigrateUp(cmd.Context()); err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			runs := db.NewRunRepository(database)

			if runID != "" {
				targets, err := runs.Targets(cmd.Context(), runID)
				if err != nil {
					return &ExitError{Code: ExitFailure, Err: err}
				}
				return writeTable(out, []string{"TARGET", "ADDRESS", "STATE", "DETAIL"}, targetRows(targets))
			}

			records, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			if len(records) == 0 {
				_, err := fmt.Fprintln(out, "No runs recorded")
				return err
			}
			return writeTable(out, []string{"RUN", "STARTED", "STATUS", "OK", "FAILED", "DURATION", "ERROR"}, runRows(records))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "show the targets of one run")
	return cmd
}

func runRows(records []*models.RunRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, run := range records {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			renderStatus(run.Status),
			strconv.Itoa(run.Summary.Succeeded),
			strconv.Itoa(run.Summary.Failed),
			duration,
			truncate(run.Error, maxErrorWidth),
		})
	}
	return rows
}

func targetRows(records []*models.TargetRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		detail := rec.LocalPath
		if rec.Error != "" {
			detail = truncate(rec.Error, maxErrorWidth)
		}
		rows = append(rows, []string{rec.Target, rec.Address, string(rec.State), detail})
	}
	return rows
}
