package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cephdash/cephfetch/internal/artifact"
)

func newListCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List reports in the collection directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				_, resolved, err := loadCollectionDir(cmd)
				if err != nil {
					return &ExitError{Code: ExitFailure, Err: err}
				}
				dir = resolved
			}

			reports, err := artifact.ListCollected(dir)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			out := cmd.OutOrStdout()
			if len(reports) == 0 {
				_, err := fmt.Fprintf(out, "No reports in %s\n", dir)
				return err
			}

			rows := make([][]string, 0, len(reports))
			for _, report := range reports {
				rows = append(rows, []string{
					report.Target,
					strconv.FormatInt(report.Size, 10),
					report.ModTime.Local().Format(time.DateTime),
					report.Path,
				})
			}
			return writeTable(out, []string{"TARGET", "BYTES", "MODIFIED", "PATH"}, rows)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "collection directory (default: paths.collection_dir)")
	return cmd
}
