package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cephdash/cephfetch/internal/models"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headingStyle = lipgloss.NewStyle().Bold(true)
)

// maxErrorWidth keeps the outcome table readable on narrow terminals.
const maxErrorWidth = 72

func renderOutcomes(out io.Writer, outcomes []*models.ExecutionOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		result := okStyle.Render("ok")
		detail := outcome.LocalPath
		if !outcome.Succeeded() {
			result = failStyle.Render(string(outcome.State))
			detail = truncate(outcome.ErrorMessage(), maxErrorWidth)
		}
		rows = append(rows, []string{
			outcome.Target.Name,
			outcome.Target.Address,
			result,
			outcome.Duration().Round(100 * time.Millisecond).String(),
			detail,
		})
	}
	return writeTable(out, []string{
		headingStyle.Render("TARGET"),
		headingStyle.Render("ADDRESS"),
		headingStyle.Render("RESULT"),
		headingStyle.Render("TIME"),
		headingStyle.Render("DETAIL"),
	}, rows)
}

func renderSummary(out io.Writer, summary models.RunSummary, collectionDir string) {
	style := okStyle
	switch {
	case summary.Succeeded == 0:
		style = failStyle
	case summary.Failed > 0:
		style = warnStyle
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, style.Render(summary.String()))
	if summary.Succeeded > 0 {
		fmt.Fprintln(out, dimStyle.Render("Output files are available in "+collectionDir))
	}
}

func renderStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusSucceeded:
		return okStyle.Render(string(status))
	case models.RunStatusPartial, models.RunStatusRunning:
		return warnStyle.Render(string(status))
	default:
		return failStyle.Render(string(status))
	}
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= width || width < 4 {
		return s
	}
	return s[:width-3] + "..."
}
