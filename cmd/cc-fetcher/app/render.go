package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/output"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true)
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) // #nosec G115 -- file descriptors fit in an int
}

// summaryFormat resolves --format; empty means table on a terminal and JSON elsewhere
func summaryFormat(flag string, w io.Writer) (string, error) {
	switch flag {
	case formatTable, formatJSON:
		return flag, nil
	case "":
		if isTerminal(w) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q, expected table or json", flag)
	}
}

// renderSummary prints summary in format. Statuses are coloured only on a terminal.
func renderSummary(w io.Writer, summary orchestrator.Summary, format string) error {
	if format == formatJSON {
		return writeJSON(w, summary)
	}

	colour := isTerminal(w)
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Source", "Status", "Duration", "Output / Error"})
	for _, o := range summary.Outcomes {
		detail := o.Output
		if !o.OK() {
			detail = o.Error
		}
		if err := table.Append([]string{o.Source, statusCell(o.Status, colour), o.Duration.Round(time.Millisecond).String(), detail}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	failed := len(summary.Failed())
	_, err := fmt.Fprintf(w, "run %s (%s, %s): %d ok, %d failed\n",
		summary.RunID, summary.Env, summary.Date, len(summary.Outcomes)-failed, failed)
	return err
}

func statusCell(status orchestrator.Status, colour bool) string {
	if !colour {
		return string(status)
	}
	if status == orchestrator.StatusOK {
		return okStyle.Render(string(status))
	}
	return errorStyle.Render(string(status))
}

func writeJSON(w io.Writer, v any) error {
	data, err := output.Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
