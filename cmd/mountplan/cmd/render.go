package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/barysiuk/mountplan/internal/core"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// PrintError writes err and, for git failures, the hints that go with it.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	var ce *ref.CloneError
	if errors.As(err, &ce) {
		for _, h := range ce.Hints {
			fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("hint:"), h)
		}
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// actionLabel colors an update action by outcome.
func actionLabel(action string) string {
	switch action {
	case core.ActionCompiled, core.ActionSynced, core.ActionUpToDate:
		return okStyle.Render(action)
	case core.ActionFailed:
		return errorStyle.Render(action)
	default:
		return warnStyle.Render(action)
	}
}

func renderCollectionResult(w io.Writer, r core.CollectionUpdateResult) {
	header := fmt.Sprintf("%s  %s", titleStyle.Render(r.CollectionID), actionLabel(r.Action))
	if r.Change != nil {
		header += dimStyle.Render(fmt.Sprintf("  (%s %s -> %s)", r.Change.Kind, shortStamp(r.Change.Old), shortStamp(r.Change.New)))
	}
	fmt.Fprintln(w, header)
	if r.Error != "" {
		fmt.Fprintf(w, "  %s\n", errorStyle.Render(r.Error))
	}
	for _, p := range r.Profiles {
		renderProfileResult(w, p)
	}
}

func renderProfileResult(w io.Writer, p core.ProfileUpdateResult) {
	line := fmt.Sprintf("  %-28s %s", p.ProfileID, actionLabel(p.Action))
	if len(p.Changes) > 0 {
		reasons := make([]string, 0, len(p.Changes))
		for _, c := range p.Changes {
			reasons = append(reasons, c.String())
		}
		line += dimStyle.Render("  " + strings.Join(reasons, ", "))
	}
	fmt.Fprintln(w, line)
	if p.Error != "" {
		fmt.Fprintf(w, "    %s\n", errorStyle.Render(p.Error))
	}
}

func renderSummary(w io.Writer, res core.UpdateAllResult) {
	summary := fmt.Sprintf("%d compiled, %d up to date, %d failed", res.Compiled, res.UpToDate, res.Failed)
	if res.Success {
		fmt.Fprintln(w, okStyle.Render(summary))
		return
	}
	fmt.Fprintln(w, errorStyle.Render(summary))
}

// shortStamp shortens commits to 7 characters and leaves other values alone.
func shortStamp(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) == 40 && !strings.ContainsAny(s, ":-") {
		return s[:7]
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
