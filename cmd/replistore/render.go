package main

import (
	"errors"
	"fmt"
	"strings"

	"replistore/pkg/coordinator"
	"replistore/pkg/metrics"
	"replistore/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	okStyle      = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

func createPanel(title, content string) string {
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

func renderListing(listings []coordinator.NodeListing) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		})

	t.Headers("NODE", "STATUS", "FILES")
	for _, l := range listings {
		status := okStyle.Render("Active")
		if !l.Active {
			status = dangerStyle.Render("Down")
		}

		files := mutedStyle.Render("[Empty]")
		if len(l.Files) > 0 {
			files = strings.Join(l.Files, " ")
		}
		t.Row(l.Name, status, files)
	}

	return t.Render()
}

func renderUpload(result coordinator.UploadResult, size int) string {
	if result.Stored == 0 {
		return dangerStyle.Render(fmt.Sprintf("Upload failed: no active node accepted %s", result.Filename))
	}

	line := fmt.Sprintf("Uploaded %s (%s) to %s", result.Filename,
		utils.FormatDataSize(int64(size)), strings.Join(result.Nodes, ", "))
	if result.Partial() {
		return warningStyle.Render(fmt.Sprintf("%s: partial replication, %d of %d copies",
			line, result.Stored, result.Required))
	}
	return okStyle.Render(fmt.Sprintf("%s (%d copies)", line, result.Stored))
}

func renderDownload(filename string, result coordinator.DownloadResult) string {
	return fmt.Sprintf("%s from %s: %s", okStyle.Render("Downloaded "+filename), result.Node, string(result.Data))
}

func renderTransition(t coordinator.NodeTransition) string {
	if t.Active {
		return okStyle.Render(fmt.Sprintf("%s recovered", t.Name))
	}
	return warningStyle.Render(fmt.Sprintf("%s is now down", t.Name))
}

func renderRepair(report coordinator.RepairReport) string {
	var b strings.Builder

	if len(report.Repairs) == 0 && len(report.Unrecoverable) == 0 &&
		len(report.UnderReplicated) == 0 && len(report.Failed) == 0 {
		b.WriteString(okStyle.Render("All files fully replicated, nothing to repair"))
		return b.String()
	}

	for _, r := range report.Repairs {
		fmt.Fprintf(&b, "Re-replicated %s from %s to %s (%d -> %d copies)\n",
			r.Filename, r.Source, strings.Join(r.Targets, ", "), r.Before, r.After)
	}
	for _, f := range report.UnderReplicated {
		b.WriteString(warningStyle.Render(fmt.Sprintf("Still under-replicated: %s (not enough active nodes)", f)) + "\n")
	}
	for _, f := range report.Unrecoverable {
		b.WriteString(dangerStyle.Render(fmt.Sprintf("Unrecoverable: %s (no active node holds a copy)", f)) + "\n")
	}
	for _, f := range report.Failed {
		b.WriteString(dangerStyle.Render(fmt.Sprintf("Repair failed: %s (%v)", f.Filename, f.Err)) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHealth(h metrics.HealthSnapshot) string {
	statusStyle := okStyle
	switch h.Status() {
	case metrics.StatusDegraded:
		statusStyle = warningStyle
	case metrics.StatusUnhealthy:
		statusStyle = dangerStyle
	}

	rows := []struct {
		label string
		value string
	}{
		{"Status", statusStyle.Render(strings.ToUpper(h.Status()))},
		{"Active Nodes", fmt.Sprintf("%d / %d", h.ActiveNodes, h.TotalNodes)},
		{"Files", fmt.Sprintf("%d", h.Files)},
		{"Under-replicated", fmt.Sprintf("%d", h.UnderReplicated)},
		{"Unavailable", fmt.Sprintf("%d", h.Unavailable)},
		{"Health Score", fmt.Sprintf("%.1f", h.Score())},
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label+":")+" "+r.value)
	}
	return createPanel("CLUSTER HEALTH", strings.Join(lines, "\n"))
}

// renderError turns coordinator errors into a one-line message.
func renderError(err error) string {
	var unrecoverable *coordinator.UnrecoverableError
	switch {
	case errors.Is(err, coordinator.ErrInvalidNode):
		return dangerStyle.Render("Invalid node number: " + err.Error())
	case errors.Is(err, coordinator.ErrNoStateChange):
		return warningStyle.Render("No change: " + err.Error())
	case errors.Is(err, coordinator.ErrFileUnavailable):
		return dangerStyle.Render("File unavailable (no active node holds it): " + err.Error())
	case errors.As(err, &unrecoverable):
		return dangerStyle.Render("Unrecoverable: " + unrecoverable.Filename)
	default:
		return dangerStyle.Render("Error: " + err.Error())
	}
}
