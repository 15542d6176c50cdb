// Package dashboard renders frankd status for the terminal: the one-shot
// status view and the live watch TUI.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69 // Total visual width including borders
	panelInnerWidth = 65 // panelTotalWidth - 4 (2 borders + 2 padding spaces)
)

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7eb8da"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6e7681"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7ec699")) // sage green

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da"))
)

// renderPanel builds a bordered panel of exactly panelTotalWidth columns:
// ╭─ TITLE ─...─╮ / │ content │ / ╰─...─╯
func renderPanel(title, content string) string {
	lines := []string{buildTopBorder(title), buildEmptyLine()}
	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, buildContentLine(line))
	}
	lines = append(lines, buildEmptyLine(), buildBottomBorder())
	return strings.Join(lines, "\n")
}

func buildTopBorder(title string) string {
	titleUpper := strings.ToUpper(title)
	prefix := "╭─ "
	dashCount := max(panelTotalWidth-lipgloss.Width(prefix+titleUpper+" ")-1, 0)
	return borderStyle.Render(prefix) + labelStyle.Render(titleUpper) + borderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮")
}

func buildBottomBorder() string {
	return borderStyle.Render("╰" + strings.Repeat("─", panelTotalWidth-2) + "╯")
}

func buildEmptyLine() string {
	border := borderStyle.Render("│")
	return border + strings.Repeat(" ", panelTotalWidth-2) + border
}

func buildContentLine(content string) string {
	border := borderStyle.Render("│")
	return border + " " + padOrTruncate(content, panelTotalWidth-4) + " " + border
}

// padOrTruncate ensures content is exactly targetWidth visual chars
func padOrTruncate(s string, targetWidth int) string {
	w := lipgloss.Width(s)
	switch {
	case w == targetWidth:
		return s
	case w > targetWidth:
		return truncateVisual(s, targetWidth)
	default:
		return s + strings.Repeat(" ", targetWidth-w)
	}
}

// truncateVisual truncates s to targetWidth visual chars, ending in "..."
func truncateVisual(s string, targetWidth int) string {
	if lipgloss.Width(s) <= targetWidth {
		return s
	}
	if targetWidth <= 3 {
		return strings.Repeat(".", targetWidth)
	}

	var b strings.Builder
	width := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if width+rw > targetWidth-3 {
			break
		}
		b.WriteRune(r)
		width += rw
	}
	for ; width < targetWidth-3; width++ {
		b.WriteByte(' ')
	}
	return b.String() + "..."
}

// dotLeader creates a dot-leader line: "  Label .............. Value"
func dotLeader(label, value string, totalWidth int) string {
	return dotLeaderStyled(label, value, lipgloss.NewStyle(), totalWidth)
}

// dotLeaderStyled is dotLeader with a styled value. Width is computed from
// the raw value.
func dotLeaderStyled(label, value string, style lipgloss.Style, totalWidth int) string {
	prefix := "  " + label + " "
	dots := max(totalWidth-lipgloss.Width(prefix)-lipgloss.Width(" "+value), 3)
	return prefix + strings.Repeat(".", dots) + " " + style.Render(value)
}

// formatDurationCompact formats a duration compactly (e.g., "2m30s", "1h5m").
func formatDurationCompact(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// formatTimeAgo formats t relative to now.
func formatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Format("Jan 2")
}

// formatTimeUntil formats a future time relative to now.
func formatTimeUntil(t, now time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "due"
	}
	return "in " + formatDurationCompact(d.Round(time.Second))
}
