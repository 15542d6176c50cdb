package dashboard

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/scheduler"
)

// RenderStatus renders the session panel followed by one panel per poller.
// selected highlights a poller by index; pass -1 for none.
func RenderStatus(st scheduler.Status, now time.Time, selected int) string {
	var b strings.Builder
	b.WriteString(renderSession(st))
	for i, p := range st.Pollers {
		b.WriteString("\n")
		b.WriteString(renderPoller(p, now, i == selected))
	}
	return b.String()
}

func renderSession(st scheduler.Status) string {
	w := panelInnerWidth
	var c strings.Builder

	c.WriteString(dotLeader("Target", st.Target, w))
	c.WriteString("\n")
	c.WriteString(dotLeaderStyled("Prompt idle", yesNo(st.Readiness.Idle), boolStyle(st.Readiness.Idle), w))
	c.WriteString("\n")
	c.WriteString(dotLeaderStyled("Input pending", yesNo(st.Readiness.InputPending), boolStyle(!st.Readiness.InputPending), w))
	c.WriteString("\n")

	ready := "ready"
	style := okStyle
	if !st.Ready {
		ready = "busy"
		style = warningStyle
	}
	c.WriteString(dotLeaderStyled("Dispatch", ready, style, w))

	return renderPanel("SESSION", c.String())
}

func renderPoller(p scheduler.PollerStatus, now time.Time, selected bool) string {
	w := panelInnerWidth
	var c strings.Builder

	stateStyle := stoppedStyle
	if p.Enabled {
		stateStyle = runningStyle
	}
	state := p.State
	if p.Ticking {
		state += " (ticking)"
	}
	c.WriteString(dotLeaderStyled("State", state, stateStyle, w))
	c.WriteString("\n")

	switch {
	case p.Schedule != "":
		c.WriteString(dotLeader("Schedule", p.Schedule, w))
	case p.IntervalSeconds > 0:
		c.WriteString(dotLeader("Interval", formatDurationCompact(time.Duration(p.IntervalSeconds*float64(time.Second))), w))
	default:
		c.WriteString(dotLeader("Interval", "-", w))
	}
	c.WriteString("\n")

	next := "-"
	if p.NextRun != nil {
		next = formatTimeUntil(*p.NextRun, now)
	}
	c.WriteString(dotLeader("Next run", next, w))
	c.WriteString("\n")

	last := "never"
	if p.LastRun != nil {
		last = formatTimeAgo(*p.LastRun, now)
	}
	c.WriteString(dotLeader("Last run", last, w))

	if p.LastResult != nil {
		c.WriteString("\n")
		text, style := describeResult(*p.LastResult)
		c.WriteString(dotLeaderStyled("Last result", text, style, w))
		if p.LastResult.Error != "" {
			c.WriteString("\n")
			c.WriteString("    " + failedStyle.Render(truncateVisual(p.LastResult.Error, w-4)))
		}
	}

	c.WriteString("\n")
	c.WriteString(dotLeader("Ticks", fmt.Sprintf("%d  sent %d  errors %d",
		p.Counters.Ticks, p.Counters.Sent, sum(p.Counters.Errors)), w))
	if len(p.Counters.Skipped) > 0 {
		c.WriteString("\n")
		c.WriteString(dotLeader("Skipped", formatReasons(p.Counters.Skipped), w))
	}

	title := p.Name
	if selected {
		title = "> " + title
	}
	return renderPanel(title, c.String())
}

// describeResult summarizes a tick result in one line.
func describeResult(r dispatch.Result) (string, lipgloss.Style) {
	switch r.Outcome() {
	case dispatch.OutcomeSent:
		text := "sent"
		if r.Command != "" {
			text += " " + r.Command
		}
		if len(r.Issues) > 0 {
			text += fmt.Sprintf(" (%d issues)", len(r.Issues))
		}
		return text, okStyle
	case dispatch.OutcomeSkipped:
		text := "skipped: " + string(r.Reason)
		if r.BackoffSeconds > 0 {
			text += fmt.Sprintf(" (%ds)", r.BackoffSeconds)
		}
		return text, stoppedStyle
	default:
		text := "error: " + string(r.Reason)
		if r.BackoffSeconds > 0 {
			text += fmt.Sprintf(" (retry in %ds)", r.BackoffSeconds)
		}
		return text, failedStyle
	}
}

func formatReasons(m map[string]int64) string {
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s %d", k, m[k]))
	}
	return strings.Join(parts, "  ")
}

func sum(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func boolStyle(good bool) lipgloss.Style {
	if good {
		return okStyle
	}
	return warningStyle
}

// RenderState renders the dispatch ledger: backoff and processed issues.
func RenderState(sum scheduler.StateSummary, now time.Time) string {
	w := panelInnerWidth
	var c strings.Builder

	c.WriteString(dotLeader("Processed", fmt.Sprintf("%d", sum.ProcessedCount), w))
	c.WriteString("\n")

	backoff := "none"
	style := okStyle
	if sum.Backoff.Count > 0 {
		backoff = fmt.Sprintf("%d failures", sum.Backoff.Count)
		style = warningStyle
	}
	if sum.BackingOff && sum.Backoff.Until != nil {
		backoff += ", until " + formatTimeUntil(*sum.Backoff.Until, now)
		style = failedStyle
	}
	c.WriteString(dotLeaderStyled("Backoff", backoff, style, w))

	saved := "never"
	if sum.SavedAt != nil {
		saved = formatTimeAgo(*sum.SavedAt, now)
	}
	c.WriteString("\n")
	c.WriteString(dotLeader("Saved", saved, w))

	if len(sum.Processed) > 0 {
		c.WriteString("\n")
		for _, p := range sum.Processed {
			c.WriteString("\n")
			c.WriteString(dotLeader(p.Key, formatTimeAgo(p.ProcessedAt, now), w))
		}
	}

	return renderPanel("STATE", c.String())
}
