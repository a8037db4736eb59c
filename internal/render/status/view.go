package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/botmaestro/internal/profile"
	"github.com/bnema/botmaestro/maestro/datapool"
)

type RenderOptions struct {
	Now        time.Time
	StaleAfter time.Duration
}

// Report is what the status view draws: the saved session plus any pool
// counters the caller fetched.
type Report struct {
	Session profile.Session
	Pools   []PoolStatus
}

type PoolStatus struct {
	Label   string
	Active  bool
	Summary datapool.Summary
}

func renderView(report Report, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Portal Session"),
	}

	if report.Session.Server == "" {
		lines = append(lines, s.empty.Render("Not logged in. Run 'bm login' first."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, s.header.Render("server: "+report.Session.Server))
	if report.Session.Organization != "" {
		lines = append(lines, s.detail.Render("organization: "+report.Session.Organization))
	}
	if report.Session.Version != "" {
		lines = append(lines, s.detail.Render("portal version: "+report.Session.Version))
	}
	if report.Session.TaskID != "" {
		lines = append(lines, s.detail.Render("task: "+report.Session.TaskID))
	}
	lines = append(lines, sessionAgeLine(report.Session.SavedAt, opts, s))

	for _, pool := range report.Pools {
		lines = append(lines, s.section.Render(renderPool(pool, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionAgeLine(savedAt time.Time, opts RenderOptions, s styles) string {
	line := s.meta.Render("signed in " + formatAge(savedAt, opts.Now))
	if isStale(savedAt, opts) {
		line += " " + s.warning.Render("[stale]")
	}
	return line
}

func isStale(savedAt time.Time, opts RenderOptions) bool {
	if savedAt.IsZero() || opts.Now.IsZero() || opts.StaleAfter <= 0 {
		return false
	}
	return opts.Now.Sub(savedAt) > opts.StaleAfter
}

func renderPool(pool PoolStatus, s styles) string {
	title := s.pool.Render(pool.Label)
	if pool.Active {
		title += " " + s.meta.Render("(active)")
	} else {
		title += " " + s.warning.Render("(inactive)")
	}

	counts := pool.Summary
	countsLine := s.countKey.Render(fmt.Sprintf(
		"pending: %d  processing: %d  done: %d  error: %d  timeout: %d",
		counts.CountPending, counts.CountProcessing, counts.CountDone,
		counts.CountError, counts.CountTimeout,
	))

	done := donePercent(counts)
	bar := renderProgressBar(done, 24, s)
	percentStyle := lipgloss.NewStyle().Foreground(interpolateColor(done, 0, 100))
	progressLine := lipgloss.JoinHorizontal(
		lipgloss.Top,
		bar,
		" ",
		percentStyle.Render(fmt.Sprintf("%2.0f%% done", done)),
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, countsLine, progressLine)
}

func donePercent(s datapool.Summary) float64 {
	total := s.CountPending + s.CountProcessing + s.CountDone + s.CountError + s.CountTimeout
	if total == 0 {
		return 0
	}
	return clampPercent(float64(s.CountDone) / float64(total) * 100)
}

func renderProgressBar(donePercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	done := clampPercent(donePercent)
	filled := int(math.Round(float64(width) * done / 100))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatAge(savedAt, now time.Time) string {
	if savedAt.IsZero() {
		return "at an unknown time"
	}
	if now.IsZero() {
		return "at " + savedAt.Format(time.RFC3339)
	}

	elapsed := now.Sub(savedAt)
	if elapsed < time.Minute {
		return "just now"
	}
	if elapsed < time.Hour {
		minutes := int(elapsed.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	}
	if elapsed < 24*time.Hour {
		hours := int(elapsed.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}

	days := int(elapsed.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

// interpolateColor maps value onto the ANSI greyscale ramp, faded at min and
// bright white at max.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	baseColor := 240.0
	targetColor := 255.0
	interpolated := baseColor + (targetColor-baseColor)*normalized

	return lipgloss.Color(fmt.Sprintf("%d", int(interpolated)))
}
