// Package ui renders tracker data for the terminal.
//
// Output written to anything other than a terminal (pipes, files, tests) is
// plain ASCII with no escape sequences.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/milestep/milestep/internal/activity"
	"github.com/milestep/milestep/internal/aggregate"
	"github.com/milestep/milestep/internal/eventbus"
)

// BarWidth is the width of the longest chart bar.
const BarWidth = 40

var (
	sky   = lipgloss.Color("#74c7ec")
	green = lipgloss.Color("#a6e3a1")
	peach = lipgloss.Color("#fab387")
	muted = lipgloss.Color("#a6adc8")
)

// Renderer formats output for one destination.
type Renderer struct {
	title  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	muted  lipgloss.Style
	bar    lipgloss.Style
	accent lipgloss.Style
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New returns a renderer for w. Colors are only used when w is a terminal.
func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	if !IsTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		title:  r.NewStyle().Foreground(sky).Bold(true),
		label:  r.NewStyle().Foreground(muted),
		value:  r.NewStyle().Bold(true),
		muted:  r.NewStyle().Foreground(muted),
		bar:    r.NewStyle().Foreground(green),
		accent: r.NewStyle().Foreground(peach).Bold(true),
	}
}

// Records renders records as a table, in the order given.
func (r *Renderer) Records(records []activity.Record) string {
	if len(records) == 0 {
		return r.muted.Render("No activities logged yet.") + "\n"
	}

	// Ids are printed in full so they can be passed to edit and rm.
	width := len("ID")
	for _, rec := range records {
		width = max(width, len(rec.ID))
	}

	var b strings.Builder
	header := fmt.Sprintf("%-*s %-12s %8s %9s %9s %7s", width, "ID", "DATE", "MILES", "STEPS", "CALORIES", "WEIGHT")
	b.WriteString(r.label.Render(header))
	b.WriteString("\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "%s %s %s %9s %9s %7s\n",
			r.muted.Render(fmt.Sprintf("%-*s", width, rec.ID)),
			r.value.Render(fmt.Sprintf("%-12s", Day(rec.Date))),
			r.accent.Render(fmt.Sprintf("%8s", Miles(rec.Miles))),
			Steps(rec.Steps),
			Calories(rec.Calories),
			Weight(rec.Weight),
		)
	}
	return b.String()
}

// Summary renders one period's totals under its range label, with the
// period's daily average. A period with nothing logged shows a notice in
// place of zero totals.
func (r *Renderer) Summary(label string, s aggregate.Summary, avg float64) string {
	var b strings.Builder
	b.WriteString(r.title.Render(label))
	b.WriteString("\n")
	if !s.Active() {
		fmt.Fprintf(&b, "  %s\n", r.muted.Render("No activity logged for this period."))
		r.line(&b, "Weight", Weight(s.LatestWeight))
		return b.String()
	}
	r.line(&b, "Miles", Miles(s.TotalMiles))
	r.line(&b, "Steps", Steps(s.TotalSteps))
	r.line(&b, "Calories", Calories(s.TotalCalories))
	r.line(&b, "Weight", Weight(s.LatestWeight))
	r.line(&b, "Daily average", Miles(avg)+" mi")
	return b.String()
}

func (r *Renderer) line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", r.label.Render(fmt.Sprintf("%-14s", label)), r.value.Render(value))
}

// Chart renders one horizontal bar per bucket, scaled to the largest
// distance, with the weight logged in that bucket and the average line value.
func (r *Renderer) Chart(label string, buckets []aggregate.Bucket, avg float64) string {
	var peak float64
	for _, bk := range buckets {
		if bk.Miles > peak {
			peak = bk.Miles
		}
	}

	var b strings.Builder
	b.WriteString(r.title.Render(label))
	b.WriteString("\n")
	for _, bk := range buckets {
		width := 0
		if peak > 0 {
			width = int(bk.Miles / peak * BarWidth)
			if width == 0 && bk.Miles > 0 {
				width = 1
			}
		}
		bar := strings.Repeat("█", width) + strings.Repeat(" ", BarWidth-width)
		fmt.Fprintf(&b, "%s %s %s %s\n",
			r.label.Render(fmt.Sprintf("%4s", bk.Label)),
			r.bar.Render(bar),
			r.value.Render(fmt.Sprintf("%7s", Miles(bk.Miles))),
			r.muted.Render(fmt.Sprintf("%5s", Weight(bk.Weight))),
		)
	}
	fmt.Fprintf(&b, "%s %s\n", r.label.Render("Average:"), r.accent.Render(Miles(avg)+" mi/day"))
	return b.String()
}

// Settings renders the current settings and sync status.
func (r *Renderer) Settings(s activity.Settings, code, state string) string {
	var b strings.Builder
	r.line(&b, "Steps per mile", Steps(s.StepsPerUnit))
	r.line(&b, "Sync code", code)
	r.line(&b, "Sync", state)
	return b.String()
}

// Event renders a notification as one line.
func (r *Renderer) Event(e eventbus.Event) string {
	switch e.Type {
	case eventbus.ActivitiesChanged:
		return fmt.Sprintf("%s activities changed (%s, %d records)", r.accent.Render("●"), e.Origin, e.Count)
	case eventbus.SettingsChanged:
		return fmt.Sprintf("%s settings changed (%s steps per mile)", r.accent.Render("●"), Steps(e.StepsPerUnit))
	case eventbus.SyncAttached:
		return fmt.Sprintf("%s attached to %s", r.accent.Render("●"), e.Code)
	case eventbus.InboxImported:
		return fmt.Sprintf("%s imported %s (%d records)", r.accent.Render("●"), e.File, e.Count)
	default:
		return fmt.Sprintf("%s %s", r.muted.Render("●"), e.Type)
	}
}
