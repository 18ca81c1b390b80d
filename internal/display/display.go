// Package display renders terminal output for the interactive loop. All
// rendering decisions flow from an explicit RenderConfig value passed in by
// the caller; there is no ambient global color state, which keeps output
// testable without environment mutation.
package display

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/rotadev/rota/internal/project"
	"github.com/rotadev/rota/internal/util"
)

// RenderConfig is the immutable rendering configuration threaded through
// display functions.
type RenderConfig struct {
	// Color enables ANSI styling.
	Color bool
	// FullPath tags lines with the project directory instead of its name.
	FullPath bool
	// Preview is the character budget for progress-line previews.
	Preview int
}

// Detect builds a RenderConfig from the output destination: color is
// enabled only when stdout is a terminal.
func Detect(fullPath bool, preview int) RenderConfig {
	return RenderConfig{
		Color:    term.IsTerminal(int(os.Stdout.Fd())),
		FullPath: fullPath,
		Preview:  preview,
	}
}

// Project tags cycle through this palette so interleaved output from
// concurrent projects stays visually distinguishable.
var tagPalette = []lipgloss.Color{
	lipgloss.Color("39"),  // blue
	lipgloss.Color("42"),  // green
	lipgloss.Color("208"), // orange
	lipgloss.Color("135"), // purple
	lipgloss.Color("203"), // red
	lipgloss.Color("227"), // yellow
}

var (
	dimStyle    = lipgloss.NewStyle().Faint(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Printer serializes terminal writes from the control goroutine and the
// background completion goroutines.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	rc RenderConfig
}

// NewPrinter creates a Printer writing to w under rc.
func NewPrinter(w io.Writer, rc RenderConfig) *Printer {
	return &Printer{w: w, rc: rc}
}

// Config returns the printer's render configuration.
func (pr *Printer) Config() RenderConfig {
	return pr.rc
}

// Tag returns the display tag for a project, styled when color is enabled.
func (pr *Printer) Tag(p *project.Project) string {
	name := p.Name
	if pr.rc.FullPath {
		name = p.Dir
	}
	if p.RepoTag != "" {
		name += "@" + p.RepoTag
	}
	if !pr.rc.Color {
		return "[" + name + "]"
	}
	h := fnv.New32a()
	h.Write([]byte(p.Name))
	color := tagPalette[h.Sum32()%uint32(len(tagPalette))]
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render("[" + name + "]")
}

// ProjectLine prints one progress or activity line tagged by project.
func (pr *Printer) ProjectLine(p *project.Project, line string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	fmt.Fprintf(pr.w, "%s %s\n", pr.Tag(p), line)
}

// Notice prints an orchestrator-level notice for a project.
func (pr *Printer) Notice(p *project.Project, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if pr.rc.Color {
		msg = noticeStyle.Render(msg)
	}
	pr.ProjectLine(p, msg)
}

// Prompt prints the interactive prompt for the current project, without a
// trailing newline.
func (pr *Printer) Prompt(p *project.Project) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	fmt.Fprintf(pr.w, "%s > ", pr.Tag(p))
}

// Line prints one untagged line.
func (pr *Printer) Line(format string, args ...any) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	fmt.Fprintf(pr.w, format+"\n", args...)
}

// HeldBanner prints the count-prefix banner followed by the held lines, in
// their original order.
func (pr *Printer) HeldBanner(p *project.Project, lines []string) {
	if len(lines) == 0 {
		return
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	banner := fmt.Sprintf("--- %d held line(s) ---", len(lines))
	if pr.rc.Color {
		banner = dimStyle.Render(banner)
	}
	fmt.Fprintf(pr.w, "%s %s\n", pr.tagLocked(p), banner)
	for _, line := range lines {
		fmt.Fprintf(pr.w, "%s %s\n", pr.tagLocked(p), line)
	}
}

func (pr *Printer) tagLocked(p *project.Project) string {
	return pr.Tag(p)
}

// Status prints one project's status row.
func (pr *Printer) Status(p *project.Project) {
	sess := p.Marker().Session
	state := p.State().String()
	if pr.rc.Color {
		state = boldStyle.Render(state)
	}
	detail := fmt.Sprintf("%s turns=%d cost=$%.4f", state, sess.Turn, sess.TotalCost())
	if loop := p.LoopState(); loop != nil {
		detail += fmt.Sprintf(" loop=%d/%d", loop.Done, loop.Max)
	}
	if p.State() == project.StateSnoozed {
		detail += " wake=" + p.SnoozeUntil().Format(time.Kitchen)
	}
	if sess.Summary != "" {
		detail += " | " + util.TruncateANSI(sess.Summary, 60)
	}
	pr.ProjectLine(p, detail)
}

// ActivityView prints the merged activity logs of the given projects in
// chronological order, tagged per project.
func (pr *Printer) ActivityView(projects []*project.Project, limit int) {
	type entry struct {
		p *project.Project
		a project.Activity
	}
	var entries []entry
	for _, p := range projects {
		for _, a := range p.ActivitySnapshot() {
			entries = append(entries, entry{p: p, a: a})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].a.At.Before(entries[j].a.At)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	for _, e := range entries {
		stamp := e.a.At.Format("15:04:05")
		if pr.rc.Color {
			stamp = dimStyle.Render(stamp)
		}
		pr.mu.Lock()
		fmt.Fprintf(pr.w, "%s %s %s\n", stamp, pr.tagLocked(e.p), e.a.Line)
		pr.mu.Unlock()
	}
}
