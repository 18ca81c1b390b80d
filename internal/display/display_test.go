package display

import (
	"strings"
	"testing"

	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/project"
)

func plainPrinter(buf *strings.Builder) *Printer {
	return NewPrinter(buf, RenderConfig{Color: false, Preview: 240})
}

func TestProjectLineTagged(t *testing.T) {
	var buf strings.Builder
	pr := plainPrinter(&buf)
	p := project.New("/work/api", "api", &marker.Marker{Extra: map[string]any{}})

	pr.ProjectLine(p, "[agent] thinking")

	if got := buf.String(); got != "[api] [agent] thinking\n" {
		t.Errorf("output = %q", got)
	}
}

func TestTagFullPathAndRepoTag(t *testing.T) {
	var buf strings.Builder
	pr := NewPrinter(&buf, RenderConfig{Color: false, FullPath: true})
	p := project.New("/work/api", "api", &marker.Marker{Extra: map[string]any{}})
	p.RepoTag = "main"

	if got := pr.Tag(p); got != "[/work/api@main]" {
		t.Errorf("Tag() = %q", got)
	}
}

func TestStatusTruncatesSummaryByVisibleWidth(t *testing.T) {
	var buf strings.Builder
	pr := plainPrinter(&buf)
	mk := &marker.Marker{Extra: map[string]any{}}
	// Escape sequences must not count against the summary width.
	mk.Session.Summary = "\x1b[31m" + strings.Repeat("a", 70) + "\x1b[0m"
	p := project.New("/work/api", "api", mk)

	pr.Status(p)

	out := buf.String()
	if !strings.Contains(out, strings.Repeat("a", 57)+"...") {
		t.Errorf("summary should keep 57 visible characters before the ellipsis:\n%q", out)
	}
	if strings.Contains(out, strings.Repeat("a", 58)) {
		t.Errorf("summary exceeds the 60-column budget:\n%q", out)
	}
}

func TestHeldBanner(t *testing.T) {
	var buf strings.Builder
	pr := plainPrinter(&buf)
	p := project.New("/work/api", "api", &marker.Marker{Extra: map[string]any{}})

	pr.HeldBanner(p, []string{"first", "second"})

	out := buf.String()
	if !strings.Contains(out, "2 held line(s)") {
		t.Errorf("missing count banner: %q", out)
	}
	if strings.Index(out, "first") > strings.Index(out, "second") {
		t.Errorf("held lines out of order: %q", out)
	}
	// Banner precedes content.
	if strings.Index(out, "held line(s)") > strings.Index(out, "first") {
		t.Errorf("banner must precede held lines: %q", out)
	}
}

func TestHeldBannerEmptyIsSilent(t *testing.T) {
	var buf strings.Builder
	pr := plainPrinter(&buf)
	p := project.New("/work/api", "api", &marker.Marker{Extra: map[string]any{}})

	pr.HeldBanner(p, nil)
	if buf.Len() != 0 {
		t.Errorf("empty flush should print nothing, got %q", buf.String())
	}
}

func TestActivityViewInterleavesChronologically(t *testing.T) {
	var buf strings.Builder
	pr := plainPrinter(&buf)
	a := project.New("/work/a", "a", &marker.Marker{Extra: map[string]any{}})
	b := project.New("/work/b", "b", &marker.Marker{Extra: map[string]any{}})

	a.RecordActivity("from a")
	b.RecordActivity("from b")

	pr.ActivityView([]*project.Project{a, b}, 0)

	out := buf.String()
	if !strings.Contains(out, "[a] from a") || !strings.Contains(out, "[b] from b") {
		t.Errorf("activity view missing tagged entries: %q", out)
	}
	if strings.Index(out, "from a") > strings.Index(out, "from b") {
		t.Errorf("entries out of chronological order: %q", out)
	}
}
