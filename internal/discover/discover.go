// Package discover walks the configured scan roots looking for project
// marker files. Each marker found becomes a project entity; locked and
// malformed markers are skipped with a diagnostic without affecting the
// rest of the scan.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/project"
)

// Result is the outcome of one scan pass.
type Result struct {
	// Projects holds the discovered entities in stable path order.
	Projects []*project.Project
	// Skipped carries one diagnostic per directory that held a marker but
	// could not participate (locked or malformed).
	Skipped []string
}

// Scan discovers projects under the configured roots. Directory names
// matching an ignore pattern are pruned from the walk, and recursion stops
// at the configured depth below each root.
func Scan(cfg config.ScanConfig, maxHistory int, log *logging.Logger) (*Result, error) {
	if log == nil {
		log = logging.NopLogger()
	}

	ignores, err := compileIgnores(cfg.Ignore)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := map[string]bool{}

	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			log.Warn("skipping unreadable scan root", "root", root, "error", err)
			continue
		}
		if err := scanRoot(abs, cfg.MaxDepth, ignores, maxHistory, seen, res, log); err != nil {
			log.Warn("scan root failed", "root", abs, "error", err)
		}
	}

	sort.Slice(res.Projects, func(i, j int) bool {
		return res.Projects[i].Dir < res.Projects[j].Dir
	})
	return res, nil
}

func scanRoot(root string, maxDepth int, ignores []glob.Glob, maxHistory int, seen map[string]bool, res *Result, log *logging.Logger) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug("walk error", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			if ignored(d.Name(), ignores) {
				return filepath.SkipDir
			}
			if depth(root, path) > maxDepth {
				return filepath.SkipDir
			}
		}

		markerPath := filepath.Join(path, marker.FileName)
		if _, statErr := os.Stat(markerPath); statErr != nil {
			return nil
		}
		if seen[path] {
			return filepath.SkipDir
		}
		seen[path] = true

		mk, loadErr := marker.Load(markerPath, maxHistory)
		switch {
		case errors.Is(loadErr, marker.ErrLocked):
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s: locked", path))
			log.Info("skipping locked project", "dir", path)
		case loadErr != nil:
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s: %v", path, loadErr))
			log.Warn("skipping malformed marker", "dir", path, "error", loadErr)
		default:
			p := project.New(path, filepath.Base(path), mk)
			p.RepoTag = repoTag(path)
			res.Projects = append(res.Projects, p)
			log.Debug("discovered project", "dir", path)
		}
		// A managed project's subdirectories are its own business.
		return filepath.SkipDir
	})
}

func compileIgnores(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func ignored(name string, ignores []glob.Glob) bool {
	for _, g := range ignores {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// depth counts directory levels below root.
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// repoTag derives a short disambiguation tag from the directory's git
// branch, empty when the directory is not a repository.
func repoTag(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" || branch == "HEAD" || branch == "main" || branch == "master" {
		return ""
	}
	return branch
}
