// Package checkpoint records git commits around agent turns so that a
// project can be rolled back after an unwanted change. All git interaction
// is opaque: failures are logged and otherwise swallowed, because a broken
// or absent git setup must never block the rotation.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/logging"
)

// commitTimeout bounds each individual git invocation.
const commitTimeout = 30 * time.Second

// Keeper creates git checkpoints for project directories according to the
// checkpoint configuration. The zero value is unusable; use New.
type Keeper struct {
	cfg config.CheckpointConfig
	log *logging.Logger
}

// New returns a Keeper configured from cfg. The logger receives diagnostics
// for every failed git operation.
func New(cfg config.CheckpointConfig, log *logging.Logger) *Keeper {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Keeper{cfg: cfg, log: log}
}

// PreTurn commits the current working tree before an agent turn starts.
// It is a no-op unless checkpointing and the pre-turn hook are both enabled.
func (k *Keeper) PreTurn(ctx context.Context, dir string) {
	if !k.cfg.Enabled || !k.cfg.PreTurn {
		return
	}
	k.checkpoint(ctx, dir, "rota: checkpoint before turn")
}

// PostTurn commits the working tree after an agent turn completes. The
// label, typically a short form of the turn result, is appended to the
// commit subject.
func (k *Keeper) PostTurn(ctx context.Context, dir, label string) {
	if !k.cfg.Enabled || !k.cfg.PostTurn {
		return
	}
	msg := "rota: checkpoint after turn"
	if label = strings.TrimSpace(label); label != "" {
		msg = fmt.Sprintf("%s: %s", msg, label)
	}
	k.checkpoint(ctx, dir, msg)
}

// checkpoint stages everything in dir and commits if anything changed.
func (k *Keeper) checkpoint(ctx context.Context, dir, message string) {
	log := k.log.WithProject(filepath.Base(dir))

	if !k.insideRepo(ctx, dir) {
		if !k.cfg.AutoInit {
			log.Debug("checkpoint skipped, no git repository", "dir", dir)
			return
		}
		if err := k.git(ctx, dir, "init", "--quiet"); err != nil {
			log.Warn("git init failed", "dir", dir, "error", err)
			return
		}
		log.Info("initialized git repository", "dir", dir)
	}

	if err := k.git(ctx, dir, "add", "-A"); err != nil {
		log.Warn("git add failed", "dir", dir, "error", err)
		return
	}
	if !k.hasStagedChanges(ctx, dir) {
		log.Debug("checkpoint skipped, working tree clean", "dir", dir)
		return
	}
	if err := k.git(ctx, dir, "commit", "--quiet", "--no-verify", "-m", message); err != nil {
		log.Warn("git commit failed", "dir", dir, "error", err)
		return
	}
	log.Debug("checkpoint committed", "dir", dir, "message", message)
}

// insideRepo reports whether dir is inside a git work tree.
func (k *Keeper) insideRepo(ctx context.Context, dir string) bool {
	err := k.git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// hasStagedChanges reports whether the index differs from HEAD. A repository
// without any commit yet counts as having changes when the index is
// non-empty.
func (k *Keeper) hasStagedChanges(ctx context.Context, dir string) bool {
	// diff --cached exits 1 when there are staged changes.
	err := k.git(ctx, dir, "diff", "--cached", "--quiet")
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true
	}
	// Unborn HEAD makes diff --cached fail outright; fall back to listing
	// the index directly.
	out, lsErr := k.gitOutput(ctx, dir, "ls-files", "--cached")
	return lsErr == nil && strings.TrimSpace(out) != ""
}

// git runs a git subcommand in dir, discarding output.
func (k *Keeper) git(ctx context.Context, dir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
	)
	return cmd.Run()
}

// gitOutput runs a git subcommand in dir and returns its stdout.
func (k *Keeper) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
	)
	out, err := cmd.Output()
	return string(out), err
}
