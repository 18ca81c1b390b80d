package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/testutil"
)

func TestPostTurnCommitsChanges(t *testing.T) {
	testutil.SkipIfNoGit(t)

	dir := testutil.SetupTestRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	k := New(config.CheckpointConfig{Enabled: true, PostTurn: true}, logging.NopLogger())
	k.PostTurn(context.Background(), dir, "added a file")

	subject := testutil.LastCommitSubject(t, dir)
	want := "rota: checkpoint after turn: added a file"
	if subject != want {
		t.Errorf("commit subject = %q, want %q", subject, want)
	}
	if testutil.HasUncommittedChanges(t, dir) {
		t.Error("expected a clean tree after the checkpoint")
	}
}

func TestCheckpointSkipsCleanTree(t *testing.T) {
	testutil.SkipIfNoGit(t)

	dir := testutil.SetupTestRepo(t)

	k := New(config.CheckpointConfig{Enabled: true, PreTurn: true, PostTurn: true}, logging.NopLogger())
	k.PreTurn(context.Background(), dir)
	k.PostTurn(context.Background(), dir, "")

	subject := testutil.LastCommitSubject(t, dir)
	if subject != "Initial commit" {
		t.Errorf("clean tree gained a commit: %q", subject)
	}
}

func TestCheckpointDisabled(t *testing.T) {
	testutil.SkipIfNoGit(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	k := New(config.CheckpointConfig{Enabled: false, PreTurn: true, PostTurn: true}, logging.NopLogger())
	k.PreTurn(context.Background(), dir)
	k.PostTurn(context.Background(), dir, "x")

	if _, err := os.Stat(filepath.Join(dir, ".git")); !os.IsNotExist(err) {
		t.Error("disabled keeper touched the directory")
	}
}

func TestAutoInitCreatesRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)

	dir := t.TempDir()
	// Identity must exist for the commit made right after init.
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	k := New(config.CheckpointConfig{Enabled: true, PreTurn: true, AutoInit: true}, logging.NopLogger())
	k.PreTurn(context.Background(), dir)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("expected repository to be initialized: %v", err)
	}
	if testutil.HasUncommittedChanges(t, dir) {
		t.Error("expected auto-init to commit the dirty tree")
	}
	subject := testutil.LastCommitSubject(t, dir)
	if subject != "rota: checkpoint before turn" {
		t.Errorf("commit subject = %q, want %q", subject, "rota: checkpoint before turn")
	}
}
