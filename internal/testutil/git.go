package testutil

import (
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitAll initializes a git repository at the project root, if needed, and
// commits every file. It returns the commit hash.
func (p *Project) CommitAll(message string) string {
	p.t.Helper()
	repo, err := git.PlainOpen(p.root)
	if err != nil {
		if repo, err = git.PlainInit(p.root, false); err != nil {
			p.t.Fatalf("failed to initialize git repo: %v", err)
		}
	}
	w, err := repo.Worktree()
	if err != nil {
		p.t.Fatalf("failed to get worktree: %v", err)
	}
	if err := w.AddGlob("."); err != nil {
		p.t.Fatalf("failed to stage files: %v", err)
	}
	hash, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		p.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}
