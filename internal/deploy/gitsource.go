package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Source maintains the template application checkout inside a deployment
// unit. Implementations must bound every operation; a hung fetch against
// an unreachable remote must not stall provisioning.
type Source interface {
	// Clone creates a fresh checkout of the template in dir.
	Clone(ctx context.Context, dir string) error

	// Sync updates an existing checkout in dir to the latest template
	// revision, discarding local modifications to tracked files. Paths
	// listed in keep (relative to dir) are left untouched even when
	// untracked, which is how per-customer data dirs survive a sync.
	Sync(ctx context.Context, dir string, keep []string) error
}

// GitSource implements Source by shelling out to the git CLI.
type GitSource struct {
	RepoURL string
	Branch  string
	Timeout time.Duration
}

func NewGitSource(repoURL, branch string, timeout time.Duration) *GitSource {
	return &GitSource{RepoURL: repoURL, Branch: branch, Timeout: timeout}
}

func (g *GitSource) Clone(ctx context.Context, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	return g.run(ctx, "", "clone", "--depth", "1", "--branch", g.Branch, g.RepoURL, dir)
}

func (g *GitSource) Sync(ctx context.Context, dir string, keep []string) error {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	if err := g.run(ctx, dir, "fetch", "--depth", "1", "origin", g.Branch); err != nil {
		return err
	}
	if err := g.run(ctx, dir, "reset", "--hard", "origin/"+g.Branch); err != nil {
		return err
	}

	// Remove untracked files left behind by the previous revision, but
	// never the customer's data paths.
	args := []string{"clean", "-fd"}
	for _, path := range keep {
		args = append(args, "-e", path)
	}
	return g.run(ctx, dir, args...)
}

func (g *GitSource) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("git %s timed out after %s: %w", args[0], g.Timeout, ctxErr)
		}
		return fmt.Errorf("git %s: %s: %w", args[0], lastOutputLine(out), err)
	}
	return nil
}

// lastOutputLine extracts the most informative line of git output for error
// messages; git prints its actual failure reason last.
func lastOutputLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(last) > 200 {
		last = last[:200]
	}
	return last
}
