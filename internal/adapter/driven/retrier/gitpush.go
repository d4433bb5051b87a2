package retrier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gogit "github.com/go-git/go-git/v5"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Retrier = (*GitPushRetrier)(nil)

const (
	pushAttempts     = 3
	pushInitialDelay = 1 * time.Second
	pushMaxDelay     = 10 * time.Second

	defaultCommitterName  = "recheck"
	defaultCommitterEmail = "recheck@localhost"
)

// gitRunner abstracts git execution so tests can script it.
type gitRunner interface {
	// Run executes one git command. An empty dir runs outside any work
	// tree (needed for clone).
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
	// HeadRevision resolves HEAD in the work tree at dir.
	HeadRevision(dir string) (string, error)
}

// execGitRunner shells out to the git binary and reads HEAD back with go-git.
type execGitRunner struct{}

func (execGitRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (execGitRunner) HeadRevision(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("opening work tree %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD in %s: %w", dir, err)
	}

	return head.Hash().String(), nil
}

// GitPushRetrier re-triggers checks by amending the head commit and
// force-pushing it, which re-runs every check against a fresh revision.
// Amending changes the commit hash without changing the tree, so checks
// still cooling down simply re-run too; no per-check artifact can be left
// outstanding.
type GitPushRetrier struct {
	host    driven.HostClient
	repo    string
	git     config.GitConfig
	workDir string
	runner  gitRunner
}

// NewGitPushRetrier creates a GitPushRetrier for one repository. Clones are
// cached under git.WorkDir, defaulting to the user cache directory.
func NewGitPushRetrier(host driven.HostClient, repo string, git config.GitConfig) *GitPushRetrier {
	workDir := git.WorkDir
	if workDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		workDir = filepath.Join(base, "recheck", repo)
	}

	return &GitPushRetrier{
		host:    host,
		repo:    repo,
		git:     git,
		workDir: workDir,
		runner:  execGitRunner{},
	}
}

// Retry amends the pull request's head commit and force-pushes it, then
// records the pushed revision in pr.LastProcessedSHA so the next cycle does
// not mistake our own push for a new patch from the author. Transient git
// failures are retried with exponential backoff; a branch that moved since
// evaluation aborts instead.
func (r *GitPushRetrier) Retry(ctx context.Context, pr *model.PullRequest, _ *model.ChecksReport) error {
	if r.git.RemoteURL == "" {
		return fmt.Errorf("repository %s has no git remote_url configured", pr.Repo)
	}

	branch, err := r.host.HeadBranch(ctx, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("resolving head branch for %s: %w", pr.Slug(), err)
	}

	env, err := r.gitEnv()
	if err != nil {
		return err
	}

	if err := r.ensureClone(ctx, env); err != nil {
		return err
	}

	var pushed string
	err = retry.Do(
		func() error {
			revision, err := r.amendAndPush(ctx, env, branch, pr.LastProcessedSHA)
			if err != nil {
				return err
			}
			pushed = revision
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(pushAttempts),
		retry.Delay(pushInitialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(pushMaxDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("amend-push failed, retrying",
				"attempt", n+1,
				"pr", pr.Slug(),
				"branch", branch,
				"error", err,
			)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("amend-push for %s: %w", pr.Slug(), err)
	}

	pr.LastProcessedSHA = pushed

	return nil
}

// Cleanup is a no-op: a force-push leaves nothing behind to remove.
func (r *GitPushRetrier) Cleanup(context.Context, model.PullRequest) error {
	return nil
}

// amendAndPush is one push attempt: sync the branch, verify it still points
// at the evaluated revision, amend, and force-push. It returns the amended
// revision. Errors that retrying cannot fix are marked unrecoverable.
func (r *GitPushRetrier) amendAndPush(ctx context.Context, env []string, branch, evaluated string) (string, error) {
	if _, err := r.runner.Run(ctx, r.workDir, env, "fetch", "origin", branch); err != nil {
		return "", err
	}
	if _, err := r.runner.Run(ctx, r.workDir, env, "checkout", "-B", branch, "FETCH_HEAD"); err != nil {
		return "", err
	}

	head, err := r.runner.HeadRevision(r.workDir)
	if err != nil {
		return "", err
	}
	if evaluated != "" && head != evaluated {
		// The author pushed in the meantime; amending now would rewrite
		// work this cycle never evaluated.
		return "", retry.Unrecoverable(fmt.Errorf("branch %s moved: head %s is not the evaluated revision %s", branch, head, evaluated))
	}

	if _, err := r.runner.Run(ctx, r.workDir, env, "commit", "--amend", "--no-edit"); err != nil {
		return "", err
	}

	amended, err := r.runner.HeadRevision(r.workDir)
	if err != nil {
		return "", err
	}
	if !model.IsValidRevision(amended) {
		return "", retry.Unrecoverable(fmt.Errorf("amended revision %q is not a full 40-hex digest", amended))
	}
	if amended == head {
		return "", retry.Unrecoverable(fmt.Errorf("amending %s did not produce a new revision", branch))
	}

	if _, err := r.runner.Run(ctx, r.workDir, env, "push", "--force-with-lease", "origin", branch); err != nil {
		return "", err
	}

	return amended, nil
}

// ensureClone clones the push remote into the work directory on first use.
func (r *GitPushRetrier) ensureClone(ctx context.Context, env []string) error {
	if _, err := os.Stat(filepath.Join(r.workDir, ".git")); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.workDir), 0o700); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	if _, err := r.runner.Run(ctx, "", env, "clone", r.git.RemoteURL, r.workDir); err != nil {
		return fmt.Errorf("cloning %s: %w", r.git.RemoteURL, err)
	}

	return nil
}

// gitEnv builds the environment overrides for every git command: committer
// identity, no credential prompts, and the push key when one is configured.
func (r *GitPushRetrier) gitEnv() ([]string, error) {
	name := r.git.CommitterName
	if name == "" {
		name = defaultCommitterName
	}
	email := r.git.CommitterEmail
	if email == "" {
		email = defaultCommitterEmail
	}

	env := []string{
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
		"GIT_TERMINAL_PROMPT=0",
	}

	keyPath, err := r.ensureKey()
	if err != nil {
		return nil, err
	}
	if keyPath != "" {
		env = append(env, "GIT_SSH_COMMAND=ssh -i "+keyPath+" -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new")
	}

	return env, nil
}

// ensureKey resolves the ssh key for pushes. A configured key path wins;
// inline key material is written next to the work tree with 0600.
func (r *GitPushRetrier) ensureKey() (string, error) {
	if r.git.SSHKeyPath != "" {
		return r.git.SSHKeyPath, nil
	}
	if r.git.SSHKey == "" {
		return "", nil
	}

	keyPath := r.workDir + ".ssh-key"
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(r.git.SSHKey), 0o600); err != nil {
		return "", fmt.Errorf("writing ssh key: %w", err)
	}

	return keyPath, nil
}
