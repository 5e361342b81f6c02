// Package repo wraps operations on a git repository.
// Flammable juggles several repos per experiment: the user's working copy
// and the canonical repo owned by the library, plus throwaway repos in tests.
package repo

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Repository represents a valid git repository rooted at a directory.
type Repository struct {
	dir string
}

// Dir is where r lives on disk.
func (r *Repository) Dir() string {
	return r.dir
}

// Run a git command in r.
func (r *Repository) Run(args ...string) (string, error) {
	return r.RunCmd(r.Command(args...))
}

// Command creates an exec.Cmd to run git in this repo.
func (r *Repository) Command(args ...string) *exec.Cmd {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	return cmd
}

// RunCmd runs cmd (that must have been created by Command), returning its output and error.
func (r *Repository) RunCmd(cmd *exec.Cmd) (string, error) {
	log.Debugf("repo: running git %v in %s", cmd.Args[1:], r.dir)
	data, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			log.Debugf("repo: git %v failed: %s", cmd.Args[1:], string(exitErr.Stderr))
		}
	}
	return string(data), err
}

// RunSha runs a git command that must return a sha.
func (r *Repository) RunSha(args ...string) (string, error) {
	out, err := r.Run(args...)
	if err != nil {
		return out, err
	}
	return validateSha(out)
}

// validateSha trims and validates sha as a git sha, returning the valid sha xor an error.
func validateSha(sha string) (string, error) {
	if len(sha) == 40 || len(sha) == 41 && sha[40] == '\n' {
		return sha[0:40], nil
	}
	return "", fmt.Errorf("sha not 40 or 41 (with a \\n) characters: %q", sha)
}

// LatestCommitSHA returns the sha of the most recent commit reachable from
// HEAD. Commits are logged most-recent-first, so the first one is
// authoritative.
func (r *Repository) LatestCommitSHA() (string, error) {
	return r.RunSha("log", "-1", "--format=%H")
}

// CommitterTime returns the committer timestamp of the given commit,
// expressed in the committer's own UTC offset.
func (r *Repository) CommitterTime(sha string) (time.Time, error) {
	out, err := r.Run("show", "-s", "--format=%cI", sha)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading committer time of %s", sha)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(out))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad committer time for %s", sha)
	}
	return t, nil
}

// StatusPorcelain returns the machine-readable working tree status as
// NUL-separated records, so paths with spaces or special bytes come
// through unquoted.
func (r *Repository) StatusPorcelain() (string, error) {
	return r.Run("status", "--porcelain", "-z")
}

// AddRemote registers url under name.
func (r *Repository) AddRemote(name, url string) error {
	_, err := r.Run("remote", "add", name, url)
	return err
}

// FirstRemote returns the first configured remote name, or an error if none exist.
func (r *Repository) FirstRemote() (string, error) {
	out, err := r.Run("remote")
	if err != nil {
		return "", err
	}
	remotes := strings.Fields(out)
	if len(remotes) == 0 {
		return "", fmt.Errorf("no remotes configured in %s", r.dir)
	}
	return remotes[0], nil
}

// Pull pulls branch from remote. A pull that loses the race for the index
// lock against another process is retried with backoff; any other failure
// propagates immediately.
func (r *Repository) Pull(remote, branch string) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
	return backoff.Retry(func() error {
		_, err := r.Run("pull", remote, branch)
		if err != nil && !isLockContention(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isLockContention(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	return ok && strings.Contains(string(exitErr.Stderr), "index.lock")
}

// IsNotARepo reports whether err from opening a repository means "not a
// repository yet", as opposed to some other backend failure.
func IsNotARepo(err error) bool {
	exitErr, ok := errors.Cause(err).(*exec.ExitError)
	return ok && strings.Contains(string(exitErr.Stderr), "not a git repository")
}

// NewRepository opens the git repository containing dir.
func NewRepository(dir string) (*Repository, error) {
	r := &Repository{dir}
	topLevel, err := r.Run("rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	r.dir = strings.Replace(topLevel, "\n", "", -1)
	log.Debugf("repo: opened %s (top level %s)", dir, r.dir)
	return r, nil
}

// InitRepo initializes a new git repo in the given directory.
func InitRepo(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	r, err := NewRepository(dir)
	if err != nil {
		return nil, err
	}
	// Synchronization always pulls master; pin the initial branch so newer
	// gits that default to another name still interoperate.
	if _, err := r.Run("symbolic-ref", "HEAD", "refs/heads/master"); err != nil {
		return nil, err
	}
	return r, nil
}
