package experiment

import (
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flammable-ml/flammable/repo"
)

// localRemoteName is the name under which a local working copy is
// registered as a pull source on the canonical repository.
const localRemoteName = "local"

// LocalView owns the user's working-copy repository and its connection to
// the canonical one. It is constructed by Experiment.LinkLocal from the
// path of the script the user ran.
type LocalView struct {
	repo     *repo.Repository
	dir      string
	callFile string
	excludes []string
}

// CallFile is the basename of the script this working copy was linked from.
func (l *LocalView) CallFile() string {
	return l.callFile
}

// Repo exposes the underlying working-copy repository.
func (l *LocalView) Repo() *repo.Repository {
	return l.repo
}

// openOrInit opens the working-copy repository at dir. If dir is not a
// repository yet, it initializes a fresh one and registers it as a pull
// source on the canonical repo. Any other backend failure propagates.
func openOrInit(dir string, canonical *repo.Repository) (*repo.Repository, error) {
	r, err := repo.NewRepository(dir)
	if err == nil {
		return r, nil
	}
	if !repo.IsNotARepo(err) {
		return nil, errors.Wrapf(err, "opening local repository %s", dir)
	}

	log.Infof("experiment: initializing new local repository in %s", dir)
	r, err = repo.InitRepo(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing local repository %s", dir)
	}
	if err := canonical.AddRemote(localRemoteName, dir); err != nil {
		return nil, errors.Wrapf(err, "registering %s as a pull source", dir)
	}
	return r, nil
}

// Commit stages the given paths (adds changed, removes deleted) and creates
// a commit only if the combined set is non-empty. Calling Commit with no
// changes is a no-op, not an error. Returns whether a commit was made.
func (l *LocalView) Commit(message string, changed, removed []string) (bool, error) {
	if len(changed)+len(removed) == 0 {
		return false, nil
	}
	if len(changed) > 0 {
		args := append([]string{"add", "--"}, changed...)
		if _, err := l.repo.Run(args...); err != nil {
			return false, errors.Wrapf(err, "staging changes in %s", l.dir)
		}
	}
	if len(removed) > 0 {
		args := append([]string{"rm", "-r", "--cached", "--ignore-unmatch", "--"}, removed...)
		if _, err := l.repo.Run(args...); err != nil {
			return false, errors.Wrapf(err, "staging removals in %s", l.dir)
		}
	}
	if _, err := l.repo.Run("commit", "-m", message); err != nil {
		return false, errors.Wrapf(err, "committing in %s", l.dir)
	}
	log.Infof("experiment: committed %d changed and %d removed paths in %s", len(changed), len(removed), l.dir)
	return true, nil
}

// linkLocal builds a LocalView for the script at scriptPath.
func linkLocal(scriptPath string, canonical *repo.Repository) (*LocalView, error) {
	dir, callFile := filepath.Split(scriptPath)
	dir = filepath.Clean(dir)
	r, err := openOrInit(dir, canonical)
	if err != nil {
		return nil, err
	}
	return &LocalView{
		repo:     r,
		dir:      dir,
		callFile: callFile,
		excludes: DefaultExcludes,
	}, nil
}
