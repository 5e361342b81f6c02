// Package experiment manages the history and metadata of a single
// experiment: one canonical git repository that only ever advances by
// pulling from the user's working copy, plus an index of snapshots taken
// against its commits.
//
// Directory layout:
//
//	<storage_root>/<experiment_name>/
//	  repo/                  canonical repository
//	  snapshots/
//	    <timestamp>-<uid>/
//	      snapshot.json
//	      <artifact files>
package experiment

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flammable-ml/flammable/common/stats"
	"github.com/flammable-ml/flammable/ident"
	"github.com/flammable-ml/flammable/repo"
	"github.com/flammable-ml/flammable/snapshot"
)

const (
	repoDirName      = "repo"
	snapshotsDirName = "snapshots"
	masterBranch     = "master"
)

// Experiment is a named, persistent unit combining one canonical repository
// and its snapshot index.
type Experiment struct {
	name  string
	path  string
	repo  *repo.Repository
	local *LocalView

	snapshots []*snapshot.Snapshot
	ids       map[string]bool
	alloc     *ident.Allocator
}

// Open loads an experiment from its directory, validating the layout and
// scanning the snapshot storage.
func Open(path string) (*Experiment, error) {
	repoPath := filepath.Join(path, repoDirName)
	if fi, err := os.Stat(repoPath); err != nil || !fi.IsDir() {
		return nil, &InvalidLayoutError{Path: path, Reason: "missing repo directory"}
	}
	snapsPath := filepath.Join(path, snapshotsDirName)
	if fi, err := os.Stat(snapsPath); err != nil || !fi.IsDir() {
		return nil, &InvalidLayoutError{Path: path, Reason: "missing snapshots directory"}
	}
	r, err := repo.NewRepository(repoPath)
	if err != nil {
		return nil, &InvalidLayoutError{Path: path, Reason: "repo directory is not an initialized repository"}
	}

	e := &Experiment{
		name:  filepath.Base(path),
		path:  path,
		repo:  r,
		ids:   map[string]bool{},
		alloc: ident.NewAllocator(),
	}
	if err := e.scanSnapshots(); err != nil {
		return nil, err
	}
	return e, nil
}

// Provision creates the on-disk skeleton for a new experiment (repository
// directory, snapshot storage, an initialized empty repository) and opens it.
func Provision(path string) (*Experiment, error) {
	if err := os.MkdirAll(filepath.Join(path, snapshotsDirName), 0755); err != nil {
		return nil, errors.Wrapf(err, "provisioning experiment at %s", path)
	}
	if _, err := repo.InitRepo(filepath.Join(path, repoDirName)); err != nil {
		return nil, errors.Wrapf(err, "initializing canonical repository at %s", path)
	}
	log.Infof("experiment: provisioned %s", path)
	return Open(path)
}

// scanSnapshots discovers snapshots by scanning the storage subdirectory.
// Directory names sort as <timestamp>-<uid>, so lexical order is creation
// order.
func (e *Experiment) scanSnapshots() error {
	snapsPath := filepath.Join(e.path, snapshotsDirName)
	entries, err := ioutil.ReadDir(snapsPath)
	if err != nil {
		return errors.Wrapf(err, "scanning snapshots of %s", e.name)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := snapshot.Load(filepath.Join(snapsPath, name))
		if err != nil {
			log.Warnf("experiment: skipping unreadable snapshot dir %s: %v", name, err)
			continue
		}
		e.snapshots = append(e.snapshots, s)
		e.ids[s.UID] = true
	}
	return nil
}

// Name is the experiment's name, unique within its registry.
func (e *Experiment) Name() string {
	return e.name
}

// Repo exposes the canonical repository.
func (e *Experiment) Repo() *repo.Repository {
	return e.repo
}

// Snapshots returns the snapshot index, oldest first.
func (e *Experiment) Snapshots() []*snapshot.Snapshot {
	return e.snapshots
}

// Snapshot looks a snapshot up by uid.
func (e *Experiment) Snapshot(uid string) (*snapshot.Snapshot, error) {
	for _, s := range e.snapshots {
		if s.UID == uid {
			return s, nil
		}
	}
	return nil, &UnknownSnapshotError{Experiment: e.name, UID: uid}
}

// LastSnapshot returns the most recently created snapshot.
func (e *Experiment) LastSnapshot() (*snapshot.Snapshot, error) {
	if len(e.snapshots) == 0 {
		return nil, &UnknownSnapshotError{Experiment: e.name, UID: "(last)"}
	}
	return e.snapshots[len(e.snapshots)-1], nil
}

// LinkLocal connects the experiment with the working copy containing the
// script at scriptPath, initializing a fresh repository there if needed.
// The canonical repository is always left with the working copy registered
// as its pull source.
func (e *Experiment) LinkLocal(scriptPath string) error {
	local, err := linkLocal(scriptPath, e.repo)
	if err != nil {
		return err
	}
	out, err := e.repo.Run("remote")
	if err != nil {
		return errors.Wrapf(err, "listing remotes of %s", e.name)
	}
	if strings.TrimSpace(out) == "" {
		if err := e.repo.AddRemote(localRemoteName, local.dir); err != nil {
			return errors.Wrapf(err, "registering %s as a pull source", local.dir)
		}
	}
	e.local = local
	return nil
}

// Local returns the linked working copy, or ErrNoLocalRepo.
func (e *Experiment) Local() (*LocalView, error) {
	if e.local == nil {
		return nil, ErrNoLocalRepo
	}
	return e.local, nil
}

// CheckChanges inspects the linked working copy for modified, deleted and
// non-excluded untracked files.
func (e *Experiment) CheckChanges() (*Changes, error) {
	if e.local == nil {
		return nil, ErrNoLocalRepo
	}
	return detectChanges(e.local.repo, e.local.excludes)
}

// Sync pulls master from the first configured remote (the working copy)
// into the canonical repository. The canonical side always initiates the
// transfer and never pushes, so a buggy or compromised local script cannot
// force-overwrite canonical history.
func (e *Experiment) Sync() error {
	defer stats.CurrentStatsReceiver.Scope("experiment").Latency("sync_ns").Time()()
	remote, err := e.repo.FirstRemote()
	if err != nil {
		return errors.Wrapf(err, "syncing %s", e.name)
	}
	if err := e.repo.Pull(remote, masterBranch); err != nil {
		return errors.Wrapf(err, "pulling %s from %s", masterBranch, remote)
	}
	return nil
}

// LatestCommit returns the sha of the most recent commit on the canonical
// branch head.
func (e *Experiment) LatestCommit() (string, error) {
	return e.repo.LatestCommitSHA()
}

// MakeSnapshot commits pending changes in the working copy (if any),
// synchronizes the canonical repository, and creates a snapshot of its
// latest commit.
func (e *Experiment) MakeSnapshot(message string) (*snapshot.Snapshot, error) {
	if e.local == nil {
		return nil, ErrNoLocalRepo
	}
	changes, err := e.CheckChanges()
	if err != nil {
		return nil, err
	}
	if changes.Changed() {
		changed, removed := changes.splitForCommit()
		committed, err := e.local.Commit(message, changed, removed)
		if err != nil {
			return nil, err
		}
		if committed {
			if err := e.Sync(); err != nil {
				return nil, err
			}
		}
	}
	return e.CreateSnapshot(message, e.local.callFile)
}

// CreateSnapshot mints a fresh uid and persists a snapshot referencing the
// canonical repository's latest commit. The snapshot directory is named
// <timestamp>-<uid>, with the timestamp taken from the commit's committer
// time.
func (e *Experiment) CreateSnapshot(message, filename string) (*snapshot.Snapshot, error) {
	sha, err := e.LatestCommit()
	if err != nil {
		return nil, errors.Wrapf(err, "no commit to snapshot in %s", e.name)
	}
	committerTime, err := e.repo.CommitterTime(sha)
	if err != nil {
		return nil, err
	}
	timestamp := snapshot.FormatTimestamp(committerTime)

	uid, err := e.alloc.Allocate(e.ids)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating snapshot id in %s", e.name)
	}

	dir := filepath.Join(e.path, snapshotsDirName, timestamp+"-"+uid)
	s, err := snapshot.Create(dir, uid, sha, timestamp, filename, message)
	if err != nil {
		return nil, err
	}
	e.snapshots = append(e.snapshots, s)
	e.ids[uid] = true
	stats.CurrentStatsReceiver.Scope("experiment").Counter("snapshots_created").Inc(1)
	log.Infof("experiment: created snapshot %s-%s in %s at commit %s", timestamp, uid, e.name, sha[:8])
	return s, nil
}
