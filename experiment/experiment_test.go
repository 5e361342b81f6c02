package experiment

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

type fixture struct {
	tmp      string
	expDir   string
	localDir string
	script   string
	exp      *Experiment
}

func (f *fixture) close() {
	os.RemoveAll(f.tmp)
}

// setup provisions a fresh experiment and links it to a local working copy
// holding a single script file.
func setup(t *testing.T) *fixture {
	t.Helper()
	tmp, err := ioutil.TempDir("", "experiment_test")
	if err != nil {
		t.Fatal(err)
	}

	expDir := filepath.Join(tmp, "sandbox")
	exp, err := Provision(expDir)
	if err != nil {
		os.RemoveAll(tmp)
		t.Fatal(err)
	}

	localDir := filepath.Join(tmp, "work", "sandbox")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		os.RemoveAll(tmp)
		t.Fatal(err)
	}
	script := filepath.Join(localDir, "test.go")
	if err := ioutil.WriteFile(script, []byte("package main\n"), 0666); err != nil {
		os.RemoveAll(tmp)
		t.Fatal(err)
	}

	if err := exp.LinkLocal(script); err != nil {
		os.RemoveAll(tmp)
		t.Fatal(err)
	}

	local, err := exp.Local()
	if err != nil {
		os.RemoveAll(tmp)
		t.Fatal(err)
	}
	for _, cfg := range [][]string{
		{"config", "user.name", "Flammable Test"},
		{"config", "user.email", "test@flammable-ml.github.io"},
	} {
		if _, err := local.Repo().Run(cfg...); err != nil {
			os.RemoveAll(tmp)
			t.Fatal(err)
		}
	}

	return &fixture{tmp: tmp, expDir: expDir, localDir: localDir, script: script, exp: exp}
}

func writeLocalFile(t *testing.T, f *fixture, name, contents string) {
	t.Helper()
	if err := ioutil.WriteFile(filepath.Join(f.localDir, name), []byte(contents), 0666); err != nil {
		t.Fatal(err)
	}
}

func TestOpenInvalidLayout(t *testing.T) {
	tmp, err := ioutil.TempDir("", "experiment_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	_, err = Open(tmp)
	if err == nil {
		t.Fatal("expected error opening an empty directory")
	}
	if !IsInvalidLayout(err) {
		t.Fatalf("expected InvalidLayoutError, got: %v", err)
	}
}

func TestProvisionSkeleton(t *testing.T) {
	f := setup(t)
	defer f.close()

	for _, sub := range []string{"repo", "snapshots"} {
		fi, err := os.Stat(filepath.Join(f.expDir, sub))
		if err != nil || !fi.IsDir() {
			t.Fatalf("missing %s directory after provision", sub)
		}
	}
	if _, err := Open(f.expDir); err != nil {
		t.Fatalf("provisioned experiment does not reopen: %v", err)
	}
}

func TestCheckChanges(t *testing.T) {
	f := setup(t)
	defer f.close()

	changes, err := f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if !changes.Changed() || len(changes.Untracked) != 1 {
		t.Fatalf("expected exactly the script as untracked, got %+v", changes)
	}

	// Commit it; the working tree is clean afterwards.
	if _, err := f.exp.MakeSnapshot("initial"); err != nil {
		t.Fatal(err)
	}
	changes, err = f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changes.Changed() {
		t.Fatalf("expected clean tree after snapshot, got %+v", changes)
	}

	// Modify the tracked file and add an excluded path.
	writeLocalFile(t, f, "test.go", "package main // changed\n")
	if err := os.MkdirAll(filepath.Join(f.localDir, ".flammable"), 0755); err != nil {
		t.Fatal(err)
	}
	writeLocalFile(t, f, ".flammable/cache", "x")

	changes, err = f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Modified) != 1 || changes.Modified[0] != "test.go" {
		t.Fatalf("expected test.go modified, got %+v", changes)
	}
	if len(changes.Untracked) != 0 {
		t.Fatalf("excluded path reported as untracked: %+v", changes)
	}
}

func TestDeletedTrackedFile(t *testing.T) {
	f := setup(t)
	defer f.close()

	writeLocalFile(t, f, "doomed.txt", "here today")
	if _, err := f.exp.MakeSnapshot("with doomed"); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(f.localDir, "doomed.txt")); err != nil {
		t.Fatal(err)
	}
	changes, err := f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Modified) != 1 || changes.Modified[0] != "doomed.txt" {
		t.Fatalf("deleted file not reported: %+v", changes)
	}

	// And committing the deletion works.
	if _, err := f.exp.MakeSnapshot("dropped doomed"); err != nil {
		t.Fatal(err)
	}
	changes, err = f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changes.Changed() {
		t.Fatalf("tree not clean after committing a deletion: %+v", changes)
	}
}

func TestRenamedTrackedFile(t *testing.T) {
	f := setup(t)
	defer f.close()

	if _, err := f.exp.MakeSnapshot("initial"); err != nil {
		t.Fatal(err)
	}

	local, err := f.exp.Local()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := local.Repo().Run("mv", "test.go", "renamed.go"); err != nil {
		t.Fatal(err)
	}

	// Both sides of the rename are reported as changed.
	changes, err := f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, p := range changes.Modified {
		seen[p] = true
	}
	if len(changes.Modified) != 2 || !seen["test.go"] || !seen["renamed.go"] {
		t.Fatalf("rename not reported as both paths changed: %+v", changes)
	}

	// And committing it drops the old path and keeps the new one.
	if _, err := f.exp.MakeSnapshot("renamed"); err != nil {
		t.Fatal(err)
	}
	changes, err = f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changes.Changed() {
		t.Fatalf("tree not clean after committing a rename: %+v", changes)
	}
	out, err := local.Repo().Run("ls-files")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "test.go") || !strings.Contains(out, "renamed.go") {
		t.Fatalf("index after rename commit: %q", out)
	}
}

func TestUntrackedPathWithSpaces(t *testing.T) {
	f := setup(t)
	defer f.close()

	if _, err := f.exp.MakeSnapshot("initial"); err != nil {
		t.Fatal(err)
	}
	writeLocalFile(t, f, "with space.txt", "x")

	changes, err := f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Untracked) != 1 || changes.Untracked[0] != "with space.txt" {
		t.Fatalf("spaced path not reported verbatim: %+v", changes)
	}

	if _, err := f.exp.MakeSnapshot("spaced"); err != nil {
		t.Fatal(err)
	}
	changes, err = f.exp.CheckChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changes.Changed() {
		t.Fatalf("tree not clean after committing a spaced path: %+v", changes)
	}
}

func TestCommitNoChangesIsNoOp(t *testing.T) {
	f := setup(t)
	defer f.close()

	local, err := f.exp.Local()
	if err != nil {
		t.Fatal(err)
	}
	committed, err := local.Commit("nothing", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if committed {
		t.Fatal("empty commit reported as made")
	}
}

func TestMakeSnapshot(t *testing.T) {
	f := setup(t)
	defer f.close()

	s, err := f.exp.MakeSnapshot("initial")
	if err != nil {
		t.Fatal(err)
	}
	if s.Comment != "initial" || s.Filename != "test.go" {
		t.Fatalf("snapshot fields wrong: %+v", s)
	}

	dirName := filepath.Base(s.Path())
	if !regexp.MustCompile(`^\d{8}-\d{6}-[a-z]{5}$`).MatchString(dirName) {
		t.Fatalf("snapshot dir %q does not match <timestamp>-<uid>", dirName)
	}

	// The canonical repo pulled the commit: identical head shas.
	local, err := f.exp.Local()
	if err != nil {
		t.Fatal(err)
	}
	localSha, err := local.Repo().LatestCommitSHA()
	if err != nil {
		t.Fatal(err)
	}
	globalSha, err := f.exp.LatestCommit()
	if err != nil {
		t.Fatal(err)
	}
	if localSha != globalSha {
		t.Fatalf("sync left repos desynchronized: local %s global %s", localSha, globalSha)
	}
	if s.CommitSHA != globalSha {
		t.Fatalf("snapshot references %s, head is %s", s.CommitSHA, globalSha)
	}
}

func TestMakeSnapshotAfterChange(t *testing.T) {
	f := setup(t)
	defer f.close()

	first, err := f.exp.MakeSnapshot("initial")
	if err != nil {
		t.Fatal(err)
	}

	writeLocalFile(t, f, "test.go", "package main // v2\n")
	second, err := f.exp.MakeSnapshot("second")
	if err != nil {
		t.Fatal(err)
	}

	if first.CommitSHA == second.CommitSHA {
		t.Fatal("second snapshot did not get a new commit")
	}
	if len(f.exp.Snapshots()) != 2 {
		t.Fatalf("snapshot count %d, want 2", len(f.exp.Snapshots()))
	}
	last, err := f.exp.LastSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if last.UID != second.UID {
		t.Fatal("last snapshot is not the newest one")
	}
}

func TestSnapshotLookup(t *testing.T) {
	f := setup(t)
	defer f.close()

	s, err := f.exp.MakeSnapshot("initial")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.exp.Snapshot(s.UID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UID != s.UID {
		t.Fatal("lookup returned a different snapshot")
	}

	_, err = f.exp.Snapshot("zzzzz")
	if !IsUnknownSnapshot(err) {
		t.Fatalf("expected UnknownSnapshotError, got: %v", err)
	}
}

func TestReopenedExperimentSeesSnapshots(t *testing.T) {
	f := setup(t)
	defer f.close()

	s, err := f.exp.MakeSnapshot("initial")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(f.expDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.Snapshots()) != 1 {
		t.Fatalf("reopened experiment has %d snapshots, want 1", len(reopened.Snapshots()))
	}
	if reopened.Snapshots()[0].UID != s.UID {
		t.Fatal("reopened snapshot uid differs")
	}
}

func TestNoLocalRepo(t *testing.T) {
	tmp, err := ioutil.TempDir("", "experiment_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	exp, err := Provision(filepath.Join(tmp, "lonely"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exp.CheckChanges(); err != ErrNoLocalRepo {
		t.Fatalf("expected ErrNoLocalRepo, got: %v", err)
	}
	if _, err := exp.MakeSnapshot("x"); err != ErrNoLocalRepo {
		t.Fatalf("expected ErrNoLocalRepo, got: %v", err)
	}
}
