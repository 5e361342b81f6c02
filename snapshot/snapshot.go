// Package snapshot persists the data and metadata of a single run of an
// experiment. Each Snapshot corresponds to a specific commit in the
// experiment's history and owns a private directory for run artifacts
// (model files, metrics) next to a single metadata document.
//
// There can be multiple live instances of one snapshot at a time, e.g. one
// still being trained while a separately launched process inspects it.
// There is no locking between them; the documented discipline is
// reload-before-write: a scoped view re-reads the metadata document when it
// opens and the parent re-serializes when the scope exits, so the race
// window is "last writer wins at scope-exit granularity" rather than
// "fails to persist".
package snapshot

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/flammable-ml/flammable/common/stats"
)

// MetadataFile is the name of the per-snapshot metadata document.
const MetadataFile = "snapshot.json"

// TimestampFormat renders committer times as they appear in snapshot
// directory names and metadata.
const TimestampFormat = "20060102-150405"

// FormatTimestamp renders t in the snapshot timestamp format, second
// precision, in t's own UTC offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

// Snapshot is the durable record of one run. The identity fields are set
// once at creation and never change; the data fields are owned exclusively
// by the snapshot and mutated only through scoped storage views.
type Snapshot struct {
	rootPath string
	null     bool

	// Immutable once created.
	UID       string
	CommitSHA string
	Timestamp string
	Filename  string
	Comment   string

	// Mutable, via views only.
	TrainData  map[string]interface{}
	ValData    map[string]interface{}
	TestData   map[string]interface{}
	CustomData map[string]interface{}
	ModelFiles []string
}

// document is the wire form of the metadata file. All keys are required
// once persisted.
type document struct {
	UID        string                 `json:"uid"`
	CommitSHA  string                 `json:"commit_sha"`
	Timestamp  string                 `json:"timestamp"`
	Filename   string                 `json:"filename"`
	Comment    string                 `json:"comment"`
	TrainData  map[string]interface{} `json:"train_data"`
	ValData    map[string]interface{} `json:"val_data"`
	TestData   map[string]interface{} `json:"test_data"`
	ModelFiles []string               `json:"model_files"`
	CustomData map[string]interface{} `json:"custom_data"`
}

func newSnapshot(rootPath string) *Snapshot {
	return &Snapshot{
		rootPath:   rootPath,
		TrainData:  map[string]interface{}{},
		ValData:    map[string]interface{}{},
		TestData:   map[string]interface{}{},
		CustomData: map[string]interface{}{},
		ModelFiles: []string{},
	}
}

// Create allocates the per-snapshot directory, sets the immutable identity
// fields, and performs the first serialize, making the snapshot durable.
func Create(rootPath, uid, commitSHA, timestamp, filename, comment string) (*Snapshot, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating snapshot dir %s", rootPath)
	}
	s := newSnapshot(rootPath)
	s.UID = uid
	s.CommitSHA = commitSHA
	s.Timestamp = timestamp
	s.Filename = filename
	s.Comment = comment
	if err := s.Serialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reconstructs a snapshot from the metadata document under rootPath.
func Load(rootPath string) (*Snapshot, error) {
	s := newSnapshot(rootPath)
	if err := s.Deserialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewNull returns the no-op variant for ad-hoc use outside any experiment
// context: the interface is identical but serialize and deserialize are
// inert, and Reset only clears in-memory state.
func NewNull() *Snapshot {
	s := newSnapshot("")
	s.null = true
	return s
}

// Path is the snapshot's private directory.
func (s *Snapshot) Path() string {
	return s.rootPath
}

// MakePath prepends the snapshot directory to filename. Useful to control
// the saving location of any assets produced by the model.
func (s *Snapshot) MakePath(filename string) string {
	return filepath.Join(s.rootPath, filename)
}

func (s *Snapshot) metadataPath() string {
	return filepath.Join(s.rootPath, MetadataFile)
}

// Serialize writes the metadata document. Every write path funnels through
// here; a failed serialize is an error, never partial success.
func (s *Snapshot) Serialize() error {
	if s.null {
		return nil
	}
	doc := document{
		UID:        s.UID,
		CommitSHA:  s.CommitSHA,
		Timestamp:  s.Timestamp,
		Filename:   s.Filename,
		Comment:    s.Comment,
		TrainData:  s.TrainData,
		ValData:    s.ValData,
		TestData:   s.TestData,
		ModelFiles: s.ModelFiles,
		CustomData: s.CustomData,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "serializing snapshot %s", s.UID)
	}
	if err := ioutil.WriteFile(s.metadataPath(), data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", s.metadataPath())
	}
	stats.CurrentStatsReceiver.Scope("snapshot").Counter("serializes").Inc(1)
	return nil
}

// Deserialize loads the metadata document, overwriting the current state.
func (s *Snapshot) Deserialize() error {
	if s.null {
		return nil
	}
	data, err := ioutil.ReadFile(s.metadataPath())
	if err != nil {
		return errors.Wrapf(err, "reading %s", s.metadataPath())
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrapf(err, "parsing %s", s.metadataPath())
	}
	s.UID = doc.UID
	s.CommitSHA = doc.CommitSHA
	s.Timestamp = doc.Timestamp
	s.Filename = doc.Filename
	s.Comment = doc.Comment
	s.TrainData = orEmpty(doc.TrainData)
	s.ValData = orEmpty(doc.ValData)
	s.TestData = orEmpty(doc.TestData)
	s.CustomData = orEmpty(doc.CustomData)
	if doc.ModelFiles == nil {
		doc.ModelFiles = []string{}
	}
	s.ModelFiles = doc.ModelFiles
	return nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// RegisterModelFile appends filename to the ordered artifact list and
// serializes immediately; registration is part of the artifact-writing
// operation itself, not deferred to a scope.
func (s *Snapshot) RegisterModelFile(filename string) error {
	if err := s.Deserialize(); err != nil {
		return err
	}
	s.ModelFiles = append(s.ModelFiles, filename)
	return s.Serialize()
}

// LastModelFile returns the full path of the most recently registered
// model file, or false if none have been registered.
func (s *Snapshot) LastModelFile() (string, bool) {
	if len(s.ModelFiles) == 0 {
		return "", false
	}
	return s.MakePath(s.ModelFiles[len(s.ModelFiles)-1]), true
}

// Reset clears every mutable field to its empty state, deletes all files
// physically present in the snapshot directory except the metadata
// document, and re-serializes. Immutable fields are untouched. Used to
// re-run a prior snapshot from a clean slate.
func (s *Snapshot) Reset() error {
	s.TrainData = map[string]interface{}{}
	s.ValData = map[string]interface{}{}
	s.TestData = map[string]interface{}{}
	s.CustomData = map[string]interface{}{}
	s.ModelFiles = []string{}
	if s.null {
		return nil
	}
	entries, err := ioutil.ReadDir(s.rootPath)
	if err != nil {
		return errors.Wrapf(err, "listing snapshot dir %s", s.rootPath)
	}
	for _, entry := range entries {
		if entry.Name() == MetadataFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.rootPath, entry.Name())); err != nil {
			return errors.Wrapf(err, "removing %s from snapshot %s", entry.Name(), s.UID)
		}
	}
	return s.Serialize()
}
