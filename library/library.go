// Package library maintains the registry of experiments under one storage
// root. The registry is constructed explicitly and passed to whatever needs
// it; there is no import-time global. At most one live registry per process
// is allowed, so two independently scanned views of the same storage root
// cannot drift apart.
package library

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flammable-ml/flammable/common/stats"
	"github.com/flammable-ml/flammable/experiment"
)

// ErrAlreadyOpen means a second registry was constructed while another is
// still live. Close the first one instead of shadowing it.
var ErrAlreadyOpen = errors.New("a library is already open in this process")

var (
	liveMu sync.Mutex
	live   *Library
)

// Library maps experiment names to their canonical repositories and
// snapshot indexes, lazily discovering experiments from the storage root.
type Library struct {
	storagePath string
	experiments map[string]*experiment.Experiment
}

// Open scans storagePath for experiment directories. Candidates with an
// invalid layout are skipped, not fatal. The returned Library must be
// Closed before another can be opened.
func Open(storagePath string) (*Library, error) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if live != nil {
		return nil, ErrAlreadyOpen
	}

	lib := &Library{
		storagePath: storagePath,
		experiments: map[string]*experiment.Experiment{},
	}
	if err := lib.scan(); err != nil {
		return nil, err
	}
	live = lib
	stats.CurrentStatsReceiver.Scope("library").Gauge("experiments").Update(int64(len(lib.experiments)))
	return lib, nil
}

// Close releases the process-wide registry slot if this instance holds it.
// Closing a stale instance is a no-op, so it cannot release a slot a newer
// Library owns. The Library must not be used afterwards.
func (l *Library) Close() {
	liveMu.Lock()
	defer liveMu.Unlock()
	if live == l {
		live = nil
	}
}

func (l *Library) scan() error {
	entries, err := ioutil.ReadDir(l.storagePath)
	if err != nil {
		return errors.Wrapf(err, "scanning storage root %s", l.storagePath)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.storagePath, entry.Name())
		exp, err := experiment.Open(path)
		if err != nil {
			log.Debugf("library: skipping %s: %v", path, err)
			continue
		}
		l.experiments[entry.Name()] = exp
	}
	log.Infof("library: loaded %d experiments from %s", len(l.experiments), l.storagePath)
	return nil
}

// StoragePath is the root directory the registry was opened on.
func (l *Library) StoragePath() string {
	return l.storagePath
}

// Experiments returns the loaded experiments by name.
func (l *Library) Experiments() map[string]*experiment.Experiment {
	return l.experiments
}

// Get retrieves an experiment by name. A directory that exists but is
// malformed is fatal here, unlike during the scan.
func (l *Library) Get(name string) (*experiment.Experiment, error) {
	if exp, ok := l.experiments[name]; ok {
		return exp, nil
	}
	exp, err := experiment.Open(filepath.Join(l.storagePath, name))
	if err != nil {
		return nil, err
	}
	l.experiments[name] = exp
	return exp, nil
}

// GetOrCreate retrieves an experiment by name, provisioning a new one if
// absent. Experiments are created on first reference and never explicitly
// destroyed.
func (l *Library) GetOrCreate(name string) (*experiment.Experiment, error) {
	exp, err := l.Get(name)
	if err == nil {
		return exp, nil
	}
	path := filepath.Join(l.storagePath, name)
	if _, statErr := os.Stat(path); statErr == nil {
		// The directory exists but is malformed; provisioning over it
		// would paper over whatever is wrong.
		return nil, err
	}
	exp, err = experiment.Provision(path)
	if err != nil {
		return nil, err
	}
	l.experiments[name] = exp
	stats.CurrentStatsReceiver.Scope("library").Gauge("experiments").Update(int64(len(l.experiments)))
	return exp, nil
}
