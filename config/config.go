// Package config locates and loads the flammable configuration: where the
// experiment storage root lives.
package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// EnvConfigPath overrides the default config file location when set.
const EnvConfigPath = "FLAMMABLE_CONFIG"

const configFileName = "config.json"

// Config is the on-disk configuration document.
type Config struct {
	// DataPath is the storage root under which every experiment lives.
	DataPath string `json:"data_path"`
}

// DefaultPath returns the standard config file location:
// $FLAMMABLE_CONFIG if set, else ~/.flammable/config.json.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locating home directory for config")
	}
	return filepath.Join(home, ".flammable", configFileName), nil
}

// GetConfigText resolves flag input that is either a filename or literal
// JSON text, returning the raw document.
func GetConfigText(flagText string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(flagText), "{") {
		return []byte(flagText), nil
	}
	data, err := ioutil.ReadFile(flagText)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", flagText)
	}
	return data, nil
}

// Parse unmarshals and validates a config document.
func Parse(text []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(text, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if cfg.DataPath == "" {
		return nil, errors.New("config is missing data_path")
	}
	return &cfg, nil
}

// Load reads the config from path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Save writes cfg to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating config dir for %s", path)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "serializing config")
	}
	return ioutil.WriteFile(path, data, 0644)
}

// EnsureDataPath makes sure the storage root exists and is writable,
// creating it if needed.
func (c *Config) EnsureDataPath() error {
	fi, err := os.Stat(c.DataPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(c.DataPath, 0755); err != nil {
			return errors.Wrapf(err, "creating storage root %s", c.DataPath)
		}
		return nil
	case err != nil:
		return errors.Wrapf(err, "checking storage root %s", c.DataPath)
	case !fi.IsDir():
		return errors.Errorf("storage root %s is not a directory", c.DataPath)
	}

	probe := filepath.Join(c.DataPath, ".write-probe")
	if err := ioutil.WriteFile(probe, nil, 0644); err != nil {
		return errors.Wrapf(err, "storage root %s is not writable", c.DataPath)
	}
	os.Remove(probe)
	return nil
}

// LoadDefault loads the config from the standard location, creating a
// config pointed at dataPathFallback when none exists yet.
func LoadDefault(dataPathFallback string) (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	if dataPathFallback == "" {
		return nil, errors.Errorf("no config at %s and no storage root given", path)
	}
	cfg = &Config{DataPath: dataPathFallback}
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	log.Infof("config: created %s with storage root %s", path, dataPathFallback)
	return cfg, nil
}
