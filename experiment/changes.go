package experiment

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/flammable-ml/flammable/repo"
)

// DefaultExcludes are path prefixes the change detector never reports as
// untracked: repository internals and tool caches that should not become
// part of a snapshot.
var DefaultExcludes = []string{".git", "__pycache__", ".flammable"}

// Changes is the result of inspecting a working copy: two disjoint sets of
// paths, relative to the repository root.
type Changes struct {
	// Modified holds modified-or-deleted tracked paths.
	Modified []string
	// Untracked holds newly-seen paths not matching an exclusion rule.
	Untracked []string

	// deleted marks the subset of Modified that must be staged as a
	// removal rather than an add.
	deleted map[string]bool
}

// Changed reports whether anything at all changed.
func (c *Changes) Changed() bool {
	return len(c.Modified)+len(c.Untracked) > 0
}

func (c *Changes) splitForCommit() (changed, removed []string) {
	for _, p := range c.Modified {
		if c.deleted[p] {
			removed = append(removed, p)
		} else {
			changed = append(changed, p)
		}
	}
	changed = append(changed, c.Untracked...)
	return changed, removed
}

// detectChanges inspects r's working copy with git status. Excluded
// prefixes only filter untracked files; a tracked file is always reported.
func detectChanges(r *repo.Repository, excludes []string) (*Changes, error) {
	out, err := r.StatusPorcelain()
	if err != nil {
		return nil, err
	}

	c := &Changes{deleted: map[string]bool{}}
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		status, path := entry[:2], entry[3:]

		if status == "??" {
			if !excluded(path, excludes) {
				c.Untracked = append(c.Untracked, path)
			}
			continue
		}

		if strings.ContainsAny(status, "RC") && i+1 < len(fields) {
			// A rename or copy carries the original path in the next
			// record. Treated conservatively as "both paths changed"
			// rather than dropped; only a rename loses the original.
			oldPath := fields[i+1]
			i++
			log.Warnf("experiment: rename in working copy (%s -> %s); recording both paths as changed", oldPath, path)
			c.Modified = append(c.Modified, oldPath, path)
			if strings.ContainsRune(status, 'R') {
				c.deleted[oldPath] = true
			}
			continue
		}

		c.Modified = append(c.Modified, path)
		if strings.ContainsRune(status, 'D') {
			c.deleted[path] = true
		}
	}
	return c, nil
}

func excluded(path string, excludes []string) bool {
	for _, prefix := range excludes {
		if path == prefix || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
