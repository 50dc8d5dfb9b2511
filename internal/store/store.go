// Package store implements the shared-store adapter (C1): typed JSON
// read/write/list/delete over a directory tree that may be a replicated
// filesystem such as an iCloud Drive mount. Writes are full-file
// replacements made atomic against local readers via write-temp-then-rename.
// The adapter never attempts cross-host locking — it exposes the raw
// semantics of whatever filesystem sits underneath it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentdev/tg-agent-bridge/internal/bridgeerr"
)

// Store is a directory-scoped JSON document store.
type Store struct {
	root string
}

// Open returns a Store rooted at <storeRoot>/<appName>, creating the
// directory if it is missing. It returns bridgeerr.StoreUnavailable when
// storeRoot cannot be stat'ed or the app directory cannot be created —
// callers treat that as
// "no shared store reachable, degrade to single-instance mode".
func Open(storeRoot, appName string) (*Store, error) {
	if _, err := os.Stat(storeRoot); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindStoreUnavailable, "store root missing: "+storeRoot, err)
	}
	root := filepath.Join(storeRoot, appName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindStoreUnavailable, "cannot create app dir", err)
	}
	return &Store{root: root}, nil
}

// Root returns the absolute path this store reads and writes under.
func (s *Store) Root() string { return s.root }

func (s *Store) path(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Read unmarshals the document at rel into v. It returns a StoreTransient
// error if the file exists but cannot be read or parsed; a missing file
// reports (false, nil).
func (s *Store) Read(rel string, v any) (found bool, err error) {
	data, err := os.ReadFile(s.path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, bridgeerr.New(bridgeerr.KindStoreTransient, "read "+rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, bridgeerr.New(bridgeerr.KindStoreTransient, "parse "+rel, err)
	}
	return true, nil
}

// Write marshals v and replaces the document at rel atomically: write to a
// temp file in the same directory, then rename over the target.
func (s *Store) Write(rel string, v any) error {
	full := s.path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return bridgeerr.New(bridgeerr.KindStoreTransient, "mkdir for "+rel, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStoreTransient, "marshal "+rel, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return bridgeerr.New(bridgeerr.KindStoreTransient, "create temp for "+rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return bridgeerr.New(bridgeerr.KindStoreTransient, "write temp for "+rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return bridgeerr.New(bridgeerr.KindStoreTransient, "close temp for "+rel, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return bridgeerr.New(bridgeerr.KindStoreTransient, "rename into "+rel, err)
	}
	return nil
}

// List returns the base names (without the .json suffix) of every JSON
// document directly under the directory named by relDir, skipping anything
// that is not a regular .json file.
func (s *Store) List(relDir string) ([]string, error) {
	entries, err := os.ReadDir(s.path(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bridgeerr.New(bridgeerr.KindStoreTransient, "list "+relDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the document at rel. Deleting a document that does not
// exist is not an error.
func (s *Store) Delete(rel string) error {
	if err := os.Remove(s.path(rel)); err != nil && !os.IsNotExist(err) {
		return bridgeerr.New(bridgeerr.KindStoreTransient, "delete "+rel, err)
	}
	return nil
}

// ModTime returns the on-disk modification time of rel, used by callers
// that want a coarse replication-lag signal. It is best-effort.
func (s *Store) ModTime(rel string) (int64, error) {
	info, err := os.Stat(s.path(rel))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	return info.ModTime().UnixMilli(), nil
}

// SanitizeDeviceID replaces every character outside [A-Za-z0-9._@-] with
// '-', per spec.md §6.1, so a device id is safe to use as a filename.
func SanitizeDeviceID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '_' || r == '@' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return sb.String()
}
