package statestore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	errs "propscan/pkg/errors"
	"propscan/pkg/logger"
	"propscan/pkg/state"
)

const (
	// DefaultBackupRetention is how many timestamped backups to keep
	DefaultBackupRetention = 10

	backupTimeFormat = "20060102T150405.000000000"
)

// Store persists the state document at a fixed path
type Store struct {
	path      string
	retention int
	logger    logger.Logger
}

// New creates a store for the given state file path. A retention of zero or
// less falls back to DefaultBackupRetention.
func New(path string, retention int, log logger.Logger) *Store {
	if retention <= 0 {
		retention = DefaultBackupRetention
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		path:      path,
		retention: retention,
		logger:    log,
	}
}

// Path returns the primary state file path
func (s *Store) Path() string {
	return s.path
}

// Exists checks if a state file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and parses the state document. If no file exists it returns an
// empty well-formed document. Unparsable content or missing required
// top-level keys yield a CorruptStateError.
func (s *Store) Load() (*state.Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			doc := &state.Document{Version: state.SchemaVersion, WorkItems: []*state.WorkItem{}}
			doc.RecomputeSummary()
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &errs.CorruptStateError{
			Path:   s.path,
			Reason: "content is not valid JSON",
			Err:    err,
		}
	}
	for _, field := range []string{"session", "work_items"} {
		if _, ok := raw[field]; !ok {
			return nil, &errs.CorruptStateError{
				Path:   s.path,
				Reason: fmt.Sprintf("missing required top-level key %q", field),
			}
		}
	}

	var doc state.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errs.CorruptStateError{
			Path:   s.path,
			Reason: "document structure is invalid",
			Err:    err,
		}
	}

	// Overall statuses and the summary are derived data; rebuild them so a
	// hand-edited file can never make them drift from the phase records.
	for _, item := range doc.WorkItems {
		item.RecomputeStatus()
	}
	doc.RecomputeSummary()

	s.logger.DebugWithFields("state loaded", map[string]interface{}{
		"path":  s.path,
		"items": len(doc.WorkItems),
	})

	return &doc, nil
}

// Save persists the document. The prior file, if any, is first copied to a
// timestamped backup; the new content is then written to a temporary file and
// atomically renamed over the primary. A failed backup is logged and does not
// block the save; a failed rename is fatal.
func (s *Store) Save(doc *state.Document) error {
	doc.UpdatedAt = time.Now()
	for _, item := range doc.WorkItems {
		item.RecomputeStatus()
	}
	doc.RecomputeSummary()

	if s.Exists() {
		if _, err := s.backup(); err != nil {
			s.logger.WarnWithFields("state backup failed", map[string]interface{}{
				"path":  s.path,
				"error": err.Error(),
			})
		}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.pruneBackups()

	s.logger.DebugWithFields("state saved", map[string]interface{}{
		"path":  s.path,
		"items": len(doc.WorkItems),
	})

	return nil
}

// Backup copies the current state file to a timestamped backup and returns
// the backup path. Returns an empty path if there is nothing to back up.
func (s *Store) Backup() (string, error) {
	if !s.Exists() {
		return "", nil
	}
	return s.backup()
}

func (s *Store) backup() (string, error) {
	backupPath := fmt.Sprintf("%s.backup.%s", s.path, time.Now().Format(backupTimeFormat))

	src, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to open state file for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("failed to copy state to backup: %w", err)
	}

	s.logger.DebugWithFields("state backed up", map[string]interface{}{
		"backup": backupPath,
	})

	return backupPath, nil
}

// Backups lists backup paths, newest first
func (s *Store) Backups() ([]string, error) {
	matches, err := filepath.Glob(s.path + ".backup.*")
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	// The timestamp suffix sorts lexically, so newest last; reverse it.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// RestoreBackup replaces the primary state file with the given backup. The
// current primary, if any, is backed up first.
func (s *Store) RestoreBackup(backupPath string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer src.Close()

	if s.Exists() {
		if _, err := s.backup(); err != nil {
			s.logger.WarnWithFields("state backup failed before restore", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	tempPath := s.path + ".tmp"
	dst, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.InfoWithFields("state restored from backup", map[string]interface{}{
		"backup": backupPath,
	})

	return nil
}

// Delete removes the state file
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// pruneBackups removes backups beyond the retention count, oldest first.
// Deletion failures are logged, not fatal.
func (s *Store) pruneBackups() {
	backups, err := s.Backups()
	if err != nil {
		s.logger.WarnWithFields("backup cleanup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(backups) <= s.retention {
		return
	}

	for _, path := range backups[s.retention:] {
		if err := os.Remove(path); err != nil {
			s.logger.WarnWithFields("failed to remove old backup", map[string]interface{}{
				"backup": path,
				"error":  err.Error(),
			})
		}
	}

	s.logger.DebugWithFields("old backups pruned", map[string]interface{}{
		"removed":  len(backups) - s.retention,
		"retained": s.retention,
	})
}
