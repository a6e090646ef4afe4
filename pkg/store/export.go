package store

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ExportRun streams the run's directory (snapshot, event log, artifacts) as
// a zip archive. Entries are rooted at the run id so the archive unpacks
// into a single directory.
func (s *Store) ExportRun(runID string, w io.Writer) error {
	s.mu.Lock()
	_, ok := s.runs[runID]
	dir := s.runDirLocked(runID)
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}

	zw := zip.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip the snapshot temp file if a write is racing the export.
		if strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(filepath.Join(runID, rel)))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to export run %s: %w", runID, err)
	}
	return zw.Close()
}
