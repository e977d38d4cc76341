package statusstore

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// Stage-local files written by acquisition, directly under the article directory
const (
	SuccessfulFile = "successful_metadata.json"
	SkippedFile    = "skipped_links.json"
	ExceptionsFile = "exceptions_metadata.json"
)

// StageStatuses are the statuses acquisition writes, in file order.
var StageStatuses = []models.Status{models.StatusSuccessful, models.StatusSkipped, models.StatusException}

// TerminalStatuses are the statuses that own a subdirectory store after classification.
var TerminalStatuses = []models.Status{
	models.StatusUseful, models.StatusSkipped, models.StatusException,
	models.StatusFiltered, models.StatusCorrupt, models.StatusMissing,
}

// Subdir returns the subdirectory owned by a terminal status, or "" for SUCCESSFUL.
func Subdir(s models.Status) string {
	switch s {
	case models.StatusUseful:
		return "useful"
	case models.StatusSkipped:
		return "skipped"
	case models.StatusException:
		return "exceptions"
	case models.StatusFiltered:
		return "filtered"
	case models.StatusCorrupt:
		return "corrupted"
	case models.StatusMissing:
		return "missing"
	}
	return ""
}

// StagePath returns the stage-local store file for s, or "" if s has none.
func StagePath(articleDir string, s models.Status) string {
	switch s {
	case models.StatusSuccessful:
		return filepath.Join(articleDir, SuccessfulFile)
	case models.StatusSkipped:
		return filepath.Join(articleDir, SkippedFile)
	case models.StatusException:
		return filepath.Join(articleDir, ExceptionsFile)
	}
	return ""
}

// TerminalPath returns <articleDir>/<sub>/<sub>_metadata.json, or "" for SUCCESSFUL.
func TerminalPath(articleDir string, s models.Status) string {
	sub := Subdir(s)
	if sub == "" {
		return ""
	}
	return filepath.Join(articleDir, sub, sub+"_metadata.json")
}

// Read loads a store file. A missing file is an empty store.
func Read(path string) ([]models.MediaRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, path, err)
	}
	var recs []models.MediaRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: decoding '%s': %w", utils.ErrParsing, path, err)
	}
	return recs, nil
}

// Write stores recs as a pretty-printed JSON array ordered by Article Index.
// The file is replaced atomically: readers see either the old or the new content.
func Write(path string, recs []models.MediaRecord) error {
	sorted := slices.Clone(recs)
	SortByIndex(sorted)
	if sorted == nil {
		sorted = []models.MediaRecord{}
	}
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding '%s': %w", utils.ErrParsing, path, err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// Replace writes recs, or removes the file when recs is empty.
// An absent file means "no items in that status".
func Replace(path string, recs []models.MediaRecord) error {
	if len(recs) == 0 {
		return Remove(path)
	}
	return Write(path, recs)
}

// Remove deletes a store file; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// SortByIndex orders records by Article Index, then Id.
func SortByIndex(recs []models.MediaRecord) {
	slices.SortStableFunc(recs, func(a, b models.MediaRecord) int {
		if c := cmp.Compare(a.ArticleIndex, b.ArticleIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// WriteFileAtomic replaces path with data through a synced temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: syncing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: renaming '%s' to '%s': %w", utils.ErrFilesystem, tmpName, path, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a rename; unsupported platforms are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
