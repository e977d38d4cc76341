package statusstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// ArticleStores is every store file of one article directory, loaded into memory.
type ArticleStores struct {
	Dir      string
	Stage    map[models.Status][]models.MediaRecord // SUCCESSFUL, SKIPPED, EXCEPTION
	Terminal map[models.Status][]models.MediaRecord // keyed by TerminalStatuses
}

// LoadArticle reads the stage-local and terminal stores present under dir.
func LoadArticle(dir string) (*ArticleStores, error) {
	a := &ArticleStores{
		Dir:      dir,
		Stage:    make(map[models.Status][]models.MediaRecord),
		Terminal: make(map[models.Status][]models.MediaRecord),
	}
	for _, s := range StageStatuses {
		recs, err := Read(StagePath(dir, s))
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			a.Stage[s] = recs
		}
	}
	for _, s := range TerminalStatuses {
		recs, err := Read(TerminalPath(dir, s))
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			a.Terminal[s] = recs
		}
	}
	return a, nil
}

// HasStage reports whether any stage-local store exists.
func (a *ArticleStores) HasStage() bool { return len(a.Stage) > 0 }

// HasTerminal reports whether classification has written any terminal store.
func (a *ArticleStores) HasTerminal() bool { return len(a.Terminal) > 0 }

// FindTerminalByID returns the terminal record for id and the status owning it.
func (a *ArticleStores) FindTerminalByID(id string) (models.MediaRecord, models.Status, bool) {
	for _, s := range TerminalStatuses {
		for _, r := range a.Terminal[s] {
			if r.ID == id {
				return r, s, true
			}
		}
	}
	return models.MediaRecord{}, models.StatusUnset, false
}

// FindTerminalByURL returns the first file-backed terminal record whose Image URL equals url.
func (a *ArticleStores) FindTerminalByURL(url string) (models.MediaRecord, models.Status, bool) {
	for _, s := range []models.Status{models.StatusUseful, models.StatusFiltered, models.StatusCorrupt} {
		for _, r := range a.Terminal[s] {
			if r.ImageURL == url {
				return r, s, true
			}
		}
	}
	return models.MediaRecord{}, models.StatusUnset, false
}

// TerminalIDs maps every Id claimed by a terminal store to its status.
func (a *ArticleStores) TerminalIDs() map[string]models.Status {
	ids := make(map[string]models.Status)
	for _, s := range TerminalStatuses {
		for _, r := range a.Terminal[s] {
			ids[r.ID] = s
		}
	}
	return ids
}

// RemoveStage deletes the three stage-local files.
func RemoveStage(dir string) error {
	var errs []error
	for _, s := range StageStatuses {
		if err := Remove(StagePath(dir, s)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasTerminalStores reports whether dir carries any terminal store file, without decoding it.
func HasTerminalStores(dir string) bool {
	for _, s := range TerminalStatuses {
		if _, err := os.Stat(TerminalPath(dir, s)); err == nil {
			return true
		}
	}
	return false
}

// ListArticleDirs returns the article directory names under a language root, sorted.
func ListArticleDirs(langRoot string) ([]string, error) {
	entries, err := os.ReadDir(langRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing '%s': %w", utils.ErrFilesystem, langRoot, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

// ArticleDir returns <langRoot>/<articleID>.
func ArticleDir(langRoot, articleID string) string {
	return filepath.Join(langRoot, articleID)
}
