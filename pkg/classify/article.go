package classify

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/Sriram-PR/media-harvester/pkg/imaging"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// fileStatuses own a subdirectory a media file may have been moved into
var fileStatuses = []models.Status{models.StatusUseful, models.StatusFiltered, models.StatusCorrupt}

// resolved is a classification outcome other items with the same URL can copy
type resolved struct {
	rec    models.MediaRecord
	status models.Status
}

// classifyArticle classifies one article directory.
//
// Terminal stores are written before the stage-local files are removed, so a crash
// at any point leaves enough on disk for the next run to reach the same result.
func (p *Pipeline) classifyArticle(langRoot, articleID string) (Stats, error) {
	var st Stats
	dir := statusstore.ArticleDir(langRoot, articleID)
	artLog := p.log.WithField("article_id", articleID)

	stores, err := statusstore.LoadArticle(dir)
	if err != nil {
		return st, err
	}
	if !stores.HasStage() {
		st.Untouched++
		return st, nil
	}
	st.Articles++

	byURL := make(map[string]resolved)
	var fresh []resolved

	for _, rec := range stores.Stage[models.StatusSuccessful] {
		if existing, status, ok := stores.FindTerminalByID(rec.ID); ok {
			st.Kept++
			if status.HasFile() {
				byURL[rec.ImageURL] = resolved{existing, status}
			}
			continue
		}

		out, err := p.classifySuccessful(langRoot, dir, articleID, rec, stores, byURL, &st)
		if err != nil {
			return Stats{}, err
		}
		st.count(out.status)
		if out.status.HasFile() {
			if _, seen := byURL[rec.ImageURL]; !seen {
				byURL[rec.ImageURL] = out
			}
		}
		fresh = append(fresh, out)
	}

	// Skipped and exception records carry over unchanged
	for _, s := range []models.Status{models.StatusSkipped, models.StatusException} {
		for _, rec := range stores.Stage[s] {
			if _, _, ok := stores.FindTerminalByID(rec.ID); ok {
				st.Kept++
				continue
			}
			st.count(s)
			fresh = append(fresh, resolved{rec, s})
		}
	}

	merged := mergeTerminal(stores.Terminal, fresh)
	for _, s := range statusstore.TerminalStatuses {
		if err := statusstore.Replace(statusstore.TerminalPath(dir, s), merged[s]); err != nil {
			return Stats{}, fmt.Errorf("writing %s store of article '%s': %w", s, articleID, err)
		}
	}
	if err := statusstore.RemoveStage(dir); err != nil {
		return Stats{}, fmt.Errorf("removing stage stores of article '%s': %w", articleID, err)
	}
	artLog.Debugf("Classified: %d useful, %d filtered, %d corrupt, %d missing", st.Useful, st.Filtered, st.Corrupt, st.Missing)
	return st, nil
}

// classifySuccessful decides the terminal status of one downloaded item.
func (p *Pipeline) classifySuccessful(langRoot, dir, articleID string, rec models.MediaRecord,
	stores *statusstore.ArticleStores, byURL map[string]resolved, st *Stats) (resolved, error) {

	base := path.Base(rec.ImagePath)
	if rec.ImagePath != "" {
		current := filepath.Join(langRoot, filepath.FromSlash(rec.ImagePath))
		out, err := p.inspectAndPlace(dir, articleID, base, current, rec)
		if !errors.Is(err, utils.ErrFileNotFound) {
			return out, err
		}
	}

	// File absent: an earlier item with the same URL already claimed it
	if prior, ok := byURL[rec.ImageURL]; ok {
		st.ResolvedByURL++
		return copyOutcome(rec, prior), nil
	}
	if prior, status, ok := stores.FindTerminalByURL(rec.ImageURL); ok {
		st.ResolvedByURL++
		return copyOutcome(rec, resolved{prior, status}), nil
	}

	// Moved before the stores were written: look in the status subdirectories
	if rec.ImagePath != "" {
		for _, s := range fileStatuses {
			candidate := filepath.Join(dir, statusstore.Subdir(s), base)
			out, err := p.inspectAndPlace(dir, articleID, base, candidate, rec)
			if errors.Is(err, utils.ErrFileNotFound) {
				continue
			}
			if err == nil {
				st.Recovered++
			}
			return out, err
		}
	}

	rec.ImageMetrics = nil
	return resolved{rec, models.StatusMissing}, nil
}

// inspectAndPlace classifies the file at current and moves it to its status location.
// ErrFileNotFound is returned untouched when nothing exists at current.
func (p *Pipeline) inspectAndPlace(dir, articleID, base, current string, rec models.MediaRecord) (resolved, error) {
	metrics, err := imaging.Inspect(current)
	var status models.Status
	switch {
	case err == nil:
		rec.ImageMetrics = metrics
		rec.Failure = nil
		if rejected, reason := p.filter.Rejects(metrics); rejected {
			status = models.StatusFiltered
			rec.FilterReason = reason
		} else {
			status = models.StatusUseful
		}
	case errors.Is(err, utils.ErrImageDecode):
		status = models.StatusCorrupt
		rec.ImageMetrics = nil
		rec.SetFailure(err, utils.CategorizeError(err))
	default:
		return resolved{}, err
	}

	target := filepath.Join(dir, base)
	relPath := path.Join(articleID, base)
	if status != models.StatusUseful || !p.usefulInPlace {
		sub := statusstore.Subdir(status)
		target = filepath.Join(dir, sub, base)
		relPath = path.Join(articleID, sub, base)
	}
	if err := moveFile(current, target); err != nil {
		return resolved{}, err
	}
	rec.ImagePath = relPath
	return resolved{rec, status}, nil
}

// copyOutcome gives rec the status, location and measurements of prior.
func copyOutcome(rec models.MediaRecord, prior resolved) resolved {
	src := prior.rec.Clone()
	rec.ImagePath = src.ImagePath
	rec.ImageMetrics = src.ImageMetrics
	rec.Failure = src.Failure
	rec.FilterReason = src.FilterReason
	return resolved{rec, prior.status}
}

// mergeTerminal folds fresh outcomes into the existing terminal stores.
// An Id appears in at most one store afterwards.
func mergeTerminal(existing map[models.Status][]models.MediaRecord, fresh []resolved) map[models.Status][]models.MediaRecord {
	freshIDs := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		freshIDs[f.rec.ID] = true
	}
	merged := make(map[models.Status][]models.MediaRecord)
	for _, s := range statusstore.TerminalStatuses {
		for _, r := range existing[s] {
			if !freshIDs[r.ID] {
				merged[s] = append(merged[s], r)
			}
		}
	}
	for _, f := range fresh {
		merged[f.status] = append(merged[f.status], f.rec)
	}
	for s := range merged {
		statusstore.SortByIndex(merged[s])
	}
	return merged
}

// moveFile renames src to dst, creating dst's directory. Moving a file onto itself is a no-op.
func moveFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("%w: moving '%s' to '%s': %w", utils.ErrFilesystem, src, dst, err)
	}
	return nil
}
