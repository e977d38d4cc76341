package exceptions

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// Summary counts exception records under a language root
type Summary struct {
	Articles int            // Articles with at least one exception record
	Records  int            // Exception records, one per Id
	ByKind   map[string]int // Exception Kind -> records
}

// collect returns every exception record of one article, stage-local and terminal,
// with each Id once.
func collect(dir string) ([]models.MediaRecord, error) {
	seen := make(map[string]bool)
	var out []models.MediaRecord
	for _, path := range []string{
		statusstore.TerminalPath(dir, models.StatusException),
		statusstore.StagePath(dir, models.StatusException),
	} {
		recs, err := statusstore.Read(path)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	statusstore.SortByIndex(out)
	return out, nil
}

// walk calls fn with the exception records of every article under langRoot that has any.
// Unreadable stores are logged and skipped.
func walk(langRoot string, log *logrus.Entry, fn func(articleID string, recs []models.MediaRecord)) error {
	dirs, err := statusstore.ListArticleDirs(langRoot)
	if err != nil {
		return err
	}
	for _, id := range dirs {
		recs, err := collect(statusstore.ArticleDir(langRoot, id))
		if err != nil {
			log.WithField("article_id", id).Warnf("Skipping unreadable exceptions store: %v", err)
			continue
		}
		if len(recs) > 0 {
			fn(id, recs)
		}
	}
	return nil
}

// Count tallies the articles and records that carry exceptions under langRoot.
func Count(langRoot string, log *logrus.Entry) (*Summary, error) {
	sum := &Summary{ByKind: map[string]int{}}
	err := walk(langRoot, log, func(_ string, recs []models.MediaRecord) {
		sum.Articles++
		sum.Records += len(recs)
		for _, r := range recs {
			kind := "Unknown"
			if r.Failure != nil && r.Kind != "" {
				kind = r.Kind
			}
			sum.ByKind[kind]++
		}
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// Compile writes every exception record under langRoot into one JSON array at outPath,
// ordered by article directory then index, and returns how many it wrote.
func Compile(langRoot, outPath string, log *logrus.Entry) (int, error) {
	all := []models.MediaRecord{}
	err := walk(langRoot, log, func(_ string, recs []models.MediaRecord) {
		all = append(all, recs...)
	})
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("%w: encoding exceptions: %w", utils.ErrParsing, err)
	}
	if err := statusstore.WriteFileAtomic(outPath, append(data, '\n')); err != nil {
		return 0, err
	}
	return len(all), nil
}
