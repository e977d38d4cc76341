package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/imaging"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/orchestrate"
	"github.com/Sriram-PR/media-harvester/pkg/storage"
)

// Stats counts the outcomes of classifying one or more articles
type Stats struct {
	Articles      int // Articles that had stage-local stores
	Untouched     int // Articles with nothing to classify
	Failed        int // Articles whose stores could not be read or written
	Useful        int
	Filtered      int
	Corrupt       int
	Missing       int
	Skipped       int
	Exceptions    int
	Kept          int // Already carried a terminal record with the same Id
	ResolvedByURL int // File absent, status copied from a record with the same Image URL
	Recovered     int // File found under a terminal subdirectory by basename
}

// Merge adds o's counters to s
func (s *Stats) Merge(o Stats) {
	s.Articles += o.Articles
	s.Untouched += o.Untouched
	s.Failed += o.Failed
	s.Useful += o.Useful
	s.Filtered += o.Filtered
	s.Corrupt += o.Corrupt
	s.Missing += o.Missing
	s.Skipped += o.Skipped
	s.Exceptions += o.Exceptions
	s.Kept += o.Kept
	s.ResolvedByURL += o.ResolvedByURL
	s.Recovered += o.Recovered
}

func (s *Stats) count(st models.Status) {
	switch st {
	case models.StatusUseful:
		s.Useful++
	case models.StatusFiltered:
		s.Filtered++
	case models.StatusCorrupt:
		s.Corrupt++
	case models.StatusMissing:
		s.Missing++
	case models.StatusSkipped:
		s.Skipped++
	case models.StatusException:
		s.Exceptions++
	}
}

// Pipeline turns the stage-local stores of acquired articles into terminal stores.
type Pipeline struct {
	filter        imaging.Filter
	usefulInPlace bool
	maxArticles   int
	store         storage.SliceStore // May be nil
	log           *logrus.Entry
}

// NewPipeline creates a Pipeline from validated configuration. store may be nil.
func NewPipeline(cfg *config.AppConfig, store storage.SliceStore, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		filter:        imaging.NewFilter(cfg.Filter),
		usefulInPlace: cfg.Filter.UsefulInPlace,
		maxArticles:   cfg.MaxArticlesPerSlice,
		store:         store,
		log:           log,
	}
}

// ClassifySlice classifies every article of the slice the token proves complete.
// Article failures are logged and counted; the returned error joins them. The slice
// is marked classified in the checkpoint store only when every article succeeded.
func (p *Pipeline) ClassifySlice(ctx context.Context, token *orchestrate.Completion) (*Stats, error) {
	if token == nil {
		return nil, errors.New("classification requires a slice completion token")
	}
	s := token.Slice()
	sliceLog := p.log.WithFields(logrus.Fields{"run_id": token.RunID(), "slice": s.Index})
	start := time.Now()

	var (
		mu    sync.Mutex
		total Stats
		errs  []error
		g     errgroup.Group
	)
	if p.maxArticles > 0 {
		g.SetLimit(p.maxArticles)
	}
	for _, id := range token.ArticleIDs() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			st, err := p.classifyArticle(token.LangRoot(), id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				total.Failed++
				errs = append(errs, err)
				sliceLog.WithField("article_id", id).Errorf("Classification failed: %v", err)
				return nil
			}
			total.Merge(st)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return &total, fmt.Errorf("classifying slice %s: %w", s, err)
	}
	if len(errs) > 0 {
		return &total, fmt.Errorf("classifying slice %s: %d article(s) failed: %w", s, len(errs), errors.Join(errs...))
	}

	if p.store != nil {
		if err := p.store.MarkSliceClassified(token.Language(), s.Start, s.End); err != nil {
			sliceLog.Warnf("Failed to record classification checkpoint: %v", err)
		}
	}
	sliceLog.WithFields(logrus.Fields{
		"useful": total.Useful, "filtered": total.Filtered, "corrupt": total.Corrupt, "missing": total.Missing,
	}).Infof("Slice %s classified in %v", s, time.Since(start).Round(time.Millisecond))
	return &total, nil
}
