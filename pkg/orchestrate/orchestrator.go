package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/media-harvester/pkg/acquire"
	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/storage"
)

// Acquirer acquires one article; *acquire.Coordinator implements it.
type Acquirer interface {
	AcquireArticle(ctx context.Context, article models.Article) (*acquire.ArticleResult, error)
	LangRoot() string
}

// Options select what one batch does
type Options struct {
	Language   string
	RunID      string // Generated when empty
	Resume     bool   // Skip slices with a complete checkpoint
	OnlySlices []int  // Slice indices to run; empty means all
}

// SliceResult contains the result of acquiring a single slice
type SliceResult struct {
	Slice                  Slice
	Articles               int
	FailedArticles         int
	FailedIDs              []string
	AlreadyClassified      int
	Successful             int
	Skipped                int
	Exceptions             int
	ArticlesWithExceptions int
	ExceptionKinds         map[string]int
	Resumed                bool  // Not run: a complete checkpoint existed
	Err                    error // Panic or cancellation; no Completion is issued
	Duration               time.Duration
}

// Summary aggregates every slice result of a batch
type Summary struct {
	RunID                  string
	Language               string
	Slices                 []SliceResult
	Articles               int
	FailedArticles         int
	AlreadyClassified      int
	Successful             int
	Skipped                int
	Exceptions             int
	ArticlesWithExceptions int
	ExceptionKinds         map[string]int
	SlicesFailed           int
	SlicesResumed          int
	Duration               time.Duration
}

// Orchestrator fans slices of the metadata file out to a bounded set of workers
type Orchestrator struct {
	cfg      *config.AppConfig
	acquirer Acquirer
	store    storage.SliceStore // May be nil: no checkpoints
	log      *logrus.Entry

	mu      sync.Mutex
	current *Batch
}

// NewOrchestrator creates an orchestrator. store may be nil.
func NewOrchestrator(cfg *config.AppConfig, acquirer Acquirer, store storage.SliceStore, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{cfg: cfg, acquirer: acquirer, store: store, log: log}
}

// Batch is one running set of slices
type Batch struct {
	runID    string
	language string
	futures  []*SliceFuture
	progress []*sliceProgress
	start    time.Time
	done     chan struct{}
}

// Futures returns one future per selected slice, in slice order
func (b *Batch) Futures() []*SliceFuture { return b.futures }

// RunID returns the batch's run id
func (b *Batch) RunID() string { return b.runID }

// Wait blocks until every slice has resolved and returns the batch summary
func (b *Batch) Wait() *Summary {
	<-b.done
	sum := &Summary{RunID: b.runID, Language: b.language, ExceptionKinds: map[string]int{}, Duration: time.Since(b.start)}
	for _, f := range b.futures {
		r := f.Result()
		sum.Slices = append(sum.Slices, r)
		sum.Articles += r.Articles
		sum.FailedArticles += r.FailedArticles
		sum.AlreadyClassified += r.AlreadyClassified
		sum.Successful += r.Successful
		sum.Skipped += r.Skipped
		sum.Exceptions += r.Exceptions
		sum.ArticlesWithExceptions += r.ArticlesWithExceptions
		for k, v := range r.ExceptionKinds {
			sum.ExceptionKinds[k] += v
		}
		if r.Err != nil {
			sum.SlicesFailed++
		}
		if r.Resumed {
			sum.SlicesResumed++
		}
	}
	return sum
}

func (b *Batch) snapshot() Snapshot {
	snaps := make([]SliceSnapshot, len(b.progress))
	for i, p := range b.progress {
		snaps[i] = p.snapshot()
	}
	return mergeSnapshots(b.runID, b.language, snaps)
}

// Snapshot merges the progress of the current batch. Empty before the first Start.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	b := o.current
	o.mu.Unlock()
	if b == nil {
		return Snapshot{}
	}
	return b.snapshot()
}

// Run starts a batch and waits for it
func (o *Orchestrator) Run(ctx context.Context, articles []models.Article, opts Options) (*Summary, error) {
	b, err := o.Start(ctx, articles, opts)
	if err != nil {
		return nil, err
	}
	sum := b.Wait()
	o.logSummary(sum)
	return sum, nil
}

// Start partitions articles and begins acquiring the selected slices in the background.
// Up to max_workers slices run at once. Each future resolves as soon as its slice is done,
// independently of the others.
func (o *Orchestrator) Start(ctx context.Context, articles []models.Article, opts Options) (*Batch, error) {
	all := Partition(len(articles), o.cfg.SliceLen)
	selected, err := selectSlices(all, opts.OnlySlices)
	if err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	b := &Batch{runID: opts.RunID, language: opts.Language, start: time.Now(), done: make(chan struct{})}
	for _, s := range selected {
		b.futures = append(b.futures, newSliceFuture(s))
		b.progress = append(b.progress, newSliceProgress(s))
	}
	o.mu.Lock()
	o.current = b
	o.mu.Unlock()

	batchLog := o.log.WithFields(logrus.Fields{"run_id": opts.RunID, "language": opts.Language})
	batchLog.Infof("Acquiring %d of %d slices (%d articles, slice_len=%d, workers=%d)",
		len(selected), len(all), len(articles), o.cfg.SliceLen, o.cfg.MaxWorkers)

	go func() {
		defer close(b.done)
		var g errgroup.Group
		g.SetLimit(max(o.cfg.MaxWorkers, 1))
		for i, f := range b.futures {
			p := b.progress[i]
			s := f.Slice()
			if opts.Resume && o.checkpointComplete(opts.Language, s, batchLog) {
				p.setState(StateResumed)
				f.resolve(SliceResult{Slice: s, Resumed: true},
					newCompletion(opts.RunID, opts.Language, o.acquirer.LangRoot(), s, articles[s.Start:s.End]))
				continue
			}
			g.Go(func() error {
				o.runSlice(ctx, f, p, articles[s.Start:s.End], opts, batchLog.WithField("slice", s.Index))
				return nil
			})
		}
		g.Wait()
	}()
	return b, nil
}

// selectSlices returns the slices named by only, or all slices when only is empty.
func selectSlices(all []Slice, only []int) ([]Slice, error) {
	if len(only) == 0 {
		return all, nil
	}
	var out []Slice
	for _, idx := range slices.Sorted(maps.Keys(toSet(only))) {
		if idx < 0 || idx >= len(all) {
			return nil, fmt.Errorf("slice %d out of range: the metadata file has %d slices", idx, len(all))
		}
		out = append(out, all[idx])
	}
	return out, nil
}

func toSet(xs []int) map[int]struct{} {
	m := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func (o *Orchestrator) checkpointComplete(lang string, s Slice, log *logrus.Entry) bool {
	if o.store == nil {
		return false
	}
	cp, found, err := o.store.GetSlice(lang, s.Start, s.End)
	if err != nil {
		log.Warnf("Checkpoint lookup for slice %s failed, re-acquiring: %v", s, err)
		return false
	}
	return found && cp.Complete()
}

// runSlice acquires every article of one slice and resolves its future.
// A panic is recovered and recorded as the slice's error; other slices are unaffected.
func (o *Orchestrator) runSlice(ctx context.Context, f *SliceFuture, p *sliceProgress, articles []models.Article, opts Options, sliceLog *logrus.Entry) {
	s := f.Slice()
	start := time.Now()
	result := SliceResult{Slice: s, Articles: len(articles), ExceptionKinds: map[string]int{}}
	var token *Completion

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("slice %s panicked: %v", s, r)
			token = nil
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			p.setState(StateFailed)
			sliceLog.Errorf("Slice failed: %v", result.Err)
		} else {
			p.setState(StateDone)
		}
		f.resolve(result, token)
	}()

	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("slice %s not started: %w", s, err)
		return
	}
	p.setState(StateRunning)
	sliceLog.Debugf("Starting slice %s", s)

	var mu sync.Mutex
	var g errgroup.Group
	if o.cfg.MaxArticlesPerSlice > 0 {
		g.SetLimit(o.cfg.MaxArticlesPerSlice)
	}
	for _, article := range articles {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("article '%s' panicked: %v", article.ID, r)
				}
			}()
			res, err := o.acquirer.AcquireArticle(ctx, article)
			p.done.Add(1)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				p.failed.Add(1)
				result.FailedArticles++
				result.FailedIDs = append(result.FailedIDs, article.ID)
				sliceLog.WithField("article_id", article.ID).Errorf("Article acquisition failed: %v", err)
				return nil
			}
			if res.AlreadyClassified {
				result.AlreadyClassified++
				return nil
			}
			p.successful.Add(int64(res.Successful))
			p.skipped.Add(int64(res.Skipped))
			p.exceptions.Add(int64(res.Exceptions))
			result.Successful += res.Successful
			result.Skipped += res.Skipped
			result.Exceptions += res.Exceptions
			if res.Exceptions > 0 {
				result.ArticlesWithExceptions++
			}
			for k, v := range res.ExceptionKinds {
				result.ExceptionKinds[k] += v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Err = fmt.Errorf("slice %s interrupted: %w", s, err)
		return
	}
	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("slice %s interrupted: %w", s, err)
		return
	}

	token = newCompletion(opts.RunID, opts.Language, o.acquirer.LangRoot(), s, articles)
	if o.store != nil {
		cp := models.SliceCheckpoint{
			Language:   opts.Language,
			Index:      s.Index,
			Start:      s.Start,
			End:        s.End,
			RunID:      opts.RunID,
			Articles:   len(articles),
			Failed:     result.FailedArticles,
			Successful: result.Successful,
			Skipped:    result.Skipped,
			Exceptions: result.Exceptions,
		}
		if err := o.store.MarkSliceAcquired(cp); err != nil {
			sliceLog.Warnf("Failed to record checkpoint: %v", err)
		}
	}
	sliceLog.WithFields(logrus.Fields{
		"successful": result.Successful, "skipped": result.Skipped, "exceptions": result.Exceptions,
		"failed_articles": result.FailedArticles,
	}).Infof("Slice %s acquired in %v", s, time.Since(start).Round(time.Millisecond))
}

// logSummary logs a summary of all slice results
func (o *Orchestrator) logSummary(sum *Summary) {
	o.log.Info("============================================")
	o.log.Infof("Acquisition batch %s completed in %v", sum.RunID, sum.Duration.Round(time.Millisecond))
	for _, r := range sum.Slices {
		status := "SUCCESS"
		switch {
		case r.Err != nil:
			status = "FAILED"
		case r.Resumed:
			status = "RESUMED"
		}
		o.log.Infof("  slice %s: %s - %d articles, %d successful, %d skipped, %d exceptions in %v",
			r.Slice, status, r.Articles, r.Successful, r.Skipped, r.Exceptions, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			o.log.Infof("    Error: %v", r.Err)
		}
	}
	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d slices (%d failed, %d resumed), %d articles (%d failed, %d already classified)",
		len(sum.Slices), sum.SlicesFailed, sum.SlicesResumed, sum.Articles, sum.FailedArticles, sum.AlreadyClassified)
	o.log.Infof("Items: %d successful, %d skipped, %d exceptions; %d articles with exceptions",
		sum.Successful, sum.Skipped, sum.Exceptions, sum.ArticlesWithExceptions)
	for _, kind := range slices.Sorted(maps.Keys(sum.ExceptionKinds)) {
		o.log.Infof("    %s: %d", kind, sum.ExceptionKinds[kind])
	}
	o.log.Info("============================================")
}
