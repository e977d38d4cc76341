package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/media-harvester/pkg/acquire"
	"github.com/Sriram-PR/media-harvester/pkg/classify"
	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/exceptions"
	"github.com/Sriram-PR/media-harvester/pkg/fetch"
	"github.com/Sriram-PR/media-harvester/pkg/metadata"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/monitor"
	"github.com/Sriram-PR/media-harvester/pkg/orchestrate"
	"github.com/Sriram-PR/media-harvester/pkg/reconcile"
	"github.com/Sriram-PR/media-harvester/pkg/report"
	"github.com/Sriram-PR/media-harvester/pkg/resolve"
	"github.com/Sriram-PR/media-harvester/pkg/storage"
)

// app holds the components shared by every command for one language
type app struct {
	cfg      *config.AppConfig
	lang     string
	langRoot string
	articles []models.Article
	resolver *resolve.Resolver
	hosts    *fetch.HostSemaphorePool
	store    *storage.BadgerStore
	orch     *orchestrate.Orchestrator
	pipeline *classify.Pipeline
	log      *logrus.Entry
}

// newApp reads the metadata file and wires every component. Close must be called.
func newApp(cfg *config.AppConfig, metadataPath string, log *logrus.Entry) (*app, error) {
	articles, err := metadata.ReadFile(metadataPath)
	if err != nil {
		return nil, err
	}
	lang := cfg.Language
	if lang == "" {
		lang = metadata.LanguageFromPath(metadataPath)
	}
	log = log.WithField("lang", lang)
	log.WithFields(logrus.Fields{
		"articles": len(articles),
		"links":    metadata.TotalLinks(articles),
	}).Infof("Loaded metadata from %s", metadataPath)

	store, err := storage.NewBadgerStore(cfg.StateDir, log.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		lang:     lang,
		langRoot: cfg.LanguageRoot(lang),
		articles: articles,
		resolver: resolve.New(cfg.Resolver),
		store:    store,
		log:      log,
	}

	fetchLog := log.WithField("component", "fetch")
	a.hosts = fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, fetchLog)
	limits := fetch.NewLimits(cfg.MaxRequests, a.hosts)
	fetcher := fetch.NewFetcher(fetch.NewClient(cfg, fetchLog), cfg, limits, fetchLog)

	coord := acquire.NewCoordinator(a.langRoot, a.resolver, fetcher, cfg.MaxFetchesPerArticle, log.WithField("component", "acquire"))
	a.orch = orchestrate.NewOrchestrator(cfg, coord, store, log.WithField("component", "orchestrator"))
	a.pipeline = classify.NewPipeline(cfg, store, log.WithField("component", "classify"))
	return a, nil
}

// Close releases the checkpoint store
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Errorf("Error closing checkpoint store: %v", err)
	}
}

// startBackground runs checkpoint GC, idle host eviction and the optional monitor until ctx is done.
func (a *app) startBackground(ctx context.Context) {
	go a.store.RunGC(ctx, 10*time.Minute)
	go a.hosts.RunEviction(ctx, 5*time.Minute)

	if a.cfg.MonitorAddr == "" {
		return
	}
	srv := monitor.NewServer(a.cfg.MonitorAddr, a.orch, a.log.WithField("component", "monitor")).WithHosts(a.hosts)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Errorf("PANIC in monitor server: %v", r)
			}
		}()
		if err := srv.Run(ctx); err != nil {
			a.log.Errorf("Monitor server stopped: %v", err)
		}
	}()
}

func (a *app) options(resume bool, only []int) orchestrate.Options {
	return orchestrate.Options{Language: a.lang, Resume: resume, OnlySlices: only}
}

// download acquires every selected slice. A fresh full download forgets earlier checkpoints.
func (a *app) download(ctx context.Context, resume bool, only []int, stdout io.Writer) error {
	if !resume && len(only) == 0 {
		if err := a.store.ResetLanguage(a.lang); err != nil {
			return err
		}
	}
	sum, err := a.orch.Run(ctx, a.articles, a.options(resume, only))
	if err != nil {
		return err
	}
	a.printExceptions(stdout)
	if sum.SlicesFailed > 0 {
		return fmt.Errorf("%d of %d slice(s) did not complete", sum.SlicesFailed, len(sum.Slices))
	}
	return ctx.Err()
}

// classify classifies every acquired slice that is not yet classified, or all of them when all is set.
func (a *app) classify(ctx context.Context, all bool, only []int) (*classify.Stats, error) {
	tokens, err := orchestrate.TokensFromCheckpoints(a.store, a.langRoot, a.articles, a.options(false, only), all)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		a.log.Warn("No acquired slices waiting for classification")
	}
	total := &classify.Stats{}
	var errs []error
	for _, token := range tokens {
		st, err := a.pipeline.ClassifySlice(ctx, token)
		if st != nil {
			total.Merge(*st)
		}
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return total, errors.Join(errs...)
}

// run acquires slices and classifies each one as soon as its completion token arrives.
func (a *app) run(ctx context.Context, resume bool, only []int, stdout io.Writer) (*classify.Stats, error) {
	if !resume && len(only) == 0 {
		if err := a.store.ResetLanguage(a.lang); err != nil {
			return nil, err
		}
	}
	batch, err := a.orch.Start(ctx, a.articles, a.options(resume, only))
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		total = &classify.Stats{}
		errs  []error
		g     errgroup.Group
	)
	g.SetLimit(a.cfg.MaxWorkers)
	for _, f := range batch.Futures() {
		g.Go(func() error {
			token, err := f.Wait(ctx)
			if err != nil {
				a.log.WithField("slice", f.Slice().Index).Warnf("Slice not classified: %v", err)
				return nil
			}
			st, err := a.pipeline.ClassifySlice(ctx, token)
			mu.Lock()
			defer mu.Unlock()
			if st != nil {
				total.Merge(*st)
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	g.Wait()

	sum := batch.Wait()
	a.printExceptions(stdout)
	if sum.SlicesFailed > 0 {
		errs = append(errs, fmt.Errorf("%d of %d slice(s) did not complete", sum.SlicesFailed, len(sum.Slices)))
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return total, errors.Join(errs...)
}

// stats writes the reduced report and prints the per-status totals.
func (a *app) stats(ctx context.Context, stdout io.Writer) error {
	reducer := reconcile.NewReducer(a.langRoot, a.lang, a.resolver, a.log.WithField("component", "reconcile"))
	path, counts, err := report.Export(ctx, reducer, a.articles, a.cfg.ReportFormat, a.cfg.ReportDir, a.lang)
	if err != nil {
		return err
	}
	printCounts(stdout, counts)
	fmt.Fprintf(stdout, "Report: %s\n", path)
	return nil
}

func (a *app) printExceptions(w io.Writer) {
	sum, err := exceptions.Count(a.langRoot, a.log)
	if err != nil {
		a.log.Warnf("Could not count exceptions: %v", err)
		return
	}
	fmt.Fprintf(w, "Articles with exceptions: %d (%d records)\n", sum.Articles, sum.Records)
}

func printCounts(w io.Writer, c *reconcile.Counts) {
	fmt.Fprintf(w, "Rows: %d\n", c.Rows)
	for _, s := range models.AllStatuses() {
		if n := c.ByStatus[s]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", s, n)
		}
	}
	if c.UnreadableStores > 0 {
		fmt.Fprintf(w, "Unreadable article stores: %d\n", c.UnreadableStores)
	}
}

func printStats(w io.Writer, s *classify.Stats) {
	fmt.Fprintf(w, "Classified articles: %d (untouched %d, failed %d)\n", s.Articles, s.Untouched, s.Failed)
	fmt.Fprintf(w, "  useful %d, filtered %d, corrupt %d, missing %d, skipped %d, exceptions %d\n",
		s.Useful, s.Filtered, s.Corrupt, s.Missing, s.Skipped, s.Exceptions)
}

// doExceptions counts exception records under langRoot and, when outPath is set,
// compiles them into one JSON file. Returns the exit code.
func doExceptions(langRoot, outPath string, log *logrus.Entry, stdout, stderr io.Writer) int {
	sum, err := exceptions.Count(langRoot, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Articles with exceptions: %d\n", sum.Articles)
	fmt.Fprintf(stdout, "Exception records: %d\n", sum.Records)
	for _, kind := range sortedKeys(sum.ByKind) {
		fmt.Fprintf(stdout, "  %-45s %d\n", kind, sum.ByKind[kind])
	}
	if outPath == "" {
		return 0
	}
	n, err := exceptions.Compile(langRoot, outPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Compiled %d record(s) into %s\n", n, outPath)
	return 0
}

// doValidate loads and validates the config file. Returns the exit code.
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
