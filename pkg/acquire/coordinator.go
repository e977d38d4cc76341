package acquire

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/media-harvester/pkg/fetch"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/resolve"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// Fetcher downloads one URL to one file; *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string) (*fetch.Result, error)
}

// ArticleResult summarizes one acquisition of one article
type ArticleResult struct {
	ArticleID         string
	Links             int
	Successful        int
	Skipped           int
	Exceptions        int
	Fetched           int            // Distinct URLs sent to the Fetcher
	AlreadyClassified bool           // Terminal stores exist; nothing was touched
	ExceptionKinds    map[string]int // utils.CategorizeError -> count
}

// Coordinator acquires every media link of one article into <langRoot>/<article id>/.
type Coordinator struct {
	langRoot   string
	resolver   *resolve.Resolver
	fetcher    Fetcher
	maxFetches int // Concurrent fetches per article; <= 0 = all at once
	log        *logrus.Entry
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(langRoot string, resolver *resolve.Resolver, fetcher Fetcher, maxFetchesPerArticle int, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		langRoot:   langRoot,
		resolver:   resolver,
		fetcher:    fetcher,
		maxFetches: maxFetchesPerArticle,
		log:        log,
	}
}

// LangRoot returns the language root articles are written under.
func (c *Coordinator) LangRoot() string { return c.langRoot }

// reservedNames cannot be used for media files: they are store files or status subdirectories.
var reservedNames = func() map[string]bool {
	m := map[string]bool{
		statusstore.SuccessfulFile: true,
		statusstore.SkippedFile:    true,
		statusstore.ExceptionsFile: true,
	}
	for _, s := range statusstore.TerminalStatuses {
		m[statusstore.Subdir(s)] = true
		m[filepath.Base(statusstore.TerminalPath("", s))] = true
	}
	return m
}()

// AcquireArticle resolves, fetches and partitions every link of article, then replaces
// the article's three stage-local store files with the fresh partition.
//
// Per-link failures are recorded as EXCEPTION records. An error is returned only when
// the article directory or its store files cannot be written, or ctx is cancelled; in
// both cases no store file is modified.
func (c *Coordinator) AcquireArticle(ctx context.Context, article models.Article) (*ArticleResult, error) {
	result := &ArticleResult{ArticleID: article.ID, Links: len(article.MediaLinks), ExceptionKinds: map[string]int{}}
	artLog := c.log.WithField("article_id", article.ID)

	if err := validateArticleID(article.ID); err != nil {
		return nil, err
	}
	dir := statusstore.ArticleDir(c.langRoot, article.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating article directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	// Re-acquiring a classified article would give its items a second status
	if statusstore.HasTerminalStores(dir) {
		artLog.Debug("Article already classified, skipping acquisition")
		result.AlreadyClassified = true
		return result, nil
	}

	fetch.RemovePartials(dir, artLog)
	plan := c.plan(article)
	outcomes := c.fetchAll(ctx, dir, plan)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquiring article '%s': %w", article.ID, err)
	}
	result.Fetched = len(plan.downloads)

	var successful, skipped, exceptions []models.MediaRecord
	for _, item := range plan.items {
		rec := item.record
		switch {
		case item.skip:
			skipped = append(skipped, rec)
		case outcomes[item.download] == nil:
			successful = append(successful, rec)
		default:
			err := outcomes[item.download]
			kind := utils.CategorizeError(err)
			rec.SetFailure(err, kind)
			result.ExceptionKinds[kind]++
			exceptions = append(exceptions, rec)
		}
	}
	result.Successful, result.Skipped, result.Exceptions = len(successful), len(skipped), len(exceptions)

	writes := []struct {
		status models.Status
		recs   []models.MediaRecord
	}{
		{models.StatusSuccessful, successful},
		{models.StatusSkipped, skipped},
		{models.StatusException, exceptions},
	}
	for _, w := range writes {
		if err := statusstore.Replace(statusstore.StagePath(dir, w.status), w.recs); err != nil {
			return nil, fmt.Errorf("persisting %s records of article '%s': %w", w.status, article.ID, err)
		}
	}

	artLog.WithFields(logrus.Fields{
		"successful": result.Successful, "skipped": result.Skipped, "exceptions": result.Exceptions,
	}).Debug("Article acquired")
	return result, nil
}

// planItem is one media link with its prebuilt record
type planItem struct {
	record   models.MediaRecord
	skip     bool
	download int // Index into articlePlan.downloads when !skip
}

// download is one distinct resolved URL and the file it goes to
type download struct {
	url      string
	filename string
}

type articlePlan struct {
	items     []planItem
	downloads []download
}

// plan resolves every link and assigns one distinct filename per distinct URL.
// Indices sharing a URL share the download, and so the outcome and Image Path.
func (c *Coordinator) plan(article models.Article) articlePlan {
	var p articlePlan
	byURL := make(map[string]int)
	usedNames := make(map[string]bool)

	for idx, raw := range article.MediaLinks {
		res := c.resolver.Resolve(raw, article.URL)
		rec := models.MediaRecord{
			ID:           models.ItemID(article.ID, idx),
			ArticleID:    article.ID,
			ArticleURL:   article.URL,
			ArticleIndex: idx,
			ImageURL:     res.URL,
		}
		if res.Skip {
			rec.SkipReason = res.Reason
			p.items = append(p.items, planItem{record: rec, skip: true})
			continue
		}

		d, ok := byURL[res.URL]
		if !ok {
			name := uniqueFilename(res.URL, usedNames)
			usedNames[strings.ToLower(name)] = true
			d = len(p.downloads)
			p.downloads = append(p.downloads, download{url: res.URL, filename: name})
			byURL[res.URL] = d
		}
		rec.ImagePath = path.Join(article.ID, p.downloads[d].filename)
		p.items = append(p.items, planItem{record: rec, download: d})
	}
	return p
}

// fetchAll downloads every distinct URL concurrently. The returned slice holds
// one error (nil on success) per download.
func (c *Coordinator) fetchAll(ctx context.Context, dir string, p articlePlan) []error {
	outcomes := make([]error, len(p.downloads))
	var g errgroup.Group
	if c.maxFetches > 0 {
		g.SetLimit(c.maxFetches)
	}
	for i, d := range p.downloads {
		g.Go(func() error {
			_, err := c.fetcher.Fetch(ctx, d.url, filepath.Join(dir, d.filename))
			outcomes[i] = err
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// uniqueFilename derives a filename from the URL's last path segment. A hash of the
// URL is appended when the name is unusable, reserved, or already taken in this article.
func uniqueFilename(rawURL string, used map[string]bool) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
	}
	name := utils.SanitizeFilename(base)
	if name == "" {
		return "image_" + utils.ShortHash(rawURL, 12)
	}
	if !used[strings.ToLower(name)] && !reservedNames[strings.ToLower(name)] {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := stem + "_" + utils.ShortHash(rawURL, 8) + ext
	for n := 12; used[strings.ToLower(candidate)] && n <= 64; n += 4 {
		candidate = stem + "_" + utils.ShortHash(rawURL, n) + ext
	}
	return candidate
}

// validateArticleID rejects ids that cannot serve as a single directory name.
func validateArticleID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: article id %q is not a valid directory name", utils.ErrFilesystem, id)
	}
	return nil
}
