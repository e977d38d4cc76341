package reconcile

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/imaging"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/resolve"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
)

// Row is one line of the reduced report: one per media link of the metadata file.
type Row struct {
	ID          string
	ImageURL    string
	ArticleID   string
	ArticleIdx  int
	ArticleURL  string
	ArticleLang string
	Status      models.Status
	Path        string               // Only for statuses that own a file
	Metrics     *models.ImageMetrics // Nil when the item was never measured
}

// Counts tallies emitted rows
type Counts struct {
	Rows             int
	ByStatus         map[models.Status]int
	UnreadableStores int // Articles whose stores could not be read; their items count as MISSING
	MeasuredOnTheFly int
}

// Reducer derives the final status of every media link from the per-article stores.
type Reducer struct {
	langRoot string
	lang     string
	resolver *resolve.Resolver
	log      *logrus.Entry
}

// NewReducer creates a Reducer for one language root. lang fills ArticleLang when an
// article carries none.
func NewReducer(langRoot, lang string, resolver *resolve.Resolver, log *logrus.Entry) *Reducer {
	return &Reducer{langRoot: langRoot, lang: lang, resolver: resolver, log: log}
}

// idPrecedence is the order stores are searched by Id. Stage-local stores sit next to
// their terminal counterpart, so an article caught between the two resolves the same way.
var idPrecedence = []struct {
	status models.Status
	stage  bool
}{
	{models.StatusUseful, false},
	{models.StatusSuccessful, true},
	{models.StatusSkipped, false},
	{models.StatusSkipped, true},
	{models.StatusException, false},
	{models.StatusException, true},
	{models.StatusFiltered, false},
	{models.StatusCorrupt, false},
	{models.StatusMissing, false},
}

// urlFallback statuses are searched by Image URL when the Id is claimed nowhere.
var urlFallback = []models.Status{models.StatusFiltered, models.StatusCorrupt}

type match struct {
	rec    models.MediaRecord
	status models.Status
}

// articleIndex is the lookup structure for one article's stores
type articleIndex struct {
	byID  map[string]match
	byURL map[string]match
}

func buildIndex(a *statusstore.ArticleStores) articleIndex {
	idx := articleIndex{byID: map[string]match{}, byURL: map[string]match{}}
	for _, p := range idPrecedence {
		recs := a.Terminal[p.status]
		if p.stage {
			recs = a.Stage[p.status]
		}
		for _, r := range recs {
			if _, ok := idx.byID[r.ID]; !ok {
				idx.byID[r.ID] = match{r, p.status}
			}
		}
	}
	for _, s := range urlFallback {
		for _, r := range a.Terminal[s] {
			if _, ok := idx.byURL[r.ImageURL]; !ok {
				idx.byURL[r.ImageURL] = match{r, s}
			}
		}
	}
	return idx
}

// Reduce emits exactly one Row per media link of articles, in metadata order.
// A failing emit stops the reduction and its error is returned.
func (r *Reducer) Reduce(ctx context.Context, articles []models.Article, emit func(Row) error) (*Counts, error) {
	counts := &Counts{ByStatus: map[models.Status]int{}}
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		stores, err := statusstore.LoadArticle(statusstore.ArticleDir(r.langRoot, article.ID))
		if err != nil {
			r.log.WithField("article_id", article.ID).Errorf("Unreadable stores, reporting items as MISSING: %v", err)
			counts.UnreadableStores++
			stores = &statusstore.ArticleStores{}
		}
		idx := buildIndex(stores)

		lang := article.Lang
		if lang == "" {
			lang = r.lang
		}
		for i, raw := range article.MediaLinks {
			row := r.reduceItem(article, i, raw, idx, counts)
			row.ArticleLang = lang
			counts.Rows++
			counts.ByStatus[row.Status]++
			if err := emit(row); err != nil {
				return counts, err
			}
		}
	}
	return counts, nil
}

func (r *Reducer) reduceItem(article models.Article, i int, raw string, idx articleIndex, counts *Counts) Row {
	res := r.resolver.Resolve(raw, article.URL)
	imageURL := res.URL
	if imageURL == "" {
		imageURL = raw
	}
	row := Row{
		ID:         models.ItemID(article.ID, i),
		ImageURL:   imageURL,
		ArticleID:  article.ID,
		ArticleIdx: i,
		ArticleURL: article.URL,
		Status:     models.StatusMissing,
	}

	m, ok := idx.byID[row.ID]
	if !ok {
		m, ok = idx.byURL[imageURL]
	}
	if !ok {
		return row
	}
	row.Status = m.status
	if !m.status.HasFile() {
		return row
	}

	row.Path = m.rec.ImagePath
	row.Metrics = m.rec.ImageMetrics
	if row.Metrics == nil && m.status != models.StatusCorrupt && row.Path != "" {
		metrics, err := imaging.Inspect(filepath.Join(r.langRoot, filepath.FromSlash(row.Path)))
		if err != nil {
			r.log.WithField("id", row.ID).Debugf("Could not measure file: %v", err)
		} else {
			row.Metrics = metrics
			counts.MeasuredOnTheFly++
		}
	}
	return row
}
