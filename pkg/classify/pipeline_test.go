package classify

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/media-harvester/pkg/acquire"
	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/orchestrate"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
	"github.com/Sriram-PR/media-harvester/pkg/storage"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{DownloadRoot: t.TempDir(), StateDir: t.TempDir(), MaxArticlesPerSlice: 2}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

// noopAcquirer lets tests obtain real completion tokens for hand-built article directories.
type noopAcquirer struct{ root string }

func (n noopAcquirer) LangRoot() string { return n.root }

func (n noopAcquirer) AcquireArticle(_ context.Context, a models.Article) (*acquire.ArticleResult, error) {
	return &acquire.ArticleResult{ArticleID: a.ID}, nil
}

func tokenFor(t *testing.T, langRoot string, ids ...string) *orchestrate.Completion {
	t.Helper()
	articles := make([]models.Article, len(ids))
	for i, id := range ids {
		articles[i] = models.Article{ID: id}
	}
	o := orchestrate.NewOrchestrator(&config.AppConfig{SliceLen: len(ids), MaxWorkers: 1}, noopAcquirer{langRoot}, nil, testLogger())
	b, err := o.Start(context.Background(), articles, orchestrate.Options{Language: "en", RunID: "test-run"})
	require.NoError(t, err)
	token, err := b.Futures()[0].Wait(context.Background())
	require.NoError(t, err)
	return token
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func record(articleID string, idx int, url, relPath string) models.MediaRecord {
	return models.MediaRecord{
		ID:           models.ItemID(articleID, idx),
		ImagePath:    relPath,
		ArticleID:    articleID,
		ArticleURL:   "http://site.test/" + articleID,
		ArticleIndex: idx,
		ImageURL:     url,
	}
}

func writeStage(t *testing.T, dir string, s models.Status, recs ...models.MediaRecord) {
	t.Helper()
	require.NoError(t, statusstore.Write(statusstore.StagePath(dir, s), recs))
}

func readTerminal(t *testing.T, dir string, s models.Status) []models.MediaRecord {
	t.Helper()
	recs, err := statusstore.Read(statusstore.TerminalPath(dir, s))
	require.NoError(t, err)
	return recs
}

// storeSnapshot reads every file under dir, keyed by relative path
func storeSnapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		rel, _ := filepath.Rel(dir, p)
		out[rel] = string(b)
		return err
	}))
	return out
}

// assertAtMostOneStore checks that no Id is claimed by two terminal stores
func assertAtMostOneStore(t *testing.T, dir string) {
	t.Helper()
	seen := map[string]models.Status{}
	for _, s := range statusstore.TerminalStatuses {
		for _, r := range readTerminal(t, dir, s) {
			prev, dup := seen[r.ID]
			assert.False(t, dup, "id %s in both %s and %s", r.ID, prev, s)
			seen[r.ID] = s
		}
	}
}

func TestClassifySlice_AllOutcomes(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "A")

	writePNG(t, filepath.Join(dir, "big.png"), 200, 150)
	writePNG(t, filepath.Join(dir, "small.png"), 50, 50)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0644))

	writeStage(t, dir, models.StatusSuccessful,
		record("A", 0, "http://site.test/big.png", "A/big.png"),
		record("A", 1, "http://site.test/small.png", "A/small.png"),
		record("A", 2, "http://site.test/broken.png", "A/broken.png"),
		record("A", 3, "http://site.test/gone.png", "A/gone.png"),
	)
	skipped := record("A", 4, "http://site.test/page.html", "")
	skipped.SkipReason = "non-image suffix .html"
	writeStage(t, dir, models.StatusSkipped, skipped)
	failed := record("A", 5, "http://bad.test/x.png", "A/x.png")
	failed.SetFailure(utils.ErrNetwork, "NetworkError_Other")
	writeStage(t, dir, models.StatusException, failed)

	stats, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "A"))
	require.NoError(t, err)
	assert.Equal(t, Stats{Articles: 1, Useful: 1, Filtered: 1, Corrupt: 1, Missing: 1, Skipped: 1, Exceptions: 1}, *stats)

	useful := readTerminal(t, dir, models.StatusUseful)
	require.Len(t, useful, 1)
	assert.Equal(t, "A/useful/big.png", useful[0].ImagePath)
	require.NotNil(t, useful[0].ImageMetrics)
	assert.Equal(t, "PNG", useful[0].Format)
	assert.Equal(t, 200, useful[0].Width)
	assert.InDelta(t, 1.3333, useful[0].AspectRatio, 0.0001)
	assert.FileExists(t, filepath.Join(dir, "useful", "big.png"))
	assert.NoFileExists(t, filepath.Join(dir, "big.png"))

	filtered := readTerminal(t, dir, models.StatusFiltered)
	require.Len(t, filtered, 1)
	assert.Equal(t, "A/filtered/small.png", filtered[0].ImagePath)
	assert.NotEmpty(t, filtered[0].FilterReason)
	assert.FileExists(t, filepath.Join(dir, "filtered", "small.png"))

	corrupt := readTerminal(t, dir, models.StatusCorrupt)
	require.Len(t, corrupt, 1)
	assert.Equal(t, "A/corrupted/broken.png", corrupt[0].ImagePath)
	require.NotNil(t, corrupt[0].Failure)
	assert.Equal(t, "DecodeError", corrupt[0].Kind)
	assert.FileExists(t, filepath.Join(dir, "corrupted", "broken.png"))

	missing := readTerminal(t, dir, models.StatusMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, "A_3", missing[0].ID)

	assert.Equal(t, []models.MediaRecord{skipped}, readTerminal(t, dir, models.StatusSkipped))
	exc := readTerminal(t, dir, models.StatusException)
	require.Len(t, exc, 1)
	assert.Equal(t, "NetworkError_Other", exc[0].Kind)

	for _, s := range statusstore.StageStatuses {
		assert.NoFileExists(t, statusstore.StagePath(dir, s))
	}
	assertAtMostOneStore(t, dir)
}

func TestClassifySlice_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "B")
	writePNG(t, filepath.Join(dir, "a.png"), 100, 100)
	writePNG(t, filepath.Join(dir, "b.png"), 10, 300)
	stage := []models.MediaRecord{
		record("B", 0, "http://site.test/a.png", "B/a.png"),
		record("B", 1, "http://site.test/b.png", "B/b.png"),
	}
	writeStage(t, dir, models.StatusSuccessful, stage...)

	p := NewPipeline(cfg, nil, testLogger())
	_, err := p.ClassifySlice(context.Background(), tokenFor(t, root, "B"))
	require.NoError(t, err)
	first := storeSnapshot(t, dir)

	// Second run with nothing left to do
	stats, err := p.ClassifySlice(context.Background(), tokenFor(t, root, "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Untouched)
	assert.Equal(t, first, storeSnapshot(t, dir))

	// Crash after the terminal stores were written but before stage files were removed
	writeStage(t, dir, models.StatusSuccessful, stage...)
	stats, err = p.ClassifySlice(context.Background(), tokenFor(t, root, "B"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, first, storeSnapshot(t, dir))
}

func TestClassifySlice_FilteredSmallImage(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "C")
	writePNG(t, filepath.Join(dir, "icon.png"), 50, 50)
	writeStage(t, dir, models.StatusSuccessful, record("C", 0, "http://site.test/icon.png", "C/icon.png"))

	_, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "C"))
	require.NoError(t, err)

	filtered := readTerminal(t, dir, models.StatusFiltered)
	require.Len(t, filtered, 1)
	assert.Equal(t, 50, filtered[0].Width)
	assert.FileExists(t, filepath.Join(dir, "filtered", "icon.png"))
	assert.Empty(t, readTerminal(t, dir, models.StatusUseful))
}

func TestClassifySlice_DuplicateURLSharesOutcome(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "D")
	writePNG(t, filepath.Join(dir, "logo.png"), 120, 120)
	url := "http://site.test/img/logo.png"
	writeStage(t, dir, models.StatusSuccessful,
		record("D", 2, url, "D/logo.png"),
		record("D", 5, url, "D/logo.png"),
	)

	stats, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "D"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Useful)
	assert.Equal(t, 1, stats.ResolvedByURL)

	useful := readTerminal(t, dir, models.StatusUseful)
	require.Len(t, useful, 2)
	assert.Equal(t, "D/useful/logo.png", useful[0].ImagePath)
	assert.Equal(t, useful[0].ImagePath, useful[1].ImagePath)
	assert.Equal(t, useful[0].ImageMetrics, useful[1].ImageMetrics)
}

func TestClassifySlice_ResolvesFromPersistedStore(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "E")
	url := "http://site.test/photo.png"

	prior := record("E", 0, url, "E/useful/photo.png")
	prior.ImageMetrics = &models.ImageMetrics{Format: "PNG", Width: 300, Height: 200, AspectRatio: 1.5}
	require.NoError(t, statusstore.Write(statusstore.TerminalPath(dir, models.StatusUseful), []models.MediaRecord{prior}))
	writeStage(t, dir, models.StatusSuccessful, record("E", 3, url, "E/photo.png"))

	_, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "E"))
	require.NoError(t, err)

	useful := readTerminal(t, dir, models.StatusUseful)
	require.Len(t, useful, 2)
	assert.Equal(t, "E_3", useful[1].ID)
	assert.Equal(t, "E/useful/photo.png", useful[1].ImagePath)
	assert.Equal(t, 300, useful[1].Width)
	assertAtMostOneStore(t, dir)
}

func TestClassifySlice_RecoversMovedFile(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "F")
	// A crash happened after the move but before any store was written
	writePNG(t, filepath.Join(dir, "useful", "pic.png"), 90, 90)
	writeStage(t, dir, models.StatusSuccessful, record("F", 0, "http://site.test/pic.png", "F/pic.png"))

	stats, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "F"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)

	useful := readTerminal(t, dir, models.StatusUseful)
	require.Len(t, useful, 1)
	assert.Equal(t, "F/useful/pic.png", useful[0].ImagePath)
	assert.Empty(t, readTerminal(t, dir, models.StatusMissing))
}

func TestClassifySlice_UsefulInPlace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter.UsefulInPlace = true
	root := cfg.LanguageRoot("en")
	dir := filepath.Join(root, "G")
	writePNG(t, filepath.Join(dir, "keep.png"), 100, 80)
	writeStage(t, dir, models.StatusSuccessful, record("G", 0, "http://site.test/keep.png", "G/keep.png"))

	_, err := NewPipeline(cfg, nil, testLogger()).ClassifySlice(context.Background(), tokenFor(t, root, "G"))
	require.NoError(t, err)

	useful := readTerminal(t, dir, models.StatusUseful)
	require.Len(t, useful, 1)
	assert.Equal(t, "G/keep.png", useful[0].ImagePath)
	assert.FileExists(t, filepath.Join(dir, "keep.png"))
}

func TestClassifySlice_BrokenStoreFailsOnlyThatArticle(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.LanguageRoot("en")
	bad := filepath.Join(root, "H1")
	good := filepath.Join(root, "H2")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(statusstore.StagePath(bad, models.StatusSuccessful), []byte("{broken"), 0644))
	writePNG(t, filepath.Join(good, "ok.png"), 100, 100)
	writeStage(t, good, models.StatusSuccessful, record("H2", 0, "http://site.test/ok.png", "H2/ok.png"))

	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	token := tokenFor(t, root, "H1", "H2")
	require.NoError(t, store.MarkSliceAcquired(models.SliceCheckpoint{Language: "en", Start: 0, End: 2}))

	stats, err := NewPipeline(cfg, store, testLogger()).ClassifySlice(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrParsing)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Useful)

	cp, _, err := store.GetSlice("en", 0, 2)
	require.NoError(t, err)
	assert.False(t, cp.Classified, "a slice with failed articles stays unclassified")

	// Fix the store and classify again: the checkpoint is now marked
	require.NoError(t, os.Remove(statusstore.StagePath(bad, models.StatusSuccessful)))
	_, err = NewPipeline(cfg, store, testLogger()).ClassifySlice(context.Background(), token)
	require.NoError(t, err)
	cp, _, err = store.GetSlice("en", 0, 2)
	require.NoError(t, err)
	assert.True(t, cp.Classified)
}

func TestClassifySlice_RequiresToken(t *testing.T) {
	_, err := NewPipeline(testConfig(t), nil, testLogger()).ClassifySlice(context.Background(), nil)
	assert.Error(t, err)
}
