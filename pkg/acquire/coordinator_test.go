package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/fetch"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/resolve"
	"github.com/Sriram-PR/media-harvester/pkg/statusstore"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		DownloadRoot: t.TempDir(),
		StateDir:     t.TempDir(),
		MaxAttempts:  1,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   time.Millisecond,
		FetchTimeout: 5 * time.Second,
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

// fakeFetcher writes a fixed body for known URLs and fails the rest.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, destPath string) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	body, ok := f.bodies[rawURL]
	f.mu.Unlock()
	if !ok {
		return nil, &fetch.Error{URL: rawURL, Attempts: 1, Err: fmt.Errorf("%w: lookup bad.test: no such host", utils.ErrNetwork)}
	}
	if err := os.WriteFile(destPath, []byte(body), 0644); err != nil {
		return nil, err
	}
	return &fetch.Result{URL: rawURL, Path: destPath, Bytes: int64(len(body)), Attempts: 1}, nil
}

func newTestCoordinator(t *testing.T, cfg *config.AppConfig, f Fetcher) *Coordinator {
	t.Helper()
	return NewCoordinator(cfg.LanguageRoot("test"), resolve.New(cfg.Resolver), f, cfg.MaxFetchesPerArticle, testLogger())
}

func readStage(t *testing.T, dir string, s models.Status) []models.MediaRecord {
	t.Helper()
	recs, err := statusstore.Read(statusstore.StagePath(dir, s))
	require.NoError(t, err)
	return recs
}

func TestAcquireArticle_Scenario(t *testing.T) {
	cfg := testConfig(t)
	ff := newFakeFetcher(map[string]string{"http://site.test/img/a.jpg": "jpeg bytes"})
	c := newTestCoordinator(t, cfg, ff)

	article := models.Article{
		ID:         "A1",
		URL:        "http://site.test/news/1",
		MediaLinks: []string{"/img/a.jpg", "http://bad.test/x.png", "http://cdn.test/y.html"},
	}
	res, err := c.AcquireArticle(context.Background(), article)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Exceptions)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.ExceptionKinds["NetworkError_DNSLookup"])
	assert.Equal(t, 0, ff.calls["http://cdn.test/y.html"], "skipped links never reach the fetcher")

	dir := filepath.Join(c.LangRoot(), "A1")
	succ := readStage(t, dir, models.StatusSuccessful)
	require.Len(t, succ, 1)
	assert.Equal(t, "A1_0", succ[0].ID)
	assert.Equal(t, "http://site.test/img/a.jpg", succ[0].ImageURL)
	assert.Equal(t, "A1/a.jpg", succ[0].ImagePath)
	assert.Nil(t, succ[0].Failure)
	assert.FileExists(t, filepath.Join(dir, "a.jpg"))

	exc := readStage(t, dir, models.StatusException)
	require.Len(t, exc, 1)
	assert.Equal(t, "A1_1", exc[0].ID)
	require.NotNil(t, exc[0].Failure)
	assert.Contains(t, exc[0].Exception, "[Exception]: ")
	assert.Equal(t, "NetworkError_DNSLookup", exc[0].Kind)

	skp := readStage(t, dir, models.StatusSkipped)
	require.Len(t, skp, 1)
	assert.Equal(t, "A1_2", skp[0].ID)
	assert.Contains(t, skp[0].SkipReason, resolve.ReasonSuffix)
}

func TestAcquireArticle_EmptyListsProduceNoFile(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, newFakeFetcher(map[string]string{"http://site.test/a.png": "x"}))

	res, err := c.AcquireArticle(context.Background(), models.Article{
		ID: "A2", URL: "http://site.test/p", MediaLinks: []string{"/a.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)

	dir := filepath.Join(c.LangRoot(), "A2")
	assert.FileExists(t, statusstore.StagePath(dir, models.StatusSuccessful))
	assert.NoFileExists(t, statusstore.StagePath(dir, models.StatusSkipped))
	assert.NoFileExists(t, statusstore.StagePath(dir, models.StatusException))
}

func TestAcquireArticle_RerunReplacesStaleState(t *testing.T) {
	cfg := testConfig(t)
	ff := newFakeFetcher(map[string]string{})
	c := newTestCoordinator(t, cfg, ff)
	article := models.Article{ID: "A3", URL: "http://site.test/p", MediaLinks: []string{"/a.png", "/b.png"}}

	// First run: everything fails
	_, err := c.AcquireArticle(context.Background(), article)
	require.NoError(t, err)
	dir := filepath.Join(c.LangRoot(), "A3")
	assert.Len(t, readStage(t, dir, models.StatusException), 2)

	// Second run: everything succeeds; the exceptions file must disappear
	ff.bodies["http://site.test/a.png"] = "a"
	ff.bodies["http://site.test/b.png"] = "b"
	res, err := c.AcquireArticle(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Len(t, readStage(t, dir, models.StatusSuccessful), 2)
	assert.NoFileExists(t, statusstore.StagePath(dir, models.StatusException))
}

func TestAcquireArticle_DuplicateURLsShareDownload(t *testing.T) {
	cfg := testConfig(t)
	ff := newFakeFetcher(map[string]string{
		"http://site.test/img/logo.png":  "logo",
		"http://other.test/img/logo.png": "other logo",
	})
	c := newTestCoordinator(t, cfg, ff)

	article := models.Article{ID: "A4", URL: "http://site.test/p", MediaLinks: []string{
		"/x.html", "http://other.test/img/logo.png", "/img/logo.png", "/y.html", "/z.html", "/img/logo.png",
	}}
	res, err := c.AcquireArticle(context.Background(), article)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Successful)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, ff.calls["http://site.test/img/logo.png"], "duplicate URL is fetched once")

	dir := filepath.Join(c.LangRoot(), "A4")
	succ := readStage(t, dir, models.StatusSuccessful)
	require.Len(t, succ, 3)
	byIdx := map[int]models.MediaRecord{}
	for _, r := range succ {
		byIdx[r.ArticleIndex] = r
	}
	assert.Equal(t, byIdx[2].ImagePath, byIdx[5].ImagePath)
	assert.NotEqual(t, byIdx[1].ImagePath, byIdx[2].ImagePath, "distinct URLs get distinct files")
	assert.Equal(t, "A4/logo.png", byIdx[1].ImagePath)
}

func TestAcquireArticle_PartitionCompleteness(t *testing.T) {
	cfg := testConfig(t)
	bodies := map[string]string{}
	var links []string
	for i := range 40 {
		switch i % 4 {
		case 0:
			links = append(links, fmt.Sprintf("/ok/%d.jpg", i))
			bodies[fmt.Sprintf("http://site.test/ok/%d.jpg", i)] = "x"
		case 1:
			links = append(links, fmt.Sprintf("http://down.test/%d.png", i))
		case 2:
			links = append(links, fmt.Sprintf("http://site.test/page%d.html", i))
		case 3:
			links = append(links, "/ok/0.jpg") // duplicate of index 0
		}
	}
	cfg.MaxFetchesPerArticle = 3
	c := newTestCoordinator(t, cfg, newFakeFetcher(bodies))

	res, err := c.AcquireArticle(context.Background(), models.Article{ID: "P1", URL: "http://site.test/p", MediaLinks: links})
	require.NoError(t, err)
	assert.Equal(t, len(links), res.Successful+res.Skipped+res.Exceptions)

	dir := filepath.Join(c.LangRoot(), "P1")
	seen := map[string]bool{}
	for _, s := range statusstore.StageStatuses {
		for _, r := range readStage(t, dir, s) {
			assert.False(t, seen[r.ID], "id %s in two stores", r.ID)
			seen[r.ID] = true
		}
	}
	assert.Len(t, seen, len(links))
}

func TestAcquireArticle_AlreadyClassifiedUntouched(t *testing.T) {
	cfg := testConfig(t)
	ff := newFakeFetcher(map[string]string{"http://site.test/a.png": "a"})
	c := newTestCoordinator(t, cfg, ff)

	dir := filepath.Join(c.LangRoot(), "A5")
	useful := models.MediaRecord{ID: "A5_0", ImagePath: "A5/useful/a.png", ArticleID: "A5", ImageURL: "http://site.test/a.png"}
	require.NoError(t, statusstore.Write(statusstore.TerminalPath(dir, models.StatusUseful), []models.MediaRecord{useful}))

	res, err := c.AcquireArticle(context.Background(), models.Article{ID: "A5", URL: "http://site.test/p", MediaLinks: []string{"/a.png"}})
	require.NoError(t, err)
	assert.True(t, res.AlreadyClassified)
	assert.Empty(t, ff.calls)
	assert.NoFileExists(t, statusstore.StagePath(dir, models.StatusSuccessful))
}

func TestAcquireArticle_FatalErrors(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, newFakeFetcher(nil))

	_, err := c.AcquireArticle(context.Background(), models.Article{ID: "../escape", MediaLinks: []string{"/a.png"}})
	assert.ErrorIs(t, err, utils.ErrFilesystem)

	// Language root is a file: the article directory cannot be created
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0644))
	c2 := NewCoordinator(blocked, resolve.New(cfg.Resolver), newFakeFetcher(nil), 0, testLogger())
	_, err = c2.AcquireArticle(context.Background(), models.Article{ID: "A6", MediaLinks: []string{"/a.png"}})
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestAcquireArticle_CancelledWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, newFakeFetcher(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AcquireArticle(ctx, models.Article{ID: "A7", URL: "http://site.test/p", MediaLinks: []string{"/a.png"}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoFileExists(t, statusstore.StagePath(filepath.Join(c.LangRoot(), "A7"), models.StatusException))
}

func TestAcquireArticle_WithHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img/a.jpg" {
			w.Write([]byte("jpeg"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testConfig(t)
	log := testLogger()
	limits := fetch.NewLimits(cfg.MaxRequests, fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, log))
	f := fetch.NewFetcher(fetch.NewClient(cfg, log), cfg, limits, log)
	c := newTestCoordinator(t, cfg, f)

	res, err := c.AcquireArticle(context.Background(), models.Article{
		ID: "H1", URL: server.URL + "/article", MediaLinks: []string{"/img/a.jpg", "/img/missing.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Exceptions)
	assert.Equal(t, 1, res.ExceptionKinds["NonTransientResponseError_HTTP_404"])
	assert.NoFileExists(t, filepath.Join(c.LangRoot(), "H1", "missing.png"))
}

// An interrupted re-acquisition must leave the previous download where its record says it is.
func TestAcquireArticle_InterruptedRerunKeepsPreviousFile(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Write([]byte("complete jpeg"))
			return
		}
		// Declare a large body, send a few bytes, then stall
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig(t)
	log := testLogger()
	limits := fetch.NewLimits(cfg.MaxRequests, fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, log))
	c := newTestCoordinator(t, cfg, fetch.NewFetcher(fetch.NewClient(cfg, log), cfg, limits, log))
	article := models.Article{ID: "R1", URL: server.URL + "/article", MediaLinks: []string{"/img/p.jpg"}}

	_, err := c.AcquireArticle(context.Background(), article)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = c.AcquireArticle(ctx, article)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	dir := filepath.Join(c.LangRoot(), "R1")
	succ := readStage(t, dir, models.StatusSuccessful)
	require.Len(t, succ, 1)
	assert.Equal(t, "R1/p.jpg", succ[0].ImagePath)
	got, err := os.ReadFile(filepath.Join(c.LangRoot(), succ[0].ImagePath))
	require.NoError(t, err)
	assert.Equal(t, "complete jpeg", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".part-")
	}
}

func TestAcquireArticle_RemovesLeftoverPartials(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg, newFakeFetcher(map[string]string{"http://site.test/a.png": "x"}))
	dir := filepath.Join(c.LangRoot(), "A8")
	require.NoError(t, os.MkdirAll(dir, 0755))
	leftover := filepath.Join(dir, ".a.png.part-42")
	require.NoError(t, os.WriteFile(leftover, []byte("half"), 0644))

	_, err := c.AcquireArticle(context.Background(), models.Article{ID: "A8", URL: "http://site.test/p", MediaLinks: []string{"/a.png"}})

	require.NoError(t, err)
	assert.NoFileExists(t, leftover)
	assert.FileExists(t, filepath.Join(dir, "a.png"))
}

func TestUniqueFilename(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "a.jpg", uniqueFilename("http://site.test/img/a.jpg", used))
	assert.Equal(t, "my photo.jpg", uniqueFilename("http://site.test/my%20photo.jpg", used))

	used["a.jpg"] = true
	name := uniqueFilename("http://other.test/a.jpg", used)
	assert.NotEqual(t, "a.jpg", name)
	assert.Regexp(t, `^a_[0-9a-f]{8}\.jpg$`, name)

	assert.Regexp(t, `^image_[0-9a-f]{12}$`, uniqueFilename("http://site.test/", used))
	assert.NotEqual(t, "useful", uniqueFilename("http://site.test/useful", used))
	assert.NotEqual(t, "successful_metadata.json", uniqueFilename("http://site.test/successful_metadata.json", used))
	assert.NotEqual(t, "useful_metadata.json", uniqueFilename("http://site.test/useful_metadata.json", used))
}
