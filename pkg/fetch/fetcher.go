package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// Result describes one successful download
type Result struct {
	URL         string
	Path        string
	Bytes       int64
	ContentType string
	Attempts    int
	Duration    time.Duration
}

// Error is returned for every failed fetch. Err wraps one of the utils sentinels.
type Error struct {
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch '%s' failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher downloads one URL to one file with retries, an overall timeout,
// concurrency limits and cleanup of partial files.
type Fetcher struct {
	client    *http.Client
	policy    RetryPolicy
	limits    *Limits
	rate      *RateLimiter
	userAgent string
	maxBytes  int64 // 0 = unlimited
	log       *logrus.Entry
}

// NewFetcher creates a Fetcher from validated configuration. limits may be shared between Fetchers.
func NewFetcher(client *http.Client, cfg *config.AppConfig, limits *Limits, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:    client,
		policy:    PolicyFromConfig(cfg),
		limits:    limits,
		rate:      NewRateLimiter(cfg.DelayPerHost, log),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxImageSizeBytes,
		log:       log,
	}
}

// Fetch downloads rawURL into destPath.
//
// The body is streamed into a temporary file beside destPath and renamed over it
// only once complete, so on success exactly one non-empty file exists at destPath
// and on failure any earlier file at destPath is left as it was. The returned
// *Error wraps one of
// ErrTransientNetwork (retries exhausted), ErrNetwork, ErrResponseStatus,
// ErrEmptyBody, ErrTooLarge, ErrFilesystem, ErrRequestCreation or ErrFetchTimeout.
// Waiting for a concurrency permit does not count against the timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (*Result, error) {
	start := time.Now()
	fetchLog := f.log.WithField("url", rawURL)

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("%w: %s", utils.ErrRequestCreation, rawURL)}
	}
	host := strings.ToLower(u.Hostname())

	if f.limits != nil {
		release, err := f.limits.Acquire(ctx, host)
		if err != nil {
			return nil, &Error{URL: rawURL, Err: fmt.Errorf("waiting for download slot: %w", err)}
		}
		defer release()
	}

	attemptCtx := ctx
	if f.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.policy.Timeout)
		defer cancel()
	}

	maxAttempts := max(f.policy.MaxAttempts, 1)
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if attempt > 0 {
			delay := f.policy.Backoff()
			fetchLog.WithFields(logrus.Fields{"attempt": attempt + 1, "max_attempts": maxAttempts, "delay": delay}).
				Warnf("Retrying after %v", lastErr)
			if err := sleepContext(attemptCtx, delay); err != nil {
				break
			}
		}
		attempt++

		var res *Result
		res, lastErr = f.attempt(attemptCtx, rawURL, host, destPath)
		if lastErr == nil {
			res.Attempts = attempt
			res.Duration = time.Since(start)
			fetchLog.WithFields(logrus.Fields{"bytes": res.Bytes, "attempts": attempt}).Debug("Downloaded")
			return res, nil
		}
		if attemptCtx.Err() != nil || !f.policy.ShouldRetry(lastErr, attempt) {
			break
		}
	}

	// Budget exhausted: distinct from a plain network failure
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		lastErr = fmt.Errorf("%w after %v (last error: %v)", utils.ErrFetchTimeout, f.policy.Timeout, lastErr)
	} else if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, &Error{URL: rawURL, Attempts: attempt, Err: lastErr}
}

// attempt performs one GET and streams the body to destPath.
// Any error leaves destPath untouched.
func (f *Fetcher) attempt(ctx context.Context, rawURL, host, destPath string) (*Result, error) {
	if err := f.rate.Wait(ctx, host); err != nil {
		return nil, err
	}
	defer f.rate.Touch(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) // Let the connection be reused
		return nil, fmt.Errorf("%w: status %d", utils.ErrResponseStatus, resp.StatusCode)
	}

	if f.maxBytes > 0 {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if size, perr := strconv.ParseInt(cl, 10, 64); perr == nil && size > f.maxBytes {
				return nil, fmt.Errorf("%w: Content-Length %d > %d bytes", utils.ErrTooLarge, size, f.maxBytes)
			}
		}
	}

	n, err := writeBody(resp.Body, destPath, f.maxBytes, f.log)
	if err != nil {
		return nil, err
	}
	return &Result{URL: rawURL, Path: destPath, Bytes: n, ContentType: resp.Header.Get("Content-Type")}, nil
}

// writeBody streams body into a temporary file in destPath's directory and renames
// it over destPath once the body is complete and non-empty.
func writeBody(body io.Reader, destPath string, maxBytes int64, log *logrus.Entry) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, destPath, err)
	}
	out, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+partSuffix+"*")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp file for '%s': %w", utils.ErrFilesystem, destPath, err)
	}
	tmpPath := out.Name()

	reader := body
	if maxBytes > 0 {
		reader = io.LimitReader(body, maxBytes+1)
	}
	n, copyErr := io.Copy(out, reader)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		err = classifyTransportError(copyErr)
	case closeErr != nil:
		err = fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpPath, closeErr)
	case maxBytes > 0 && n > maxBytes:
		err = fmt.Errorf("%w: body exceeds %d bytes", utils.ErrTooLarge, maxBytes)
	case n == 0:
		err = utils.ErrEmptyBody
	}
	if err == nil {
		// CreateTemp uses 0600
		if chmodErr := os.Chmod(tmpPath, 0644); chmodErr != nil {
			err = fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpPath, chmodErr)
		} else if renameErr := os.Rename(tmpPath, destPath); renameErr != nil {
			err = fmt.Errorf("%w: renaming into '%s': %w", utils.ErrFilesystem, destPath, renameErr)
		}
	}
	if err != nil {
		removeFile(tmpPath, log)
		return n, err
	}
	return n, nil
}

// partSuffix marks in-progress downloads: ".<name>.part-<random>"
const partSuffix = ".part-"

// RemovePartials deletes in-progress downloads left in dir by an interrupted run.
// It must not run while downloads into dir are in flight.
func RemovePartials(dir string, log *logrus.Entry) int {
	matches, _ := filepath.Glob(filepath.Join(dir, ".*"+partSuffix+"*"))
	for _, m := range matches {
		removeFile(m, log)
	}
	if len(matches) > 0 {
		log.WithField("dir", dir).Debugf("Removed %d partial download(s)", len(matches))
	}
	return len(matches)
}

// removeFile deletes a partial download; a missing file is not an error.
func removeFile(path string, log *logrus.Entry) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithField("path", path).Warnf("Failed to remove partial download: %v", err)
	}
}
