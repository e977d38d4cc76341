package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

const (
	ReportFormatCSV    = "csv"
	ReportFormatSQLite = "sqlite"
)

// DefaultSkipSuffixes are page and markup formats that never hold image bytes.
var DefaultSkipSuffixes = []string{".html", ".htm", ".shtml", ".php", ".asp", ".aspx", ".jsp", ".xml", ".js", ".css", ".pdf"}

// DefaultSkipHosts are hosts that serve players and widgets rather than media files.
var DefaultSkipHosts = []string{
	"youtube.com", "*.youtube.com", "youtu.be",
	"twitter.com", "*.twitter.com", "x.com",
	"facebook.com", "*.facebook.com",
	"*.doubleclick.net", "*.googlesyndication.com",
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Directories
	if c.DownloadRoot == "" {
		warnings = append(warnings, "download_root is empty, defaulting to './downloads'")
		c.DownloadRoot = "./downloads"
	}
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './harvester_state'")
		c.StateDir = "./harvester_state"
	}
	if c.ReportDir == "" {
		c.ReportDir = "./reports"
	}

	// ReportFormat
	c.ReportFormat = strings.ToLower(strings.TrimSpace(c.ReportFormat))
	switch c.ReportFormat {
	case "":
		c.ReportFormat = ReportFormatCSV
	case ReportFormatCSV, ReportFormatSQLite:
	default:
		return warnings, fmt.Errorf("%w: report_format must be '%s' or '%s', got '%s'",
			utils.ErrConfigValidation, ReportFormatCSV, ReportFormatSQLite, c.ReportFormat)
	}

	if c.UserAgent == "" {
		c.UserAgent = "media-harvester/1.0"
	}

	// Slicing and workers
	if c.SliceLen <= 0 {
		warnings = append(warnings, "slice_len should be > 0, defaulting to 500")
		c.SliceLen = 500
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
		warnings = append(warnings, fmt.Sprintf("max_workers should be > 0, defaulting to NumCPU (%d)", c.MaxWorkers))
	}
	if c.MaxArticlesPerSlice <= 0 {
		c.MaxArticlesPerSlice = 50
	}
	if c.MaxFetchesPerArticle < 0 {
		warnings = append(warnings, "max_fetches_per_article cannot be negative, setting to 0 (unlimited)")
		c.MaxFetchesPerArticle = 0
	}

	// MaxRequests / MaxRequestsPerHost
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 64")
		c.MaxRequests = 64
	}
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 8")
		c.MaxRequestsPerHost = 8
	}
	if c.MaxRequestsPerHost > c.MaxRequests {
		warnings = append(warnings, fmt.Sprintf(
			"max_requests_per_host (%d) > max_requests (%d), capping per-host limit",
			c.MaxRequestsPerHost, c.MaxRequests))
		c.MaxRequestsPerHost = c.MaxRequests
	}

	// Retry policy
	if c.MaxAttempts < 0 {
		warnings = append(warnings, "max_attempts cannot be negative, setting to 1 (no retries)")
		c.MaxAttempts = 1
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 3 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.MinBackoff > c.MaxBackoff {
		warnings = append(warnings, fmt.Sprintf(
			"min_backoff (%v) > max_backoff (%v), using max_backoff for both",
			c.MinBackoff, c.MaxBackoff))
		c.MinBackoff = c.MaxBackoff
	}

	// FetchTimeout
	if c.FetchTimeout < 0 {
		warnings = append(warnings, "fetch_timeout cannot be negative, defaulting to 5m")
		c.FetchTimeout = 0
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 300 * time.Second
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling delay")
		c.DelayPerHost = 0
	}

	// MaxImageSizeBytes
	if c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "max_image_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxImageSizeBytes = 0
	}

	if c.InsecureSkipVerify {
		warnings = append(warnings, "insecure_skip_verify is enabled, TLS certificates will not be checked")
	}

	c.validateHTTPClientSettings()
	c.validateResolver()

	filterWarnings, err := c.Filter.Validate()
	warnings = append(warnings, filterWarnings...)
	if err != nil {
		return warnings, err
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxRequestsPerHost
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateResolver fills empty skip lists and normalizes suffix/host case.
func (c *AppConfig) validateResolver() {
	r := &c.Resolver
	if r.SkipSuffixes == nil {
		r.SkipSuffixes = append([]string(nil), DefaultSkipSuffixes...)
	}
	if r.SkipHosts == nil {
		r.SkipHosts = append([]string(nil), DefaultSkipHosts...)
	}
	if r.EmbedMarkers == nil {
		r.EmbedMarkers = []string{"embed"}
	}
	for i, s := range r.SkipSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		r.SkipSuffixes[i] = s
	}
	for i, h := range r.SkipHosts {
		r.SkipHosts[i] = strings.ToLower(strings.TrimSpace(h))
	}
}

// Validate checks the quality predicate and applies defaults.
func (f *FilterConfig) Validate() (warnings []string, err error) {
	if f.MinDimension < 0 {
		warnings = append(warnings, "filter.min_dimension cannot be negative, setting to 64")
		f.MinDimension = 0
	}
	if f.MinDimension == 0 {
		f.MinDimension = 64
	}
	if f.MinAspectRatio < 0 || f.MaxAspectRatio < 0 {
		return warnings, fmt.Errorf("%w: filter aspect ratio bounds cannot be negative", utils.ErrConfigValidation)
	}
	if f.MinAspectRatio == 0 {
		f.MinAspectRatio = 0.25
	}
	if f.MaxAspectRatio == 0 {
		f.MaxAspectRatio = 4
	}
	if f.MinAspectRatio > f.MaxAspectRatio {
		return warnings, fmt.Errorf("%w: filter.min_aspect_ratio (%g) > filter.max_aspect_ratio (%g)",
			utils.ErrConfigValidation, f.MinAspectRatio, f.MaxAspectRatio)
	}
	return warnings, nil
}
