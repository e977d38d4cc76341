package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	DownloadRoot         string           `yaml:"download_root"`
	StateDir             string           `yaml:"state_dir"`
	ReportDir            string           `yaml:"report_dir"`
	ReportFormat         string           `yaml:"report_format,omitempty"` // "csv" or "sqlite"
	Language             string           `yaml:"language,omitempty"`      // Empty = metadata file stem
	UserAgent            string           `yaml:"user_agent,omitempty"`
	SliceLen             int              `yaml:"slice_len"`
	MaxWorkers           int              `yaml:"max_workers"`
	MaxArticlesPerSlice  int              `yaml:"max_articles_per_slice,omitempty"`
	MaxFetchesPerArticle int              `yaml:"max_fetches_per_article,omitempty"` // 0 = unlimited
	MaxRequests          int              `yaml:"max_requests"`
	MaxRequestsPerHost   int              `yaml:"max_requests_per_host"`
	MaxAttempts          int              `yaml:"max_attempts,omitempty"`
	MinBackoff           time.Duration    `yaml:"min_backoff,omitempty"`
	MaxBackoff           time.Duration    `yaml:"max_backoff,omitempty"`
	FetchTimeout         time.Duration    `yaml:"fetch_timeout,omitempty"`        // Covers every attempt of one fetch
	DelayPerHost         time.Duration    `yaml:"delay_per_host,omitempty"`       // Minimum spacing between requests to one host
	MaxImageSizeBytes    int64            `yaml:"max_image_size_bytes,omitempty"` // 0 = unlimited
	InsecureSkipVerify   bool             `yaml:"insecure_skip_verify,omitempty"`
	MonitorAddr          string           `yaml:"monitor_addr,omitempty"` // Empty disables the progress endpoint
	HTTPClientSettings   HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Resolver             ResolverConfig   `yaml:"resolver,omitempty"`
	Filter               FilterConfig     `yaml:"filter,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// ResolverConfig controls which links are never fetched
type ResolverConfig struct {
	SkipSuffixes []string `yaml:"skip_suffixes,omitempty"` // Non-image path suffixes, case-insensitive
	SkipHosts    []string `yaml:"skip_hosts,omitempty"`    // Exact hosts or "*.example.com" wildcards
	EmbedMarkers []string `yaml:"embed_markers,omitempty"` // Substrings that mark embedded players
	AllowQuery   bool     `yaml:"allow_query,omitempty"`   // Fetch links carrying a query string
}

// FilterConfig is the quality predicate applied during classification
type FilterConfig struct {
	MinDimension   int     `yaml:"min_dimension,omitempty"`
	MinAspectRatio float64 `yaml:"min_aspect_ratio,omitempty"`
	MaxAspectRatio float64 `yaml:"max_aspect_ratio,omitempty"`
	UsefulInPlace  bool    `yaml:"useful_in_place,omitempty"` // Leave useful files in the article root
}

// Load reads a YAML config file. A missing path yields an empty config that Validate fills in.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file '%s': %w", path, err)
	}
	return cfg, nil
}

// LanguageRoot returns <download_root>/<lang>
func (c *AppConfig) LanguageRoot(lang string) string {
	return filepath.Join(c.DownloadRoot, lang)
}
