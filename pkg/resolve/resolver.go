package resolve

import (
	"net/url"
	"strings"

	"github.com/Sriram-PR/media-harvester/pkg/config"
)

// Skip reasons recorded on skipped MediaRecords
const (
	ReasonEmpty       = "empty link"
	ReasonUnparsable  = "unparsable link"
	ReasonScheme      = "unsupported scheme"
	ReasonSuffix      = "non-image suffix"
	ReasonHost        = "skipped host"
	ReasonEmbed       = "embed marker"
	ReasonQueryString = "query string"
)

// Resolution is the outcome of resolving one raw media link
type Resolution struct {
	Raw    string
	URL    string // Absolute URL; set even when skipped so records can carry it
	Host   string // Lowercased host of URL, empty when unparsable
	Skip   bool
	Reason string // Non-empty iff Skip
}

// Resolver normalizes media links and decides which ones are never fetched.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	cfg config.ResolverConfig
}

// New creates a Resolver. cfg should already be validated.
func New(cfg config.ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// BaseURL returns "scheme://host" of an article URL, or "" if it cannot be parsed.
func BaseURL(articleURL string) string {
	u, err := url.Parse(strings.TrimSpace(articleURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Absolute applies the site-relative rule: a link starting with "/" gets one
// leading slash stripped if doubled, then the article's base URL prefixed.
// Any other link is returned unchanged.
func Absolute(link, baseURL string) string {
	if !strings.HasPrefix(link, "/") {
		return link
	}
	if strings.HasPrefix(link, "//") {
		link = link[1:]
	}
	return baseURL + link
}

// Resolve normalizes raw against articleURL and evaluates the skip rules on the result.
func (r *Resolver) Resolve(raw, articleURL string) Resolution {
	res := Resolution{Raw: raw}
	link := strings.TrimSpace(raw)
	if link == "" {
		return res.skip(ReasonEmpty)
	}

	res.URL = Absolute(link, BaseURL(articleURL))

	u, err := url.Parse(res.URL)
	if err != nil {
		return res.skip(ReasonUnparsable)
	}
	res.Host = strings.ToLower(u.Hostname())
	if (u.Scheme != "http" && u.Scheme != "https") || res.Host == "" {
		return res.skip(ReasonScheme)
	}

	lowerPath := strings.ToLower(u.Path)
	for _, suffix := range r.cfg.SkipSuffixes {
		if suffix != "" && strings.HasSuffix(lowerPath, suffix) {
			return res.skip(ReasonSuffix + " " + suffix)
		}
	}

	for _, pattern := range r.cfg.SkipHosts {
		if MatchDomain(res.Host, pattern) {
			return res.skip(ReasonHost + " " + pattern)
		}
	}

	lower := strings.ToLower(res.URL)
	for _, marker := range r.cfg.EmbedMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return res.skip(ReasonEmbed)
		}
	}

	if !r.cfg.AllowQuery && (u.RawQuery != "" || u.ForceQuery) {
		return res.skip(ReasonQueryString)
	}

	return res
}

func (res Resolution) skip(reason string) Resolution {
	res.Skip = true
	res.Reason = reason
	return res
}

// MatchDomain checks if a host matches a pattern: exact, or "*.example.com"
// which matches both sub.example.com and example.com.
func MatchDomain(host string, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) || (len(suffix) > 1 && host == suffix[1:])
	}
	return host == pattern
}
