package models

import (
	"fmt"
	"strconv"
)

// Article is one line of the metadata file
type Article struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	MediaLinks []string `json:"media_links"`
	Lang       string   `json:"lang,omitempty"` // Optional; the configured language is used when empty
}

// ItemID builds the MediaItem identity "{article_id}_{index}"
func ItemID(articleID string, index int) string {
	return articleID + "_" + strconv.Itoa(index)
}

// MediaRecord is the persisted form of one media item inside a StatusStore file.
// Optional attribute groups are embedded pointers: a nil group is omitted from JSON
// and tells the reader which stage populated the record.
type MediaRecord struct {
	ID           string `json:"Id"`
	ImagePath    string `json:"Image Path"` // Relative to the language root, forward slashes
	ArticleID    string `json:"Article Id"`
	ArticleURL   string `json:"Article URL"`
	ArticleIndex int    `json:"Article Index"`
	ImageURL     string `json:"Image URL"`               // Resolved URL
	SkipReason   string `json:"Skip Reason,omitempty"`   // Set on skipped records only
	FilterReason string `json:"Filter Reason,omitempty"` // Set on filtered records only

	*Failure      // Present only when the item failed
	*ImageMetrics // Present only once opened and measured
}

// Failure describes why an item did not produce a usable file
type Failure struct {
	Exception string `json:"Exception"`
	Kind      string `json:"Exception Kind,omitempty"` // utils.CategorizeError output
}

// ImageMetrics are measured from a decoded image
type ImageMetrics struct {
	Format      string  `json:"Format"`
	Width       int     `json:"Width"`
	Height      int     `json:"Height"`
	AspectRatio float64 `json:"AspectRatio"`
	FileSize    int64   `json:"FileSize"`
}

// HasMetrics reports whether the record carries image measurements
func (r *MediaRecord) HasMetrics() bool {
	return r.ImageMetrics != nil
}

// Failed reports whether the record carries a failure description
func (r *MediaRecord) Failed() bool {
	return r.Failure != nil
}

// SetFailure attaches a failure group built from err and its category
func (r *MediaRecord) SetFailure(err error, kind string) {
	r.Failure = &Failure{Exception: fmt.Sprintf("[Exception]: %v", err), Kind: kind}
}

// Clone returns a copy that shares no optional groups with r
func (r MediaRecord) Clone() MediaRecord {
	if r.Failure != nil {
		f := *r.Failure
		r.Failure = &f
	}
	if r.ImageMetrics != nil {
		m := *r.ImageMetrics
		r.ImageMetrics = &m
	}
	return r
}
