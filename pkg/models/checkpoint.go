package models

import "time"

// SliceCheckpoint is the persisted completion record of one slice.
// It records that acquisition (and later classification) finished, never item status.
type SliceCheckpoint struct {
	Language     string    `json:"language"`
	Index        int       `json:"index"`
	Start        int       `json:"start"` // First article offset, inclusive
	End          int       `json:"end"`   // Last article offset, exclusive
	RunID        string    `json:"run_id"`
	Articles     int       `json:"articles"`
	Failed       int       `json:"failed_articles"` // Articles whose directory or stores could not be written
	Successful   int       `json:"successful"`
	Skipped      int       `json:"skipped"`
	Exceptions   int       `json:"exceptions"`
	AcquiredAt   time.Time `json:"acquired_at"`
	Classified   bool      `json:"classified"`
	ClassifiedAt time.Time `json:"classified_at,omitzero"`
}

// Complete reports whether acquisition finished without article-level failures.
func (c *SliceCheckpoint) Complete() bool {
	return c.Failed == 0
}
