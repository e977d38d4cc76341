package orchestrate

import (
	"sync/atomic"
	"time"
)

// Slice states reported in progress snapshots
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
	StateResumed = "resumed" // Skipped: a complete checkpoint exists
)

// sliceProgress holds the counters of one slice. Only that slice's worker writes them;
// the orchestrator reads them when building a snapshot.
type sliceProgress struct {
	slice      Slice
	state      atomic.Value // string
	done       atomic.Int64
	failed     atomic.Int64
	successful atomic.Int64
	skipped    atomic.Int64
	exceptions atomic.Int64
	started    atomic.Int64 // UnixNano, 0 until running
	finished   atomic.Int64
}

func newSliceProgress(s Slice) *sliceProgress {
	p := &sliceProgress{slice: s}
	p.state.Store(StatePending)
	return p
}

func (p *sliceProgress) setState(state string) {
	switch state {
	case StateRunning:
		p.started.Store(time.Now().UnixNano())
	case StateDone, StateFailed, StateResumed:
		p.finished.Store(time.Now().UnixNano())
	}
	p.state.Store(state)
}

// SliceSnapshot is a point-in-time copy of one slice's counters
type SliceSnapshot struct {
	Index          int       `json:"index"`
	Start          int       `json:"start"`
	End            int       `json:"end"`
	State          string    `json:"state"`
	Articles       int       `json:"articles"`
	ArticlesDone   int64     `json:"articles_done"`
	FailedArticles int64     `json:"failed_articles"`
	Successful     int64     `json:"successful"`
	Skipped        int64     `json:"skipped"`
	Exceptions     int64     `json:"exceptions"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

func (p *sliceProgress) snapshot() SliceSnapshot {
	s := SliceSnapshot{
		Index:          p.slice.Index,
		Start:          p.slice.Start,
		End:            p.slice.End,
		State:          p.state.Load().(string),
		Articles:       p.slice.Len(),
		ArticlesDone:   p.done.Load(),
		FailedArticles: p.failed.Load(),
		Successful:     p.successful.Load(),
		Skipped:        p.skipped.Load(),
		Exceptions:     p.exceptions.Load(),
	}
	if ns := p.started.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	if ns := p.finished.Load(); ns != 0 {
		s.FinishedAt = time.Unix(0, ns)
	}
	return s
}

// Snapshot merges the progress of every slice of the current batch
type Snapshot struct {
	RunID    string          `json:"run_id"`
	Language string          `json:"language"`
	Slices   []SliceSnapshot `json:"slices"`
	Totals   Totals          `json:"totals"`
}

// Totals sums the slice counters
type Totals struct {
	Slices         int   `json:"slices"`
	SlicesDone     int   `json:"slices_done"`
	Articles       int   `json:"articles"`
	ArticlesDone   int64 `json:"articles_done"`
	FailedArticles int64 `json:"failed_articles"`
	Successful     int64 `json:"successful"`
	Skipped        int64 `json:"skipped"`
	Exceptions     int64 `json:"exceptions"`
}

func mergeSnapshots(runID, lang string, slices []SliceSnapshot) Snapshot {
	snap := Snapshot{RunID: runID, Language: lang, Slices: slices}
	for _, s := range slices {
		snap.Totals.Slices++
		switch s.State {
		case StateDone, StateFailed, StateResumed:
			snap.Totals.SlicesDone++
		}
		snap.Totals.Articles += s.Articles
		snap.Totals.ArticlesDone += s.ArticlesDone
		snap.Totals.FailedArticles += s.FailedArticles
		snap.Totals.Successful += s.Successful
		snap.Totals.Skipped += s.Skipped
		snap.Totals.Exceptions += s.Exceptions
	}
	return snap
}
