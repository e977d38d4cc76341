package orchestrate

import (
	"context"
	"fmt"
	"slices"

	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/storage"
)

// Slice is the contiguous article range [Start, End) of the metadata file
type Slice struct {
	Index int
	Start int
	End   int
}

// Len returns the number of articles in the slice
func (s Slice) Len() int { return s.End - s.Start }

func (s Slice) String() string { return fmt.Sprintf("#%d[%d:%d)", s.Index, s.Start, s.End) }

// Partition splits total articles into contiguous slices of at most sliceLen.
// The result is stable for the same inputs, so a slice index names the same articles across runs.
func Partition(total, sliceLen int) []Slice {
	if total <= 0 {
		return nil
	}
	if sliceLen <= 0 {
		sliceLen = total
	}
	out := make([]Slice, 0, (total+sliceLen-1)/sliceLen)
	for start := 0; start < total; start += sliceLen {
		out = append(out, Slice{Index: len(out), Start: start, End: min(start+sliceLen, total)})
	}
	return out
}

// Completion proves that every article coordinator of a slice has returned.
// Only the orchestrator and the checkpoint store can mint one; classification accepts nothing else.
type Completion struct {
	runID      string
	language   string
	langRoot   string
	slice      Slice
	articleIDs []string
}

func newCompletion(runID, language, langRoot string, s Slice, articles []models.Article) *Completion {
	ids := make([]string, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	return &Completion{runID: runID, language: language, langRoot: langRoot, slice: s, articleIDs: ids}
}

// RunID returns the run that acquired the slice
func (c *Completion) RunID() string { return c.runID }

// Language returns the language the slice belongs to
func (c *Completion) Language() string { return c.language }

// LangRoot returns the directory holding the slice's article directories
func (c *Completion) LangRoot() string { return c.langRoot }

// Slice returns the completed slice
func (c *Completion) Slice() Slice { return c.slice }

// ArticleIDs returns the ids of the slice's articles in metadata order
func (c *Completion) ArticleIDs() []string { return slices.Clone(c.articleIDs) }

// SliceFuture resolves when a slice has finished acquisition, failed, or was skipped on resume.
type SliceFuture struct {
	slice  Slice
	done   chan struct{}
	result SliceResult
	token  *Completion
}

func newSliceFuture(s Slice) *SliceFuture {
	return &SliceFuture{slice: s, done: make(chan struct{})}
}

func (f *SliceFuture) resolve(result SliceResult, token *Completion) {
	f.result = result
	f.token = token
	close(f.done)
}

// Slice returns the slice this future tracks
func (f *SliceFuture) Slice() Slice { return f.slice }

// Done is closed once the slice has resolved
func (f *SliceFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the slice resolves or ctx is done. It returns the Completion token,
// or the slice's error when acquisition did not run to the end.
func (f *SliceFuture) Wait(ctx context.Context) (*Completion, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.result.Err != nil {
		return nil, f.result.Err
	}
	return f.token, nil
}

// Result returns the slice result. Valid only after Done is closed.
func (f *SliceFuture) Result() SliceResult {
	<-f.done
	return f.result
}

// TokensFromCheckpoints rebuilds Completion tokens for every slice of opts.Language
// whose acquisition checkpoint exists. Slices already classified are included only
// when includeClassified is set. OnlySlices restricts the result to those indices.
func TokensFromCheckpoints(store storage.SliceStore, langRoot string, articles []models.Article, opts Options, includeClassified bool) ([]*Completion, error) {
	cps, err := store.ListSlices(opts.Language)
	if err != nil {
		return nil, err
	}
	var tokens []*Completion
	for _, cp := range cps {
		if len(opts.OnlySlices) > 0 && !slices.Contains(opts.OnlySlices, cp.Index) {
			continue
		}
		if cp.Classified && !includeClassified {
			continue
		}
		if cp.Start < 0 || cp.End > len(articles) || cp.Start > cp.End {
			return nil, fmt.Errorf("checkpoint for slice %d [%d:%d) does not fit %d articles; was the metadata file changed?",
				cp.Index, cp.Start, cp.End, len(articles))
		}
		s := Slice{Index: cp.Index, Start: cp.Start, End: cp.End}
		tokens = append(tokens, newCompletion(cp.RunID, opts.Language, langRoot, s, articles[cp.Start:cp.End]))
	}
	return tokens, nil
}
