package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/kpitarget/internal/source"
)

// LoadResult holds the parsed submissions of a batch of files, in file order.
type LoadResult struct {
	Results     []source.ParseResult
	TotalFiles  int
	ParsedFiles int
	FileErrors  int
}

// Submissions returns the submissions that parsed cleanly.
func (r *LoadResult) Submissions() []*source.Submission {
	var out []*source.Submission
	for _, pr := range r.Results {
		if pr.Err == nil {
			out = append(out, pr.Submission)
		}
	}
	return out
}

// ProgressFunc is called during loading to report progress.
// current is the number of files processed so far, total is the total count.
type ProgressFunc func(current, total int)

// Load parses files on a bounded worker pool. workers <= 0 means GOMAXPROCS.
// Per-file failures land in the result; only cancellation returns an error.
func Load(ctx context.Context, files []source.DiscoveredFile, workers int, progressFn ProgressFunc) (*LoadResult, error) {
	result := &LoadResult{TotalFiles: len(files)}
	if len(files) == 0 {
		return result, nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]source.ParseResult, len(files))
	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(workers, len(files)))
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = source.ParseFile(files[i])
			n := processed.Add(1)
			if progressFn != nil {
				progressFn(int(n), len(files))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parsing submissions: %w", err)
	}

	result.Results = results
	for _, pr := range results {
		if pr.Err != nil {
			result.FileErrors++
			continue
		}
		result.ParsedFiles++
	}
	return result, nil
}
