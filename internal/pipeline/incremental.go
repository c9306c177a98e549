package pipeline

import (
	"context"
	"fmt"

	"github.com/theirongolddev/kpitarget/internal/source"
	"github.com/theirongolddev/kpitarget/internal/store"
)

// FileOutcome is the result of applying one submission file.
type FileOutcome struct {
	Path   string
	Result *SaveResult
	Err    error
}

// DirResult reports a directory batch.
type DirResult struct {
	TotalFiles int
	Unchanged  int // files skipped because mtime and size match the last apply
	Files      []FileOutcome
}

// Failed counts files that did not parse or save.
func (r *DirResult) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// DirOptions tunes ApplyDir.
type DirOptions struct {
	Force    bool // reapply files that have not changed
	Workers  int
	Progress ProgressFunc
}

// ApplyDir saves every submission file under dir that changed since it was
// last applied. Files are parsed in parallel and saved one at a time in path
// order; a file is only marked applied after its save succeeds.
func (o *Orchestrator) ApplyDir(ctx context.Context, dir string, opts DirOptions) (*DirResult, error) {
	files, err := source.ScanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	result := &DirResult{TotalFiles: len(files)}
	if len(files) == 0 {
		return result, nil
	}

	tracked, err := o.store.TrackedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading tracked files: %w", err)
	}

	var toApply []source.DiscoveredFile
	for _, f := range files {
		prev, ok := tracked[f.Path]
		if !opts.Force && ok && prev.MtimeNs == f.MtimeNs && prev.SizeBytes == f.SizeBytes {
			result.Unchanged++
			continue
		}
		toApply = append(toApply, f)
	}
	o.log.Debug().
		Str("dir", dir).
		Int("files", len(files)).
		Int("unchanged", result.Unchanged).
		Msg("submission directory scanned")

	loaded, err := Load(ctx, toApply, opts.Workers, opts.Progress)
	if err != nil {
		return nil, err
	}

	for _, pr := range loaded.Results {
		out := FileOutcome{Path: pr.File.Path, Err: pr.Err}
		if pr.Err != nil {
			o.log.Warn().Err(pr.Err).Str("file", pr.File.Path).Msg("submission rejected")
			result.Files = append(result.Files, out)
			continue
		}
		res, err := o.SaveAnnualTargets(ctx, RequestFromSubmission(pr.Submission))
		if err != nil {
			out.Err = err
			result.Files = append(result.Files, out)
			if ctx.Err() != nil {
				return result, err
			}
			continue
		}
		out.Result = &res
		if err := o.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.TrackFile(ctx, pr.File.Path, store.FileInfo{MtimeNs: pr.File.MtimeNs, SizeBytes: pr.File.SizeBytes})
		}); err != nil {
			out.Err = fmt.Errorf("tracking %s: %w", pr.File.Path, err)
		}
		result.Files = append(result.Files, out)
	}
	return result, nil
}
