package store

import (
	"context"
	"fmt"
)

// FileInfo holds the tracked mtime and size for a submission file.
type FileInfo struct {
	MtimeNs   int64
	SizeBytes int64
}

// TrackedFiles returns file_path -> FileInfo for every submission file saved
// so far.
func (s *Store) TrackedFiles(ctx context.Context) (map[string]FileInfo, error) {
	rows, err := s.view().query(ctx, "SELECT file_path, mtime_ns, size_bytes FROM submission_files")
	if err != nil {
		return nil, fmt.Errorf("reading tracked files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]FileInfo)
	for rows.Next() {
		var path string
		var fi FileInfo
		if err := rows.Scan(&path, &fi.MtimeNs, &fi.SizeBytes); err != nil {
			return nil, err
		}
		result[path] = fi
	}
	return result, rows.Err()
}

// TrackFile records that path was saved at the given mtime and size.
func (t *Tx) TrackFile(ctx context.Context, path string, fi FileInfo) error {
	_, err := t.exec(ctx, `INSERT INTO submission_files (file_path, mtime_ns, size_bytes) VALUES (?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET mtime_ns = excluded.mtime_ns, size_bytes = excluded.size_bytes`,
		path, fi.MtimeNs, fi.SizeBytes)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", path, err)
	}
	return nil
}
