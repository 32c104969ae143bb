package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// UpsertFile inserts or refreshes a file record keyed by path. The record
// keeps its original file_id across rescans.
func (s *Store) UpsertFile(f *types.FileRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Category == "" {
		f.Category = types.CategoryForExtension(f.Ext)
	}

	_, err := s.db.Exec(`
		INSERT INTO files (file_id, root_id, path, parent_path, name, ext, is_dir, size_bytes, mtime, ctime, category, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			mtime      = excluded.mtime,
			ctime      = excluded.ctime,
			category   = excluded.category,
			status     = excluded.status`,
		f.ID, f.RootID, f.Path, f.ParentPath, f.Name, f.Ext, boolToInt(f.IsDir),
		f.SizeBytes, timeOrNil(f.MTime), timeOrNil(f.CTime), string(f.Category), f.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", f.Path, err)
	}
	return nil
}

// GetFile fetches a file record by ID.
func (s *Store) GetFile(id string) (*types.FileRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT file_id, root_id, path, parent_path, name, ext, is_dir, size_bytes, mtime, ctime, category, status
		FROM files WHERE file_id = ?`, id)
	return scanFile(row)
}

// GetFileByPath fetches a file record by its path.
func (s *Store) GetFileByPath(path string) (*types.FileRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT file_id, root_id, path, parent_path, name, ext, is_dir, size_bytes, mtime, ctime, category, status
		FROM files WHERE path = ?`, path)
	return scanFile(row)
}

// ListFiles returns all non-directory file records, optionally filtered by
// category. Pass "" for all categories.
func (s *Store) ListFiles(category types.FileCategory) ([]*types.FileRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT file_id, root_id, path, parent_path, name, ext, is_dir, size_bytes, mtime, ctime, category, status
		FROM files WHERE is_dir = 0`
	args := []interface{}{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	query += " ORDER BY path"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*types.FileRecord
	for rows.Next() {
		f, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row *sql.Row) (*types.FileRecord, error) {
	f, err := scanFileFrom(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file not found")
	}
	return f, err
}

func scanFileRows(rows *sql.Rows) (*types.FileRecord, error) {
	return scanFileFrom(rows)
}

func scanFileFrom(r rowScanner) (*types.FileRecord, error) {
	var f types.FileRecord
	var isDir int
	var mtime, ctime sql.NullString
	var category string
	if err := r.Scan(&f.ID, &f.RootID, &f.Path, &f.ParentPath, &f.Name, &f.Ext,
		&isDir, &f.SizeBytes, &mtime, &ctime, &category, &f.Status); err != nil {
		return nil, err
	}
	f.IsDir = isDir != 0
	f.Category = types.FileCategory(category)
	f.MTime = parseTime(mtime)
	f.CTime = parseTime(ctime)
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
