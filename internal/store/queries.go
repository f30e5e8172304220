package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/brightframe/filesearch/internal/logx"
)

// Store is the Store component of §4.1: the single source of truth for the
// index. All mutation and query methods are safe for concurrent use; writes
// are serialized by SQLite under WAL, reads proceed concurrently with them.
type Store struct {
	db     *DB
	logger zerolog.Logger
}

// NewStore wraps an opened DB.
func NewStore(db *DB) *Store {
	return &Store{db: db, logger: logx.WithComponent("store")}
}

// sanitizeFTSQuery escapes and phrase-quotes a folded token for safe FTS5
// MATCH usage: wrapping in double quotes forces a positional phrase match
// (the trigrams generated from the token must appear consecutively), which
// is what gives the trigram tier substring semantics instead of an
// unordered bag-of-trigrams match.
func sanitizeFTSQuery(token string) string {
	escaped := strings.ReplaceAll(token, `"`, `""`)
	return `"` + escaped + `"`
}

// escapeLike escapes %, _ and the escape character itself for a LIKE
// pattern that will be wrapped in its own %...% wildcards by the caller.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// withRetry runs fn once, and a second time if the first attempt failed on
// SQLITE_BUSY or SQLITE_LOCKED — the Scanner and Watcher can legitimately
// observe and upsert the same new path concurrently. Two inserts of the same
// path never fail on the unique constraint: UpsertMany's ON CONFLICT(path)
// clause turns the later one into an update.
func withRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if isRetryable(err) {
		return fn()
	}
	return err
}

func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// upsertRow is the persistence-ready form of an incoming FileEntry: folded
// columns precomputed once, reused for both the base-table write and the
// bigram postings.
type upsertRow struct {
	Name       string
	Path       string
	NameFold   string
	PathFold   string
	Kind       Kind
	Size       int64
	MTime      float64
	ParentPath string
}

func toUpsertRow(e FileEntry) upsertRow {
	return upsertRow{
		Name:       e.Name,
		Path:       e.Path,
		NameFold:   fold(e.Name),
		PathFold:   fold(e.Path),
		Kind:       e.Kind,
		Size:       e.Size,
		MTime:      e.MTime,
		ParentPath: e.ParentPath,
	}
}

// UpsertMany inserts or updates every entry in batch, rewriting its FTS
// document and bigram postings, all within a single transaction (§4.1
// Upsert). Safe to call with an empty batch.
func (s *Store) UpsertMany(ctx context.Context, batch []FileEntry) error {
	if len(batch) == 0 {
		return nil
	}

	return withRetry(func() error {
		tx, err := s.db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert transaction: %w", err)
		}
		defer tx.Rollback()

		upsertStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO files (name, path, name_fold, path_fold, kind, size, mtime, parent_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				name = excluded.name,
				name_fold = excluded.name_fold,
				path_fold = excluded.path_fold,
				kind = excluded.kind,
				size = excluded.size,
				mtime = excluded.mtime,
				parent_path = excluded.parent_path
		`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer upsertStmt.Close()

		idStmt, err := tx.PrepareContext(ctx, `SELECT id FROM files WHERE path = ?`)
		if err != nil {
			return fmt.Errorf("prepare id lookup: %w", err)
		}
		defer idStmt.Close()

		deleteBigramStmt, err := tx.PrepareContext(ctx, `DELETE FROM bigram_postings WHERE file_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare bigram delete: %w", err)
		}
		defer deleteBigramStmt.Close()

		insertBigramStmt, err := tx.PrepareContext(ctx, `INSERT INTO bigram_postings (file_id, bigram, position) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare bigram insert: %w", err)
		}
		defer insertBigramStmt.Close()

		for _, entry := range batch {
			row := toUpsertRow(entry)

			if _, err := upsertStmt.ExecContext(ctx, row.Name, row.Path, row.NameFold, row.PathFold,
				string(row.Kind), row.Size, row.MTime, nullableParent(row.ParentPath)); err != nil {
				return fmt.Errorf("upsert %q: %w", row.Path, err)
			}

			var id int64
			if err := idStmt.QueryRowContext(ctx, row.Path).Scan(&id); err != nil {
				return fmt.Errorf("read back id for %q: %w", row.Path, err)
			}

			if _, err := deleteBigramStmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("clear bigram postings for %q: %w", row.Path, err)
			}
			for _, w := range bigramWindows(row.NameFold) {
				if _, err := insertBigramStmt.ExecContext(ctx, id, w.Bigram, w.Position); err != nil {
					return fmt.Errorf("insert bigram posting for %q: %w", row.Path, err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit upsert transaction: %w", err)
		}
		return nil
	})
}

func nullableParent(p string) interface{} {
	if p == "" {
		return nil
	}
	return p
}

// DeletePath removes the base row, FTS document, and bigram postings for an
// exact path (§4.1 Delete). FTS sync happens via trigger; bigram postings
// cascade via the foreign key.
func (s *Store) DeletePath(ctx context.Context, path string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete path %q: %w", path, err)
	}
	return nil
}

// DeleteSubtree removes every row whose path equals prefix or begins with
// prefix+separator.
func (s *Store) DeleteSubtree(ctx context.Context, prefix string) error {
	like := escapeLike(prefix) + string(filepath.Separator) + "%"
	_, err := s.db.conn.ExecContext(ctx, `
		DELETE FROM files WHERE path = ? OR path LIKE ? ESCAPE '\'
	`, prefix, like)
	if err != nil {
		return fmt.Errorf("delete subtree %q: %w", prefix, err)
	}
	return nil
}

// ClearRoot removes every indexed entry under rootPath, including the root
// entry itself.
func (s *Store) ClearRoot(ctx context.Context, rootPath string) error {
	return s.DeleteSubtree(ctx, rootPath)
}

// Rename atomically updates name/path/parent_path for the entry at oldPath
// and cascades the path prefix change to every descendant, within a single
// transaction (§4.1 Rename).
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	return withRetry(func() error {
		tx, err := s.db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rename transaction: %w", err)
		}
		defer tx.Rollback()

		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, oldPath).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lookup %q: %w", oldPath, err)
		}

		newName := filepath.Base(newPath)
		newParent := filepath.Dir(newPath)
		if newParent == "." || newParent == string(filepath.Separator) {
			newParent = ""
		}
		nameFold, pathFold := fold(newName), fold(newPath)

		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET name = ?, path = ?, name_fold = ?, path_fold = ?, parent_path = ?
			WHERE id = ?
		`, newName, newPath, nameFold, pathFold, nullableParent(newParent), id); err != nil {
			return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM bigram_postings WHERE file_id = ?`, id); err != nil {
			return fmt.Errorf("clear bigram postings for %q: %w", newPath, err)
		}
		for _, w := range bigramWindows(nameFold) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO bigram_postings (file_id, bigram, position) VALUES (?, ?, ?)`,
				id, w.Bigram, w.Position); err != nil {
				return fmt.Errorf("insert bigram posting for %q: %w", newPath, err)
			}
		}

		if err := s.cascadeRename(ctx, tx, oldPath, newPath); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rename transaction: %w", err)
		}
		return nil
	})
}

// cascadeRename updates path/parent_path (not name) for every descendant of
// oldPath so that its path prefix becomes newPath.
func (s *Store) cascadeRename(ctx context.Context, tx *sql.Tx, oldPath, newPath string) error {
	like := escapeLike(oldPath) + string(filepath.Separator) + "%"
	rows, err := tx.QueryContext(ctx, `SELECT id, path, parent_path FROM files WHERE path LIKE ? ESCAPE '\'`, like)
	if err != nil {
		return fmt.Errorf("select descendants of %q: %w", oldPath, err)
	}

	type descendant struct {
		id         int64
		path       string
		parentPath sql.NullString
	}
	var descendants []descendant
	for rows.Next() {
		var d descendant
		if err := rows.Scan(&d.id, &d.path, &d.parentPath); err != nil {
			rows.Close()
			return fmt.Errorf("scan descendant: %w", err)
		}
		descendants = append(descendants, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, d := range descendants {
		newDescPath := newPath + strings.TrimPrefix(d.path, oldPath)
		newDescParent := d.parentPath.String
		if d.parentPath.Valid && d.parentPath.String == oldPath {
			newDescParent = newPath
		} else if d.parentPath.Valid {
			newDescParent = newPath + strings.TrimPrefix(d.parentPath.String, oldPath)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET path = ?, path_fold = ?, parent_path = ? WHERE id = ?
		`, newDescPath, fold(newDescPath), nullableParent(newDescParent), d.id); err != nil {
			return fmt.Errorf("cascade rename descendant %q: %w", d.path, err)
		}
	}
	return nil
}

// Count returns the total number of indexed entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Search runs the three-tier query planner (§4.1) and returns one page of
// results plus the total candidate count.
func (s *Store) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	if q.Offset < 0 {
		return SearchResult{}, ErrInvalidQuery
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	sortCol, err := ValidateSort(q.Sort)
	if err != nil {
		sortCol = "name_fold"
	}
	direction := "ASC"
	if !q.Ascending {
		direction = "DESC"
	}

	var conditions []string
	var args []interface{}

	for _, token := range tokenize(q.Query) {
		clause, tokenArgs := planToken(token)
		conditions = append(conditions, clause)
		args = append(args, tokenArgs...)
	}

	if q.RootPrefix != "" {
		like := escapeLike(q.RootPrefix) + string(filepath.Separator) + "%"
		conditions = append(conditions, "(path = ? OR path LIKE ? ESCAPE '\\')")
		args = append(args, q.RootPrefix, like)
	}

	switch q.Kind {
	case KindFilterFile:
		conditions = append(conditions, "kind = 'file'")
	case KindFilterDirectory:
		conditions = append(conditions, "kind = 'directory'")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, where)
	if err := s.db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return SearchResult{}, fmt.Errorf("count search candidates: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, name, path, kind, size, mtime, parent_path
		FROM files
		%s
		ORDER BY %s %s, id ASC
		LIMIT ? OFFSET ?
	`, where, sortCol, direction)

	pageArgs := append(append([]interface{}{}, args...), limit, q.Offset)
	rows, err := s.db.conn.QueryContext(ctx, selectQuery, pageArgs...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var entries []FileEntry
	for rows.Next() {
		var e FileEntry
		var parent sql.NullString
		var kind string
		if err := rows.Scan(&e.ID, &e.Name, &e.Path, &kind, &e.Size, &e.MTime, &parent); err != nil {
			return SearchResult{}, fmt.Errorf("scan search row: %w", err)
		}
		e.Kind = Kind(kind)
		e.ParentPath = parent.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}

	return SearchResult{Total: total, Entries: entries}, nil
}

// planToken picks the query-planner tier for one folded token (§4.1 table)
// and returns the SQL fragment plus its bound arguments.
func planToken(token string) (string, []interface{}) {
	switch len([]rune(token)) {
	case 0:
		return "1 = 1", nil
	case 1:
		like := "%" + escapeLike(token) + "%"
		return "path_fold LIKE ? ESCAPE '\\'", []interface{}{like}
	case 2:
		return "id IN (SELECT file_id FROM bigram_postings WHERE bigram = ?)", []interface{}{token}
	default:
		return "id IN (SELECT rowid FROM files_fts WHERE files_fts MATCH ?)", []interface{}{sanitizeFTSQuery(token)}
	}
}

// --- WatchRoot persistence -------------------------------------------------

// InsertWatchRoot creates a new WatchRoot row in the idle state.
func (s *Store) InsertWatchRoot(ctx context.Context, path string) (*WatchRoot, error) {
	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO watch_roots (path, enabled, status) VALUES (?, 1, 'idle')
	`, path)
	if err != nil {
		return nil, fmt.Errorf("insert watch root %q: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read back watch root id: %w", err)
	}
	return s.GetWatchRootByID(ctx, id)
}

// ListWatchRoots returns every monitored root.
func (s *Store) ListWatchRoots(ctx context.Context) ([]WatchRoot, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, path, enabled, status, total_files, indexed_files, last_full_scan, last_updated, error_message
		FROM watch_roots ORDER BY path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list watch roots: %w", err)
	}
	defer rows.Close()

	var roots []WatchRoot
	for rows.Next() {
		r, err := scanWatchRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// GetWatchRootByPath looks up a root by its exact path.
func (s *Store) GetWatchRootByPath(ctx context.Context, path string) (*WatchRoot, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, path, enabled, status, total_files, indexed_files, last_full_scan, last_updated, error_message
		FROM watch_roots WHERE path = ?
	`, path)
	r, err := scanWatchRoot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetWatchRootByID looks up a root by its id.
func (s *Store) GetWatchRootByID(ctx context.Context, id int64) (*WatchRoot, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, path, enabled, status, total_files, indexed_files, last_full_scan, last_updated, error_message
		FROM watch_roots WHERE id = ?
	`, id)
	r, err := scanWatchRoot(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateWatchRootStatus transitions a root to a new status, optionally
// setting an error message (cleared when nil).
func (s *Store) UpdateWatchRootStatus(ctx context.Context, id int64, status WatchRootStatus, errMsg *string) error {
	now := time.Now().Unix()
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE watch_roots SET status = ?, error_message = ?, last_updated = ? WHERE id = ?
	`, string(status), errMsg, now, id)
	if err != nil {
		return fmt.Errorf("update watch root %d status: %w", id, err)
	}
	return nil
}

// UpdateWatchRootCounters updates the scan-progress counters for a root.
func (s *Store) UpdateWatchRootCounters(ctx context.Context, id int64, total, indexed int64) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE watch_roots SET total_files = ?, indexed_files = ? WHERE id = ?
	`, total, indexed, id)
	if err != nil {
		return fmt.Errorf("update watch root %d counters: %w", id, err)
	}
	return nil
}

// MarkWatchRootScanned records a completed scan timestamp.
func (s *Store) MarkWatchRootScanned(ctx context.Context, id int64) error {
	now := time.Now().Unix()
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE watch_roots SET last_full_scan = ?, last_updated = ? WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("mark watch root %d scanned: %w", id, err)
	}
	return nil
}

// DeleteWatchRoot removes a root's row (its indexed entries must already
// have been cleared by the caller via ClearRoot).
func (s *Store) DeleteWatchRoot(ctx context.Context, id int64) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM watch_roots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch root %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatchRoot(row rowScanner) (WatchRoot, error) {
	var r WatchRoot
	var enabled int
	var status string
	var lastFullScan, lastUpdated sql.NullInt64
	var errMsg sql.NullString

	if err := row.Scan(&r.ID, &r.Path, &enabled, &status, &r.TotalFiles, &r.IndexedFiles,
		&lastFullScan, &lastUpdated, &errMsg); err != nil {
		return WatchRoot{}, err
	}
	r.Enabled = enabled != 0
	r.Status = WatchRootStatus(status)
	if lastFullScan.Valid {
		v := lastFullScan.Int64
		r.LastFullScan = &v
	}
	if lastUpdated.Valid {
		v := lastUpdated.Int64
		r.LastUpdated = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		r.ErrorMessage = &v
	}
	return r, nil
}

// --- IgnorePattern persistence ---------------------------------------------

// ListIgnorePatterns returns every persisted pattern, in insertion order.
func (s *Store) ListIgnorePatterns(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT pattern FROM ignore_patterns ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list ignore patterns: %w", err)
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// InsertIgnorePattern persists a new pattern at the end of the sequence.
// A duplicate pattern is a silent no-op.
func (s *Store) InsertIgnorePattern(ctx context.Context, pattern string) error {
	var nextPos int
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM ignore_patterns`).Scan(&nextPos); err != nil {
		return fmt.Errorf("compute next ignore pattern position: %w", err)
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO ignore_patterns (pattern, position) VALUES (?, ?)
		ON CONFLICT(pattern) DO NOTHING
	`, pattern, nextPos)
	if err != nil {
		return fmt.Errorf("insert ignore pattern %q: %w", pattern, err)
	}
	return nil
}

// DeleteIgnorePattern removes a persisted pattern.
func (s *Store) DeleteIgnorePattern(ctx context.Context, pattern string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM ignore_patterns WHERE pattern = ?`, pattern)
	if err != nil {
		return fmt.Errorf("delete ignore pattern %q: %w", pattern, err)
	}
	return nil
}
