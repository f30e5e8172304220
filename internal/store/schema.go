package store

// schema creates every table, index, virtual table and trigger the Store
// needs. It is safe to run against an already-initialized database: every
// statement is idempotent.
const schema = `
-- Base table: one row per filesystem object ever observed under any root.
-- name/path hold the original-case strings; name_fold/path_fold hold the
-- case-folded forms that the FTS index and bigram postings are built over,
-- so every substring tier folds identically.
CREATE TABLE IF NOT EXISTS files (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	path        TEXT NOT NULL UNIQUE,
	name_fold   TEXT NOT NULL,
	path_fold   TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK(kind IN ('file', 'directory')),
	size        INTEGER NOT NULL DEFAULT 0,
	mtime       REAL NOT NULL,
	parent_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_files_parent_path ON files(parent_path);
CREATE INDEX IF NOT EXISTS idx_files_name_fold ON files(name_fold);
CREATE INDEX IF NOT EXISTS idx_files_kind ON files(kind);
CREATE INDEX IF NOT EXISTS idx_files_size ON files(size);
CREATE INDEX IF NOT EXISTS idx_files_mtime ON files(mtime);

-- Trigram full-text index over the folded name and path. case_sensitive 1
-- because folding already happened in Go before the value ever reaches
-- SQLite; we don't want the tokenizer re-folding (and potentially
-- disagreeing with our Unicode fold) on top of that.
CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
	name_fold,
	path_fold,
	content='files',
	content_rowid='id',
	tokenize='trigram case_sensitive 1'
);

CREATE TRIGGER IF NOT EXISTS files_ai AFTER INSERT ON files BEGIN
	INSERT INTO files_fts(rowid, name_fold, path_fold) VALUES (new.id, new.name_fold, new.path_fold);
END;

CREATE TRIGGER IF NOT EXISTS files_ad AFTER DELETE ON files BEGIN
	INSERT INTO files_fts(files_fts, rowid, name_fold, path_fold) VALUES('delete', old.id, old.name_fold, old.path_fold);
END;

CREATE TRIGGER IF NOT EXISTS files_au AFTER UPDATE ON files BEGIN
	INSERT INTO files_fts(files_fts, rowid, name_fold, path_fold) VALUES('delete', old.id, old.name_fold, old.path_fold);
	INSERT INTO files_fts(rowid, name_fold, path_fold) VALUES (new.id, new.name_fold, new.path_fold);
END;

-- Bigram postings: one row per 2-character window in the folded name.
-- Populated and replaced explicitly by the Store's upsert path (not by a
-- trigger) because a single trigger invocation can't fan one row out into a
-- variable number of posting rows.
CREATE TABLE IF NOT EXISTS bigram_postings (
	file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	bigram   TEXT NOT NULL,
	position INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bigram_postings_bigram ON bigram_postings(bigram);
CREATE INDEX IF NOT EXISTS idx_bigram_postings_file_id ON bigram_postings(file_id);

-- A user-declared root being monitored.
CREATE TABLE IF NOT EXISTS watch_roots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	path           TEXT NOT NULL UNIQUE,
	enabled        INTEGER NOT NULL DEFAULT 1,
	status         TEXT NOT NULL CHECK(status IN ('idle', 'scanning', 'watching', 'error')) DEFAULT 'idle',
	total_files    INTEGER NOT NULL DEFAULT 0,
	indexed_files  INTEGER NOT NULL DEFAULT 0,
	last_full_scan INTEGER,
	last_updated   INTEGER,
	error_message  TEXT
);

-- Ordered, OR-matched ignore pattern sequence. position preserves insertion
-- order for display; matching itself is order-independent.
CREATE TABLE IF NOT EXISTS ignore_patterns (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern  TEXT NOT NULL UNIQUE,
	position INTEGER NOT NULL
);
`

// GetSchema returns the full schema DDL.
func GetSchema() string {
	return schema
}
