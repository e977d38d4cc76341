package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Sriram-PR/media-harvester/pkg/reconcile"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

const imagesSchema = `CREATE TABLE images (
	Id          TEXT PRIMARY KEY,
	ImageUrl    TEXT NOT NULL,
	ArticleId   TEXT NOT NULL,
	ArticleIdx  INTEGER NOT NULL,
	ArticleUrl  TEXT NOT NULL,
	ArticleLang TEXT NOT NULL,
	Status      TEXT NOT NULL,
	Path        TEXT,
	Format      TEXT,
	Width       INTEGER,
	Height      INTEGER,
	AspectRatio REAL
);
CREATE INDEX idx_images_status ON images(Status);
CREATE INDEX idx_images_article ON images(ArticleId);`

const insertImage = `INSERT INTO images
	(Id, ImageUrl, ArticleId, ArticleIdx, ArticleUrl, ArticleLang, Status, Path, Format, Width, Height, AspectRatio)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteWriter writes a report into table "images" inside one transaction.
// The database is built beside the target and renamed into place on Close.
type SQLiteWriter struct {
	path    string
	tmpPath string
	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
}

// NewSQLiteWriter creates a fresh database with the images table.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating report directory: %w", utils.ErrFilesystem, err)
	}
	tmpPath := path + ".tmp"
	os.Remove(tmpPath)

	db, err := openDB(tmpPath)
	if err != nil {
		return nil, err
	}
	w := &SQLiteWriter{path: path, tmpPath: tmpPath, db: db}
	if _, err := db.Exec(imagesSchema); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: creating images table: %w", utils.ErrDatabase, err)
	}
	if w.tx, err = db.Begin(); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: begin: %w", utils.ErrDatabase, err)
	}
	if w.stmt, err = w.tx.Prepare(insertImage); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: prepare insert: %w", utils.ErrDatabase, err)
	}
	return w, nil
}

// openDB opens an SQLite file with the pragmas a single-writer export needs.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", utils.ErrDatabase, err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrDatabase, p, err)
		}
	}
	return db, nil
}

// WriteRow implements Writer
func (s *SQLiteWriter) WriteRow(row reconcile.Row) error {
	var (
		path, format  sql.NullString
		width, height sql.NullInt64
		aspect        sql.NullFloat64
	)
	if row.Path != "" {
		path = sql.NullString{String: row.Path, Valid: true}
	}
	if m := row.Metrics; m != nil {
		format = sql.NullString{String: m.Format, Valid: true}
		width = sql.NullInt64{Int64: int64(m.Width), Valid: true}
		height = sql.NullInt64{Int64: int64(m.Height), Valid: true}
		aspect = sql.NullFloat64{Float64: m.AspectRatio, Valid: true}
	}
	_, err := s.stmt.Exec(row.ID, row.ImageURL, row.ArticleID, row.ArticleIdx, row.ArticleURL, row.ArticleLang,
		string(row.Status), path, format, width, height, aspect)
	if err != nil {
		return fmt.Errorf("%w: inserting row %s: %w", utils.ErrDatabase, row.ID, err)
	}
	return nil
}

// Close commits the rows and moves the database to its final path.
func (s *SQLiteWriter) Close() error {
	err := errors.Join(s.stmt.Close(), s.tx.Commit())
	err = errors.Join(err, s.db.Close())
	if err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("%w: finishing report: %w", utils.ErrDatabase, err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("%w: renaming report into place: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Abort implements Writer
func (s *SQLiteWriter) Abort() {
	if s.tx != nil {
		s.tx.Rollback()
	}
	s.db.Close()
	os.Remove(s.tmpPath)
}
