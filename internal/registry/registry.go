// Package registry keeps the record of every uploaded document in SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"ragchat/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	file_path    TEXT NOT NULL UNIQUE,
	file_type    TEXT NOT NULL,
	file_size    INTEGER NOT NULL,
	file_hash    TEXT NOT NULL UNIQUE,
	summary      TEXT NOT NULL DEFAULT '',
	word_count   INTEGER NOT NULL DEFAULT 0,
	processed    BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at)`

const columns = `id, filename, file_path, file_type, file_size, file_hash, summary, word_count, processed, created_at, processed_at`

// SQLiteStore implements domain.DocumentStore.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open connects to the database at path and creates the schema if needed.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect document registry: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init document registry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, doc domain.Document) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO documents (`+columns+`)
		VALUES (:id, :filename, :file_path, :file_type, :file_size, :file_hash, :summary, :word_count, :processed, :created_at, :processed_at)`, doc)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%s: %w", doc.Filename, domain.ErrDuplicateDocument)
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, where string, arg any) (domain.Document, error) {
	var doc domain.Document
	err := s.db.GetContext(ctx, &doc, `SELECT `+columns+` FROM documents WHERE `+where+` = ?`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Document, error) {
	return s.get(ctx, "id", id)
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (domain.Document, error) {
	return s.get(ctx, "file_hash", hash)
}

func (s *SQLiteStore) FindByPath(ctx context.Context, path string) (domain.Document, error) {
	return s.get(ctx, "file_path", path)
}

// List returns documents newest first.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	docs := []domain.Document{}
	err := s.db.SelectContext(ctx, &docs, `SELECT `+columns+` FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id, summary string, wordCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processed = 1, summary = ?, word_count = ?, processed_at = ? WHERE id = ?`,
		summary, wordCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	return requireOne(res)
}

// MarkUnprocessed clears the processed flag ahead of reindexing.
func (s *SQLiteStore) MarkUnprocessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET processed = 0, processed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark document unprocessed: %w", err)
	}
	return requireOne(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
