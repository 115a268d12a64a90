// Package storage provides data persistence for harvest reports.
// It implements SQLite-based storage for runs, categories, products and
// phrase frequency tables.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/shelfscan/internal/ngram"
	"github.com/masahif/shelfscan/internal/report"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is not stored
var ErrRunNotFound = errors.New("run not found")

const lastRunKey = "last_run_id"

// SQLiteStorage persists reports in SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	if err := storage.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates the database schema
func (s *SQLiteStorage) InitSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveReport stores r in a single transaction. Saving the same run id
// twice replaces the earlier copy.
func (s *SQLiteStorage) SaveReport(r *report.Report) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", r.RunID); err != nil {
		return fmt.Errorf("failed to replace run %s: %w", r.RunID, err)
	}

	sum := r.Summary
	_, err = tx.Exec(`
		INSERT INTO runs (
			id, generated_at, duration_ms, categories, pages, products, requests,
			rate_limited, transient_errors, permanent_errors, abandoned, rotations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, sum.GeneratedAt, sum.Duration.Milliseconds(), sum.Categories, sum.Pages, sum.Products,
		sum.Requests, sum.RateLimited, sum.Transient, sum.Permanent, sum.Abandoned, sum.Rotations,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	productStmt, err := tx.Prepare(`
		INSERT INTO products (category_id, position, title, link, price, rating, item_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = productStmt.Close() }()

	phraseStmt, err := tx.Prepare(`
		INSERT INTO phrases (category_id, n, rank, phrase, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = phraseStmt.Close() }()

	for _, cat := range r.Categories {
		var finalizedAt any
		if !cat.FinalizedAt.IsZero() {
			finalizedAt = cat.FinalizedAt
		}

		result, err := tx.Exec(`
			INSERT INTO categories (
				run_id, name, seed_url, pages_crawled, final_reason, finalized_at,
				attempts, retries, abandoned, last_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, cat.Category, cat.SeedURL, cat.PagesCrawled, cat.Reason, finalizedAt,
			cat.Attempts, cat.Retries, cat.Abandoned, nullString(cat.LastError),
		)
		if err != nil {
			return fmt.Errorf("failed to insert category %s: %w", cat.Category, err)
		}
		categoryID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for %s: %w", cat.Category, err)
		}

		for i, p := range cat.Products {
			var price, rating any
			if p.Price != nil {
				price = *p.Price
			}
			if p.Rating != nil {
				rating = *p.Rating
			}
			if _, err := productStmt.Exec(categoryID, i, p.Title, nullString(p.Link), price, rating, nullString(p.ItemID)); err != nil {
				return fmt.Errorf("failed to insert product %q: %w", p.Title, err)
			}
		}

		for _, st := range cat.PhraseStats {
			for rank, pc := range cat.Ranking(st.N) {
				if _, err := phraseStmt.Exec(categoryID, st.N, rank+1, pc.Phrase, pc.Count); err != nil {
					return fmt.Errorf("failed to insert phrase %q: %w", pc.Phrase, err)
				}
			}
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO crawl_meta (key, value) VALUES (?, ?)", lastRunKey, r.RunID); err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}

	return tx.Commit()
}

// LoadPhrases returns the stored ranking of n-grams of size n for a category
func (s *SQLiteStorage) LoadPhrases(runID, category string, n int) ([]ngram.PhraseCount, error) {
	var categoryID int64
	err := s.db.QueryRow("SELECT id FROM categories WHERE run_id = ? AND name = ?", runID, category).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRunNotFound, runID, category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}

	rows, err := s.db.Query("SELECT phrase, count FROM phrases WHERE category_id = ? AND n = ? ORDER BY rank", categoryID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query phrases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	phrases := []ngram.PhraseCount{}
	for rows.Next() {
		var pc ngram.PhraseCount
		if err := rows.Scan(&pc.Phrase, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan phrase: %w", err)
		}
		phrases = append(phrases, pc)
	}
	return phrases, rows.Err()
}

// ProductCount returns the number of products stored for a run
func (s *SQLiteStorage) ProductCount(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE c.run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// LastRunID returns the id of the most recently saved run
func (s *SQLiteStorage) LastRunID() (string, error) {
	return s.GetMeta(lastRunKey)
}

// GetMeta retrieves a metadata value
func (s *SQLiteStorage) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM crawl_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
