package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"home-library/internal/models"
)

// SQLite is a Store persisted in a single database file.
type SQLite struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(path string, logger *logrus.Logger) (*SQLite, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.WithField("path", path).Info("entity database ready")
	return s, nil
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS authors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			added_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS series (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			added_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episode_progress (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			finished_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, item_id, episode_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AuthorByID loads an author or returns ErrNotFound.
func (s *SQLite) AuthorByID(ctx context.Context, id string) (*models.Author, error) {
	var (
		a              models.Author
		added, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, added_at, updated_at FROM authors WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Description, &added, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query author %s: %w", id, err)
	}
	a.AddedAt = fromMillis(added)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

// SeriesByID loads a series or returns ErrNotFound.
func (s *SQLite) SeriesByID(ctx context.Context, id string) (*models.Series, error) {
	var (
		se             models.Series
		added, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, added_at, updated_at FROM series WHERE id = ?`, id,
	).Scan(&se.ID, &se.Name, &se.Description, &added, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query series %s: %w", id, err)
	}
	se.AddedAt = fromMillis(added)
	se.UpdatedAt = fromMillis(updated)
	return &se, nil
}

// Sync upserts every author and series referenced by items in one
// transaction.
func (s *SQLite) Sync(ctx context.Context, items []*models.LibraryItem) error {
	authors, series := collectEntities(items)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	const upsertAuthor = `INSERT INTO authors (id, name, added_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
		WHERE authors.name <> excluded.name`
	for _, a := range authors {
		if _, err := tx.ExecContext(ctx, upsertAuthor, a.ID, a.Name, toMillis(a.AddedAt), toMillis(a.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert author %s: %w", a.ID, err)
		}
	}

	const upsertSeries = `INSERT INTO series (id, name, added_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
		WHERE series.name <> excluded.name`
	for _, se := range series {
		if _, err := tx.ExecContext(ctx, upsertSeries, se.ID, se.Name, toMillis(se.AddedAt), toMillis(se.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert series %s: %w", se.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"authors": len(authors),
		"series":  len(series),
	}).Debug("entity tables synced")
	return nil
}

// FinishedEpisodes returns the episode ids userID finished for itemID.
func (s *SQLite) FinishedEpisodes(ctx context.Context, userID, itemID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_id FROM episode_progress WHERE user_id = ? AND item_id = ?`, userID, itemID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	finished := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		finished[id] = true
	}
	return finished, rows.Err()
}

// SetEpisodeFinished marks or clears an episode as finished.
func (s *SQLite) SetEpisodeFinished(ctx context.Context, userID, itemID, episodeID string, finished bool) error {
	var err error
	if finished {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO episode_progress (user_id, item_id, episode_id, finished_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, item_id, episode_id) DO NOTHING`,
			userID, itemID, episodeID, time.Now().UnixMilli())
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM episode_progress WHERE user_id = ? AND item_id = ? AND episode_id = ?`,
			userID, itemID, episodeID)
	}
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
