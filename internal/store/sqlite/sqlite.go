package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/articles/internal/model"
	"github.com/alphabot-ai/articles/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.ArticleStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", store.ErrUnavailable, path, err)
	}
	// One connection keeps read-modify-write cycles serialised.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	date INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_date ON articles(date DESC);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) List(ctx context.Context) ([]model.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, content, date
FROM articles
ORDER BY date DESC, id DESC
`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return articles, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Article, error) {
	if err := store.CheckID(id); err != nil {
		return model.Article{}, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, content, date
FROM articles
WHERE id = ?
`, id)
	return scanArticle(row)
}

func (s *Store) Create(ctx context.Context, title, content string) (model.Article, error) {
	id, err := store.NewID()
	if err != nil {
		return model.Article{}, fmt.Errorf("%w: generate id: %w", store.ErrUnavailable, err)
	}
	a := model.Article{
		ID:      id,
		Title:   title,
		Content: content,
		Date:    s.now().UTC().Round(0),
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO articles (id, title, content, date)
VALUES (?, ?, ?, ?)
`, a.ID, a.Title, a.Content, a.Date.UnixNano()); err != nil {
		return model.Article{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return a, nil
}

func (s *Store) Update(ctx context.Context, id string, upd model.ArticleUpdate) (model.Article, error) {
	if err := store.CheckID(id); err != nil {
		return model.Article{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Article{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	existing, err := scanArticle(tx.QueryRowContext(ctx, `
SELECT id, title, content, date
FROM articles
WHERE id = ?
`, id))
	if err != nil {
		return model.Article{}, err
	}
	updated := upd.Apply(existing)
	if _, err := tx.ExecContext(ctx, `
UPDATE articles SET title = ?, content = ? WHERE id = ?
`, updated.Title, updated.Content, id); err != nil {
		return model.Article{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Article{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := store.CheckID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: article %s", store.ErrNotFound, id)
	}
	return nil
}

// Import copies every article of src, keeping ids and dates. Existing rows
// with the same id are replaced. It returns the number of copied articles.
func (s *Store) Import(ctx context.Context, src store.ArticleStore) (int, error) {
	articles, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, a := range articles {
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO articles (id, title, content, date)
VALUES (?, ?, ?, ?)
`, a.ID, a.Title, a.Content, a.Date.UnixNano()); err != nil {
			return 0, fmt.Errorf("%w: import %s: %w", store.ErrUnavailable, a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return len(articles), nil
}

func scanArticle(scanner interface{ Scan(dest ...any) error }) (model.Article, error) {
	var a model.Article
	var date int64
	if err := scanner.Scan(&a.ID, &a.Title, &a.Content, &date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Article{}, store.ErrNotFound
		}
		return model.Article{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	a.Date = time.Unix(0, date).UTC()
	return a, nil
}
