// Package filestore keeps each article as a pretty-printed JSON file named
// <id>.json inside a single directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alphabot-ai/articles/internal/model"
	"github.com/alphabot-ai/articles/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recordExt              = ".json"
	defaultReadConcurrency = 8
)

type Options struct {
	Logger *zap.Logger
	// Now stamps new articles. Defaults to time.Now.
	Now func() time.Time
	// ReadConcurrency bounds the parallel file reads done by List.
	ReadConcurrency int
}

type Store struct {
	dir             string
	log             *zap.Logger
	now             func() time.Time
	readConcurrency int
	locks           *lockTable
}

var _ store.ArticleStore = (*Store)(nil)

// Open prepares dir for use, creating it when absent.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", store.ErrUnavailable, dir, err)
	}
	s := &Store{
		dir:             dir,
		log:             opts.Logger,
		now:             opts.Now,
		readConcurrency: opts.ReadConcurrency,
		locks:           newLockTable(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.readConcurrency <= 0 {
		s.readConcurrency = defaultReadConcurrency
	}
	return s, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) List(ctx context.Context) ([]model.Article, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", store.ErrUnavailable, s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if !store.ValidID(id) {
			s.log.Debug("skipping file with invalid id", zap.String("file", name))
			continue
		}
		ids = append(ids, id)
	}

	articles := make([]model.Article, len(ids))
	present := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := s.read(id)
			if err != nil {
				// Deleted between ReadDir and read.
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			articles[i] = a
			present[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := articles[:0]
	for i, a := range articles {
		if present[i] {
			out = append(out, a)
		}
	}
	store.SortByDate(out)
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Article, error) {
	if err := store.CheckID(id); err != nil {
		return model.Article{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Article{}, err
	}
	return s.read(id)
}

func (s *Store) Create(ctx context.Context, title, content string) (model.Article, error) {
	if err := ctx.Err(); err != nil {
		return model.Article{}, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		id, err := store.NewID()
		if err != nil {
			return model.Article{}, fmt.Errorf("%w: generate id: %w", store.ErrUnavailable, err)
		}
		a, err := s.createWithID(id, title, content)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return a, err
	}
	return model.Article{}, fmt.Errorf("%w: could not allocate a unique id", store.ErrUnavailable)
}

func (s *Store) createWithID(id, title, content string) (model.Article, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := os.Lstat(s.path(id)); err == nil {
		return model.Article{}, fs.ErrExist
	}
	a := model.Article{
		ID:      id,
		Title:   title,
		Content: content,
		Date:    s.now().UTC().Round(0),
	}
	if err := s.write(a); err != nil {
		return model.Article{}, err
	}
	return a, nil
}

func (s *Store) Update(ctx context.Context, id string, upd model.ArticleUpdate) (model.Article, error) {
	if err := store.CheckID(id); err != nil {
		return model.Article{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Article{}, err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	existing, err := s.read(id)
	if err != nil {
		return model.Article{}, err
	}
	updated := upd.Apply(existing)
	if err := s.write(updated); err != nil {
		return model.Article{}, err
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := store.CheckID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: article %s", store.ErrNotFound, id)
		}
		return fmt.Errorf("%w: delete %s: %w", store.ErrUnavailable, id, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *Store) read(id string) (model.Article, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Article{}, fmt.Errorf("%w: article %s: %w", store.ErrNotFound, id, err)
		}
		return model.Article{}, fmt.Errorf("%w: read %s: %w", store.ErrUnavailable, id, err)
	}
	var a model.Article
	if err := json.Unmarshal(data, &a); err != nil {
		return model.Article{}, fmt.Errorf("%w: article %s: %w", store.ErrCorruptRecord, id, err)
	}
	if a.ID != id {
		if a.ID != "" {
			s.log.Warn("embedded id differs from filename, using filename",
				zap.String("file_id", id), zap.String("embedded_id", a.ID))
		}
		a.ID = id
	}
	return a, nil
}

// write replaces the record for a.ID through a temp file and rename, so a
// concurrent reader sees either the old or the new record.
func (s *Store) write(a model.Article) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", store.ErrUnavailable, a.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+a.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", store.ErrUnavailable, a.ID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %w", store.ErrUnavailable, a.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %w", store.ErrUnavailable, a.ID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %w", store.ErrUnavailable, a.ID, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod %s: %w", store.ErrUnavailable, a.ID, err)
	}
	if err := os.Rename(tmpName, s.path(a.ID)); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %w", store.ErrUnavailable, a.ID, err)
	}
	return nil
}
