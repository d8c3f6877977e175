package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/alphabot-ai/articles/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrCorruptRecord = errors.New("corrupt record")
	ErrUnavailable   = errors.New("store unavailable")
	ErrInvalidID     = errors.New("invalid article id")
)

// ArticleStore persists articles. Implementations must be safe for concurrent
// use and must keep Date unchanged across updates.
type ArticleStore interface {
	List(ctx context.Context) ([]model.Article, error)
	Get(ctx context.Context, id string) (model.Article, error)
	Create(ctx context.Context, title, content string) (model.Article, error)
	Update(ctx context.Context, id string, upd model.ArticleUpdate) (model.Article, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidID reports whether id is safe to use as a filename stem.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// CheckID returns ErrInvalidID wrapped with the offending value.
func CheckID(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// NewID returns a fresh time-ordered identifier.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SortByDate orders articles newest first, breaking ties by id.
func SortByDate(articles []model.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if !articles[i].Date.Equal(articles[j].Date) {
			return articles[i].Date.After(articles[j].Date)
		}
		return articles[i].ID > articles[j].ID
	})
}
