package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alphabot-ai/articles/internal/client"

	"go.uber.org/zap"
)

var articles = []struct {
	title   string
	content string
}{
	{"Welcome", "This site keeps every article as a small JSON file on disk.\n\nLog in under /admin to write your own."},
	{"Writing in plain text", "Content is shown exactly as typed.\nLine breaks are kept, markup is not interpreted."},
	{"Backups are just copies", "Copy the articles directory somewhere safe and you have a full backup."},
	{"Editing keeps the date", "Changing a title or the body never moves an article in the list.\nThe publication date is fixed when it is first saved."},
	{"Deleting is final", "There is no trash can. Deleted articles are gone for good."},
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "articles server URL")
	user := flag.String("user", envOr("ARTICLES_ADMIN_USER", "admin"), "admin username")
	password := flag.String("password", os.Getenv("ARTICLES_ADMIN_PASSWORD"), "admin password")
	flag.Parse()

	logger := zap.Must(zap.NewDevelopment())
	defer func() { _ = logger.Sync() }()

	if *password == "" {
		logger.Fatal("admin password required: pass --password or set ARTICLES_ADMIN_PASSWORD")
	}

	c := client.New(*baseURL).WithCredentials(*user, *password)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger.Info("seeding articles", zap.String("url", *baseURL), zap.Int("count", len(articles)))

	total, err := seed(ctx, c, logger)
	if err != nil {
		logger.Fatal("seeding failed", zap.Error(err))
	}
	logger.Info("seeding complete", zap.Int("total", total))
}

// seed creates the sample articles and returns how many the server now holds.
func seed(ctx context.Context, c *client.Client, logger *zap.Logger) (int, error) {
	for _, a := range articles {
		created, err := c.Create(ctx, a.title, a.content)
		if err != nil {
			return 0, fmt.Errorf("create %q: %w", a.title, err)
		}
		logger.Info("created article", zap.String("id", created.ID), zap.String("title", created.Title))
	}

	list, err := c.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list articles: %w", err)
	}
	return len(list), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
