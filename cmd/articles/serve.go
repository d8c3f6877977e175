package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alphabot-ai/articles/internal/auth"
	"github.com/alphabot-ai/articles/internal/config"
	httpapp "github.com/alphabot-ai/articles/internal/http"
	"github.com/alphabot-ai/articles/internal/rate"
	"github.com/alphabot-ai/articles/internal/store"
	"github.com/alphabot-ai/articles/internal/store/filestore"
	"github.com/alphabot-ai/articles/internal/store/sqlite"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var importDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, importDir)
		},
	}
	cmd.Flags().StringVar(&importDir, "import-dir", "", "with the sqlite backend, import every <id>.json from this directory at startup")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, importDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(ctx, cfg, importDir, logger)
	if err != nil {
		logger.Error("failed to open store", zap.String("backend", cfg.Backend), zap.Error(err))
		return err
	}
	defer st.Close()

	creds, err := credentialsFrom(cfg.Admin)
	if err != nil {
		return err
	}
	guard := auth.NewGuard(creds, rate.NewMemory(), auth.Options{
		Realm:             cfg.Admin.Realm,
		FailuresPerMinute: cfg.Admin.FailuresPerMinute,
		TrustForwardedFor: cfg.Admin.TrustForwardedFor,
	})

	server, err := httpapp.NewServer(st, guard, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	if cfg.Path != "" {
		go func() {
			err := config.Watch(ctx, cfg.Path, logger, func(next config.Config) {
				creds, err := credentialsFrom(next.Admin)
				if err != nil {
					logger.Error("ignoring reloaded admin credentials", zap.Error(err))
					return
				}
				guard.SetCredentials(creds)
				logger.Info("admin credentials reloaded", zap.String("username", creds.Username))
			})
			if err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting",
		zap.String("addr", cfg.ListenAddr()),
		zap.String("backend", cfg.Backend),
		zap.String("articles_dir", cfg.ArticlesDir),
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.String("admin_user", cfg.Admin.Username),
		zap.String("realm", cfg.Admin.Realm),
		zap.String("config", cfg.Path),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server running on " + displayURL(cfg.ListenAddr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, importDir string, logger *zap.Logger) (store.ArticleStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if importDir != "" {
			src, err := filestore.Open(importDir, filestore.Options{Logger: logger})
			if err != nil {
				db.Close()
				return nil, err
			}
			n, err := db.Import(ctx, src)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("import %s: %w", importDir, err)
			}
			logger.Info("imported articles", zap.String("dir", importDir), zap.Int("count", n))
		}
		return db, nil
	default:
		if importDir != "" {
			logger.Warn("--import-dir only applies to the sqlite backend", zap.String("dir", importDir))
		}
		return filestore.Open(cfg.ArticlesDir, filestore.Options{Logger: logger})
	}
}

func credentialsFrom(admin config.Admin) (auth.Credentials, error) {
	return auth.NewCredentials(admin.Username, admin.Password, admin.PasswordHash, 0)
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// displayURL turns a listen address like ":3000" into a clickable URL.
func displayURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
