package httpapp

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alphabot-ai/articles/internal/auth"
	"github.com/alphabot-ai/articles/internal/model"
	"github.com/alphabot-ai/articles/internal/store"

	"go.uber.org/zap"
)

const maxFormBytes = 2 << 20

type Server struct {
	store     store.ArticleStore
	guard     *auth.Guard
	log       *zap.Logger
	templates *Templates
	handler   http.Handler
}

func NewServer(st store.ArticleStore, guard *auth.Guard, log *zap.Logger) (*Server, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: st, guard: guard, log: log, templates: tmpl}
	s.handler = s.logRequests(http.HandlerFunc(s.route))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.Path)

	switch {
	case len(segments) == 0:
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleHome(w, r)
		return
	case len(segments) == 2 && segments[0] == "static" && segments[1] == "style.css":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.serveStyle(w, r)
		return
	case len(segments) == 2 && segments[0] == "article":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleArticle(w, r, segments[1])
		return
	case segments[0] == "admin":
		s.handleAdmin(w, r, segments[1:])
		return
	}

	s.notFound(w, r)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, segments []string) {
	if err := s.guard.Check(r); err != nil {
		s.log.Info("admin access denied",
			zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr), zap.Error(err))
		auth.WriteError(w, s.guard, err)
		return
	}
	if r.Method == http.MethodPost && !sameOrigin(r) {
		s.writeMessage(w, r, http.StatusForbidden, "Cross-origin request rejected")
		return
	}

	switch {
	case len(segments) == 0:
		if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleDashboard(w, r)
		return
	case len(segments) == 1 && segments[0] == "add":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreate(w, r)
			return
		}
		s.handleAddForm(w, r)
		return
	case len(segments) == 2 && segments[0] == "edit":
		if !allowMethods(w, r, http.MethodGet, http.MethodHead, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost {
			s.handleUpdate(w, r, segments[1])
			return
		}
		s.handleEditForm(w, r, segments[1])
		return
	case len(segments) == 2 && segments[0] == "delete":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		s.handleDelete(w, r, segments[1])
		return
	}

	s.notFound(w, r)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	articles, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "Error loading articles")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"articles": nonNil(articles)})
		return
	}
	s.render(w, r, s.templates.Home, map[string]any{
		"Title":    "Articles",
		"Articles": articles,
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request, id string) {
	article, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Article not found")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, article)
		return
	}
	s.render(w, r, s.templates.Article, map[string]any{
		"Title":   article.Title,
		"Article": article,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	articles, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "Error loading articles")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"articles": nonNil(articles)})
		return
	}
	s.render(w, r, s.templates.Dashboard, map[string]any{
		"Title":    "Dashboard",
		"Admin":    true,
		"Articles": articles,
	})
}

func (s *Server) handleAddForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, s.templates.Form, map[string]any{
		"Title":  "Add article",
		"Admin":  true,
		"Action": "/admin/add",
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, err := readArticleFields(w, r)
	if err != nil {
		s.writeMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if fields.Title == nil || fields.Content == nil {
		s.writeMessage(w, r, http.StatusBadRequest, "Title and content are required")
		return
	}

	article, err := s.store.Create(r.Context(), *fields.Title, *fields.Content)
	if err != nil {
		s.fail(w, r, err, "Error saving article")
		return
	}
	s.log.Info("article created", zap.String("id", article.ID))

	if wantsJSON(r) {
		w.Header().Set("Location", "/article/"+article.ID)
		writeJSON(w, http.StatusCreated, article)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request, id string) {
	article, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Article not found")
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, article)
		return
	}
	s.render(w, r, s.templates.Form, map[string]any{
		"Title":   "Edit " + article.Title,
		"Admin":   true,
		"Action":  "/admin/edit/" + article.ID,
		"Article": article,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	if err := store.CheckID(id); err != nil {
		s.fail(w, r, err, "Invalid article id")
		return
	}
	fields, err := readArticleFields(w, r)
	if err != nil {
		s.writeMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if fields.Empty() {
		s.writeMessage(w, r, http.StatusBadRequest, "Nothing to update")
		return
	}

	article, err := s.store.Update(r.Context(), id, fields)
	if err != nil {
		s.fail(w, r, err, "Error updating article")
		return
	}
	s.log.Info("article updated", zap.String("id", article.ID))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, article)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err, "Error deleting article")
		return
	}
	s.log.Info("article deleted", zap.String("id", id))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) serveStyle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(styleCSS)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, t *template.Template, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		s.log.Error("render failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// fail maps a store error to a status code and writes msg. Not-found and
// invalid-id errors use a generic message so the body never echoes paths.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		msg = "Article not found"
	case http.StatusBadRequest:
		msg = "Invalid article id"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(msg, zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.log.Debug(msg, zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeMessage(w, r, status, msg)
}

func (s *Server) writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{"error": msg})
		return
	}
	http.Error(w, msg, status)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeMessage(w, r, http.StatusNotFound, "Not found")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readArticleFields extracts title and content from a form or JSON body.
// A field that is absent stays nil.
func readArticleFields(w http.ResponseWriter, r *http.Request) (model.ArticleUpdate, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req struct {
			Title   *string `json:"title"`
			Content *string `json:"content"`
		}
		if err := readJSON(r.Body, &req); err != nil {
			return model.ArticleUpdate{}, errors.New("invalid JSON body")
		}
		return model.ArticleUpdate{Title: req.Title, Content: req.Content}, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return model.ArticleUpdate{}, errors.New("invalid form body")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return model.ArticleUpdate{}, errors.New("invalid form body")
		}
	}

	var upd model.ArticleUpdate
	if v, ok := r.PostForm["title"]; ok && len(v) > 0 {
		upd.Title = &v[0]
	}
	if v, ok := r.PostForm["content"]; ok && len(v) > 0 {
		upd.Content = &v[0]
	}
	return upd, nil
}

// sameOrigin rejects browser form posts coming from another site. Requests
// without an Origin header (non-browser clients) pass.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return origin == ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func nonNil(articles []model.Article) []model.Article {
	if articles == nil {
		return []model.Article{}
	}
	return articles
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
