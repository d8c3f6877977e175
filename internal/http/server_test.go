package httpapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alphabot-ai/articles/internal/auth"
	"github.com/alphabot-ai/articles/internal/model"
	"github.com/alphabot-ai/articles/internal/store"
	"github.com/alphabot-ai/articles/internal/store/filestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser = "admin"
	testPass = "s3cret"
)

func newTestGuard(t *testing.T) *auth.Guard {
	t.Helper()
	creds, err := auth.NewCredentials(testUser, testPass, "", bcrypt.MinCost)
	require.NoError(t, err)
	return auth.NewGuard(creds, nil, auth.Options{})
}

func newTestServer(t *testing.T) (*Server, *filestore.Store) {
	t.Helper()
	st, err := filestore.Open(t.TempDir(), filestore.Options{})
	require.NoError(t, err)
	srv, err := NewServer(st, newTestGuard(t), zap.NewNop())
	require.NoError(t, err)
	return srv, st
}

func do(srv http.Handler, method, path string, form url.Values, admin, asJSON bool) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if admin {
		req.SetBasicAuth(testUser, testPass)
	}
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeArticle(t *testing.T, rec *httptest.ResponseRecorder) model.Article {
	t.Helper()
	var a model.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a), rec.Body.String())
	return a
}

func TestGuestRoutesNeedNoCredentials(t *testing.T) {
	srv, st := newTestServer(t)
	a, err := st.Create(context.Background(), "Public post", "Body text")
	require.NoError(t, err)

	rec := do(srv, http.MethodGet, "/", nil, false, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Public post")
	assert.Contains(t, rec.Body.String(), "/article/"+a.ID)

	rec = do(srv, http.MethodGet, "/article/"+a.ID, nil, false, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Body text")

	rec = do(srv, http.MethodGet, "/static/style.css", nil, false, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/admin"},
		{http.MethodGet, "/admin/add"},
		{http.MethodPost, "/admin/add"},
		{http.MethodGet, "/admin/edit/abc"},
		{http.MethodPost, "/admin/edit/abc"},
		{http.MethodPost, "/admin/delete/abc"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := do(srv, rt.method, rt.path, nil, false, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `Basic realm="Admin Access"`)

			req := httptest.NewRequest(rt.method, rt.path, nil)
			req.SetBasicAuth(testUser, "wrong")
			bad := httptest.NewRecorder()
			srv.ServeHTTP(bad, req)
			assert.Equal(t, http.StatusUnauthorized, bad.Code)
		})
	}
}

func TestArticleLifecycleScenario(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/admin/add", url.Values{"title": {"Hello"}, "content": {"World"}}, true, false)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))

	rec = do(srv, http.MethodGet, "/admin", nil, true, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Articles []model.Article `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Articles, 1)
	id := list.Articles[0].ID
	date := list.Articles[0].Date

	rec = do(srv, http.MethodGet, "/article/"+id, nil, false, true)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeArticle(t, rec)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "World", got.Content)
	assert.True(t, got.Date.Equal(date))

	rec = do(srv, http.MethodPost, "/admin/edit/"+id, url.Values{"title": {"Hi"}}, true, false)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = do(srv, http.MethodGet, "/article/"+id, nil, false, true)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeArticle(t, rec)
	assert.Equal(t, "Hi", got.Title)
	assert.Equal(t, "World", got.Content)
	assert.True(t, got.Date.Equal(date))

	rec = do(srv, http.MethodPost, "/admin/delete/"+id, nil, true, false)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = do(srv, http.MethodGet, "/article/"+id, nil, false, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJSONCreateAndUpdate(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/add", strings.NewReader(`{"title":"J","content":"json body"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(testUser, testPass)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeArticle(t, rec)
	assert.Equal(t, "/article/"+created.ID, rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodPost, "/admin/edit/"+created.ID, strings.NewReader(`{"content":"changed"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(testUser, testPass)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeArticle(t, rec)
	assert.Equal(t, "J", updated.Title)
	assert.Equal(t, "changed", updated.Content)
}

func TestAdminPagesRender(t *testing.T) {
	srv, st := newTestServer(t)
	a, err := st.Create(context.Background(), "Editable", "text")
	require.NoError(t, err)

	rec := do(srv, http.MethodGet, "/admin", nil, true, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), a.ID)
	assert.Contains(t, rec.Body.String(), `action="/admin/delete/`+a.ID+`"`)

	rec = do(srv, http.MethodGet, "/admin/add", nil, true, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/admin/add"`)

	rec = do(srv, http.MethodGet, "/admin/edit/"+a.ID, nil, true, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Editable"`)
}

func TestMarkupIsEscaped(t *testing.T) {
	srv, st := newTestServer(t)
	a, err := st.Create(context.Background(), `<b>bold</b>`, `<script>alert("x")</script>`)
	require.NoError(t, err)

	rec := do(srv, http.MethodGet, "/article/"+a.ID, nil, false, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "<script>alert")
	assert.NotContains(t, body, "<b>bold</b>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestInvalidAndMissingIDs(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/article/bad.id", nil, false, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/article/..%2F..%2Fetc%2Fpasswd", nil, false, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodGet, "/article/missing", nil, false, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Article not found")

	rec = do(srv, http.MethodGet, "/admin/edit/missing", nil, true, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodPost, "/admin/edit/missing", url.Values{"title": {"x"}}, true, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodPost, "/admin/delete/missing", nil, true, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodPost, "/admin/delete/bad.id", nil, true, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid article id"}`, rec.Body.String())
}

func TestMissingAndCorruptRecordStatuses(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "broken.json"), []byte("{not json"), 0o644))

	// Deleting something that is not there is a 404, not a server error.
	rec := do(srv, http.MethodPost, "/admin/delete/gone", nil, true, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Article not found"}`, rec.Body.String())

	// A record that exists but cannot be decoded is a 500 everywhere.
	rec = do(srv, http.MethodGet, "/article/broken", nil, false, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(srv, http.MethodGet, "/admin/edit/broken", nil, true, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(srv, http.MethodGet, "/", nil, false, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAddValidation(t *testing.T) {
	srv, st := newTestServer(t)

	rec := do(srv, http.MethodPost, "/admin/add", url.Values{"content": {"no title"}}, true, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)


	rec = do(srv, http.MethodPost, "/admin/add", url.Values{"title": {"only title"}}, true, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a, err := st.Create(context.Background(), "t", "c")
	require.NoError(t, err)
	rec = do(srv, http.MethodPost, "/admin/edit/"+a.ID, url.Values{}, true, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFieldsOnlyNeedToBePresent(t *testing.T) {
	srv, st := newTestServer(t)

	rec := do(srv, http.MethodPost, "/admin/add", url.Values{"title": {""}, "content": {""}}, true, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeArticle(t, rec)
	assert.Equal(t, "", created.Title)

	rec = do(srv, http.MethodPost, "/admin/edit/"+created.ID, url.Values{"title": {"   "}}, true, false)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	got, err := st.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "   ", got.Title)
	assert.Equal(t, "", got.Content)
}

func TestMethodsAndUnknownPaths(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/", nil, false, false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(srv, http.MethodGet, "/admin/delete/abc", nil, true, false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))

	rec = do(srv, http.MethodGet, "/nope", nil, false, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodGet, "/admin/unknown", nil, true, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCrossOriginPostRejected(t *testing.T) {
	srv, st := newTestServer(t)

	form := url.Values{"title": {"x"}, "content": {"y"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example")
	req.SetBasicAuth(testUser, testPass)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "http://example.com")
	req.SetBasicAuth(testUser, testPass)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	list, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

type brokenStore struct{}

func (brokenStore) List(context.Context) ([]model.Article, error) {
	return nil, store.ErrUnavailable
}
func (brokenStore) Get(context.Context, string) (model.Article, error) {
	return model.Article{}, store.ErrCorruptRecord
}
func (brokenStore) Create(context.Context, string, string) (model.Article, error) {
	return model.Article{}, store.ErrUnavailable
}
func (brokenStore) Update(context.Context, string, model.ArticleUpdate) (model.Article, error) {
	return model.Article{}, store.ErrUnavailable
}
func (brokenStore) Delete(context.Context, string) error { return store.ErrUnavailable }
func (brokenStore) Close() error                         { return nil }

func TestStoreFailuresMapTo500(t *testing.T) {
	srv, err := NewServer(brokenStore{}, newTestGuard(t), zap.NewNop())
	require.NoError(t, err)

	rec := do(srv, http.MethodGet, "/", nil, false, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error loading articles")

	rec = do(srv, http.MethodGet, "/article/abc", nil, false, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(srv, http.MethodGet, "/admin", nil, true, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(srv, http.MethodPost, "/admin/add", url.Values{"title": {"t"}, "content": {"c"}}, true, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error saving article")

	rec = do(srv, http.MethodPost, "/admin/edit/abc", url.Values{"title": {"t"}}, true, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(srv, http.MethodPost, "/admin/delete/abc", nil, true, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
