// Package client provides a Go client for the articles server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alphabot-ai/articles/internal/model"
)

var (
	ErrNotFound     = errors.New("article not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed (%d)", e.StatusCode)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// Client talks to the JSON side of the server. Admin calls use HTTP basic
// auth with Username and Password.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Username   string
	Password   string
}

// New creates a new client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithCredentials sets the admin credentials and returns c.
func (c *Client) WithCredentials(username, password string) *Client {
	c.Username = username
	c.Password = password
	return c
}

// List fetches every article, newest first.
func (c *Client) List(ctx context.Context) ([]model.Article, error) {
	var result struct {
		Articles []model.Article `json:"articles"`
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, false, &result); err != nil {
		return nil, err
	}
	return result.Articles, nil
}

// Get fetches a single article.
func (c *Client) Get(ctx context.Context, id string) (model.Article, error) {
	var a model.Article
	err := c.do(ctx, http.MethodGet, "/article/"+id, nil, false, &a)
	return a, err
}

// Create publishes a new article.
func (c *Client) Create(ctx context.Context, title, content string) (model.Article, error) {
	var a model.Article
	body := map[string]string{"title": title, "content": content}
	err := c.do(ctx, http.MethodPost, "/admin/add", body, true, &a)
	return a, err
}

// Update changes the fields of upd that are set.
func (c *Client) Update(ctx context.Context, id string, upd model.ArticleUpdate) (model.Article, error) {
	var a model.Article
	body := map[string]*string{}
	if upd.Title != nil {
		body["title"] = upd.Title
	}
	if upd.Content != nil {
		body["content"] = upd.Content
	}
	err := c.do(ctx, http.MethodPost, "/admin/edit/"+id, body, true, &a)
	return a, err
}

// Delete removes an article.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/delete/"+id, nil, true, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, admin bool, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
