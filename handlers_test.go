package inkpress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/inkpress/api"
)

func setupTestApp(t *testing.T) *App {
	t.Helper()
	s := setupTestStore(t)
	return &App{
		Config: SiteConfig{Name: "Test Blog", URL: "http://localhost:3000"},
		Echo:   echo.New(),
		Store:  s,
		Cache:  NewPostCache(s, time.Minute),
		Views:  ViewFuncs{}.withDefaults(),
	}
}

func apiGet(t *testing.T, a *App, handler echo.HandlerFunc, path string, params map[string]string) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := a.Echo.NewContext(req, rec)
	var names, values []string
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)

	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	var resp api.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return rec, resp
}

func TestAPIListPosts(t *testing.T) {
	a := setupTestApp(t)
	posts := []Post{
		{Slug: "one", Title: "One", Date: "2024-01-02", Tags: []string{"go"}, Category: "eng", Published: true},
		{Slug: "two", Title: "Two", Date: "2024-01-01", Tags: []string{"life"}, Category: "notes", Published: true},
		{Slug: "hidden", Title: "Hidden", Date: "2024-01-03", Published: false},
	}
	for _, p := range posts {
		if err := a.Store.SavePost(p); err != nil {
			t.Fatalf("SavePost failed: %v", err)
		}
	}

	rec, resp := apiGet(t, a, a.apiListPosts, "/api/posts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	var got []Post
	data, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected payload: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d posts, want 2 published", len(got))
	}
	if got[0].Slug != "one" {
		t.Errorf("posts should be newest first, got %q", got[0].Slug)
	}

	rec, resp = apiGet(t, a, a.apiListPosts, "/api/posts?tag=go", nil)
	data, _ = json.Marshal(resp.Data)
	got = nil
	_ = json.Unmarshal(data, &got)
	if len(got) != 1 || got[0].Slug != "one" {
		t.Errorf("tag filter returned %+v, want just one", got)
	}

	rec, resp = apiGet(t, a, a.apiListPosts, "/api/posts?category=notes", nil)
	data, _ = json.Marshal(resp.Data)
	got = nil
	_ = json.Unmarshal(data, &got)
	if len(got) != 1 || got[0].Slug != "two" {
		t.Errorf("category filter returned %+v, want just two", got)
	}
}

func TestAPIGetPostNotFound(t *testing.T) {
	a := setupTestApp(t)

	rec, resp := apiGet(t, a, a.apiGetPost, "/api/posts/missing", map[string]string{"slug": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Success {
		t.Fatal("expected failure envelope")
	}
	if resp.Error == nil || resp.Error.Code != api.CodeNotFound {
		t.Fatalf("expected %s, got %+v", api.CodeNotFound, resp.Error)
	}
}

func TestAPIListTagsEmpty(t *testing.T) {
	a := setupTestApp(t)

	rec, resp := apiGet(t, a, a.apiListTags, "/api/tags", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// An empty list marshals as [], never null.
	data, _ := json.Marshal(resp.Data)
	if string(data) != "[]" {
		t.Errorf("empty tags payload = %s, want []", data)
	}
}

func TestCacheInvalidation(t *testing.T) {
	a := setupTestApp(t)

	if err := a.Store.SavePost(Post{Slug: "first", Title: "First", Date: "2024-01-01", Published: true}); err != nil {
		t.Fatalf("SavePost failed: %v", err)
	}
	posts, err := a.Cache.ListPosts("")
	if err != nil {
		t.Fatalf("ListPosts failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}

	// A write behind the cache is invisible until invalidation.
	if err := a.Store.SavePost(Post{Slug: "second", Title: "Second", Date: "2024-01-02", Published: true}); err != nil {
		t.Fatalf("SavePost failed: %v", err)
	}
	posts, _ = a.Cache.ListPosts("")
	if len(posts) != 1 {
		t.Fatalf("cache should still serve the stale list, got %d posts", len(posts))
	}

	a.Cache.Invalidate()
	posts, _ = a.Cache.ListPosts("")
	if len(posts) != 2 {
		t.Fatalf("got %d posts after invalidation, want 2", len(posts))
	}
}
