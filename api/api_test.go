package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func record(t *testing.T, fn func(echo.Context) error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	if err := fn(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return rec, resp
}

func TestOK(t *testing.T) {
	rec, resp := record(t, func(c echo.Context) error {
		return OK(c, http.StatusCreated, map[string]string{"id": "abc"})
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if !resp.Success || resp.Error != nil {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["id"] != "abc" {
		t.Errorf("data = %v, want the payload back", resp.Data)
	}
}

func TestFail(t *testing.T) {
	rec, resp := record(t, func(c echo.Context) error {
		return Fail(c, http.StatusNotFound, CodeNotFound, "Post not found")
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Success {
		t.Fatal("error envelope must not report success")
	}
	if resp.Error == nil || resp.Error.Code != CodeNotFound || resp.Error.Message != "Post not found" {
		t.Errorf("error = %+v, want code and message preserved", resp.Error)
	}
}

func TestFailInternalHidesDetail(t *testing.T) {
	rec, resp := record(t, func(c echo.Context) error {
		return FailInternal(c, errDetail{})
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != CodeInternal {
		t.Fatalf("expected %s, got %+v", CodeInternal, resp.Error)
	}
	if resp.Error.Message != "Internal server error" {
		t.Errorf("message = %q, internal detail must not leak to the client", resp.Error.Message)
	}
}

type errDetail struct{}

func (errDetail) Error() string { return "dsn=user:pass@tcp(db:3306)/inkpress" }
