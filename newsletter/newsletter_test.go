package newsletter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/inkpress/api"
)

type memStore struct {
	subs    map[string]Subscriber
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]Subscriber)}
}

func (m *memStore) GetSubscriberByEmail(email string) (Subscriber, error) {
	sub, ok := m.subs[email]
	if !ok {
		return Subscriber{}, ErrNoSubscriber
	}
	return sub, nil
}

func (m *memStore) SaveSubscriber(sub Subscriber) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.subs[sub.Email] = sub
	return nil
}

func (m *memStore) ListSubscribers(activeOnly bool) ([]Subscriber, error) {
	var out []Subscriber
	for _, sub := range m.subs {
		if activeOnly && !sub.Subscribed {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func subscribeRequest(t *testing.T, h *Handler, body, ip string) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/newsletter/subscribe", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Subscribe(c))

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestSubscribeSuccess(t *testing.T) {
	store := newMemStore()
	limiter, _ := testLimiter(3, 24*time.Hour)
	h := NewHandler(store, limiter)

	rec, resp := subscribeRequest(t, h, `{"email":"Reader@Example.com","source":"footer"}`, "203.0.113.50")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	sub, ok := store.subs["reader@example.com"]
	require.True(t, ok, "subscriber should be persisted under the normalized email")
	assert.True(t, sub.Subscribed)
	assert.Equal(t, "footer", sub.Source)
	assert.NotEmpty(t, sub.ID)
}

func TestSubscribeInvalidEmail(t *testing.T) {
	h := NewHandler(newMemStore(), nil)

	for _, body := range []string{`{"email":""}`, `{"email":"not-an-email"}`, `{"email":"a@b"}`} {
		rec, resp := subscribeRequest(t, h, body, "203.0.113.51")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	}
}

func TestSubscribeRateLimited(t *testing.T) {
	store := newMemStore()
	limiter, _ := testLimiter(3, 24*time.Hour)
	h := NewHandler(store, limiter)
	ip := "203.0.113.52"

	for i := 0; i < 3; i++ {
		body := `{"email":"reader` + string(rune('a'+i)) + `@example.com"}`
		rec, _ := subscribeRequest(t, h, body, ip)
		require.Equal(t, http.StatusCreated, rec.Code, "subscription %d should succeed", i+1)
	}

	rec, resp := subscribeRequest(t, h, `{"email":"fourth@example.com"}`, ip)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "hour")

	// The rejected attempt must not be stored.
	_, ok := store.subs["fourth@example.com"]
	assert.False(t, ok)
}

func TestSubscribeUnresolvedClient(t *testing.T) {
	limiter, _ := testLimiter(3, 24*time.Hour)
	h := NewHandler(newMemStore(), limiter)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/newsletter/subscribe", strings.NewReader(`{"email":"reader@example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.RemoteAddr = "" // no socket address, no forwarding headers
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Subscribe(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestSubscribeDuplicateDoesNotConsumeQuota(t *testing.T) {
	store := newMemStore()
	limiter, _ := testLimiter(1, 24*time.Hour)
	h := NewHandler(store, limiter)
	ip := "203.0.113.53"

	store.subs["reader@example.com"] = Subscriber{ID: "s1", Email: "reader@example.com", Subscribed: true}

	rec, resp := subscribeRequest(t, h, `{"email":"reader@example.com"}`, ip)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	// The duplicate released its slot, so a real subscription still fits.
	rec, _ = subscribeRequest(t, h, `{"email":"other@example.com"}`, ip)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubscribeSaveFailureReleasesSlot(t *testing.T) {
	store := newMemStore()
	limiter, _ := testLimiter(1, 24*time.Hour)
	h := NewHandler(store, limiter)
	ip := "203.0.113.54"

	store.saveErr = errors.New("disk full")
	rec, _ := subscribeRequest(t, h, `{"email":"reader@example.com"}`, ip)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	store.saveErr = nil
	rec, _ = subscribeRequest(t, h, `{"email":"reader@example.com"}`, ip)
	assert.Equal(t, http.StatusCreated, rec.Code, "failed write must not consume the quota")
}

func TestSubscribeReactivatesUnsubscribed(t *testing.T) {
	store := newMemStore()
	limiter, _ := testLimiter(3, 24*time.Hour)
	h := NewHandler(store, limiter)

	store.subs["reader@example.com"] = Subscriber{ID: "s1", Email: "reader@example.com", Subscribed: false}

	rec, _ := subscribeRequest(t, h, `{"email":"reader@example.com","source":"popup"}`, "203.0.113.55")
	assert.Equal(t, http.StatusCreated, rec.Code)

	sub := store.subs["reader@example.com"]
	assert.True(t, sub.Subscribed)
	assert.Equal(t, "s1", sub.ID, "reactivation keeps the original id")
	assert.Equal(t, "popup", sub.Source)
}

func TestUnsubscribe(t *testing.T) {
	store := newMemStore()
	h := NewHandler(store, nil)
	store.subs["reader@example.com"] = Subscriber{ID: "s1", Email: "reader@example.com", Subscribed: true}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/newsletter/unsubscribe", strings.NewReader(`{"email":"reader@example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Unsubscribe(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.subs["reader@example.com"].Subscribed)
}

func TestUnsubscribeUnknownEmail(t *testing.T) {
	h := NewHandler(newMemStore(), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/newsletter/unsubscribe", strings.NewReader(`{"email":"ghost@example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Unsubscribe(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}
