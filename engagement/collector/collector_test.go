package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/eringen/inkpress/engagement"
)

// batchServer records every ingest request it receives.
type batchServer struct {
	mu       sync.Mutex
	requests []engagement.IngestRequest
	status   int
}

func newBatchServer(t *testing.T) (*batchServer, *httptest.Server) {
	t.Helper()
	bs := &batchServer{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req engagement.IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid ingest payload: %v", err)
		}
		bs.mu.Lock()
		bs.requests = append(bs.requests, req)
		status := bs.status
		bs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return bs, srv
}

func (bs *batchServer) count() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.requests)
}

func (bs *batchServer) last() engagement.IngestRequest {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.requests[len(bs.requests)-1]
}

func batchData(t *testing.T, req engagement.IngestRequest) engagement.BatchData {
	t.Helper()
	var data engagement.BatchData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		t.Fatalf("data is not a batch payload: %v", err)
	}
	return data
}

func TestFlushSkipsEmptyBuffer(t *testing.T) {
	bs, srv := newBatchServer(t)

	c, err := New(srv.URL, &MemoryStore{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if bs.count() != 0 {
		t.Fatalf("empty buffer flush made %d requests, want 0", bs.count())
	}
}

func TestFlushSendsFullBufferAndDoesNotClear(t *testing.T) {
	bs, srv := newBatchServer(t)

	c, err := New(srv.URL, &MemoryStore{}, WithSessionID("sess-42"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.TrackPostView("abc")
	c.TrackPostView("abc")
	c.TrackURLClick("https://example.com/", "/blog/abc/")
	c.TrackPageScroll("/blog/abc/", 60)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if bs.count() != 1 {
		t.Fatalf("got %d requests, want 1", bs.count())
	}

	req := bs.last()
	if req.Type != engagement.TypeBatch {
		t.Errorf("Type = %q, want batch", req.Type)
	}
	if req.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want sess-42", req.SessionID)
	}
	if data := batchData(t, req); data.PostViews["abc"] != 2 {
		t.Fatalf("unexpected batch data: %+v", data)
	}

	// The buffer survives the flush; the next flush resends everything.
	if c.Summary().Empty() {
		t.Fatal("flush must not clear the buffer")
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if bs.count() != 2 {
		t.Fatalf("got %d requests after second flush, want 2", bs.count())
	}
	if got := batchData(t, bs.last()).PostViews["abc"]; got != 2 {
		t.Errorf("resent PostViews[abc] = %d, want the full buffer again", got)
	}
}

func TestFlushReportsServerError(t *testing.T) {
	bs, srv := newBatchServer(t)
	bs.status = http.StatusInternalServerError

	c, err := New(srv.URL, &MemoryStore{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.TrackPostView("abc")

	if err := c.Flush(context.Background()); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	// Failed flushes leave the buffer intact for the next cycle.
	if c.Summary().Empty() {
		t.Fatal("failed flush must not clear the buffer")
	}
}

func TestTrackingPersistsThroughStore(t *testing.T) {
	store := &MemoryStore{}

	c, err := New("http://unused.invalid", store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.TrackPostView("abc")
	c.TrackPageScroll("/blog/abc/", 10) // below threshold, dropped

	// A second collector over the same store sees the persisted buffer.
	c2, err := New("http://unused.invalid", store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s := c2.Summary()
	if s.TotalPostViews != 1 {
		t.Errorf("TotalPostViews = %d, want 1", s.TotalPostViews)
	}
	if s.TotalPageScrolls != 0 {
		t.Errorf("TotalPageScrolls = %d, want 0 for a shallow scroll", s.TotalPageScrolls)
	}
}

func TestReset(t *testing.T) {
	c, err := New("http://unused.invalid", &MemoryStore{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.TrackPostView("abc")
	c.Reset()
	if !c.Summary().Empty() {
		t.Fatal("Reset should discard all buffered activity")
	}
}
