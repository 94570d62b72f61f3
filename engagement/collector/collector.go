package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eringen/inkpress/engagement"
)

// DefaultFlushInterval matches the browser collector's 60-second cycle.
const DefaultFlushInterval = 60 * time.Second

// Option configures a Collector.
type Option func(*Collector)

// WithHTTPClient sets the HTTP client used for flushes.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Collector) { c.client = client }
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) { c.interval = d }
}

// WithSessionID pins the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(c *Collector) { c.sessionID = id }
}

// Collector accumulates engagement events in a persistent local buffer and
// flushes the full buffer (never a delta) to the ingest endpoint. A flush
// does not clear the buffer and a failed flush is dropped: the next cycle
// resends everything, and the server tolerates duplicate batches.
//
// Unlike the single-threaded browser environment this mirrors, Go callers
// may track from multiple goroutines; a mutex serializes buffer mutations.
type Collector struct {
	mu        sync.Mutex
	buf       *Buffer
	store     BufferStore
	client    *http.Client
	endpoint  string
	sessionID string
	interval  time.Duration
	nowMillis func() int64
}

// New creates a Collector posting to endpoint (the full ingest URL) and
// persisting its buffer through store.
func New(endpoint string, store BufferStore, opts ...Option) (*Collector, error) {
	buf, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("collector: load buffer: %w", err)
	}
	c := &Collector{
		buf:       buf,
		store:     store,
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  endpoint,
		sessionID: uuid.NewString(),
		interval:  DefaultFlushInterval,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// save persists the buffer synchronously. A failed local write is logged
// nowhere and dropped: tracking must never surface errors to the caller.
func (c *Collector) save() {
	_ = c.store.Save(c.buf)
}

// TrackPostView records one view of a post.
func (c *Collector) TrackPostView(postID string) {
	if postID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.AddPostView(postID, c.nowMillis())
	c.save()
}

// TrackURLClick records an outbound link click.
func (c *Collector) TrackURLClick(url, referrer string) {
	if url == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.AddURLClick(url, referrer, c.nowMillis())
	c.save()
}

// TrackPageScroll records a scroll depth reading. Depths at or below the
// threshold are dropped.
func (c *Collector) TrackPageScroll(page string, scrollDepth int) {
	if page == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.AddPageScroll(page, scrollDepth, c.nowMillis())
	c.save()
}

// Summary returns counts of the buffered activity.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Summary()
}

// Flush sends the entire current buffer as one batch request. It skips the
// network call when the buffer shows zero activity, never clears the buffer,
// and does not retry: a failure is superseded by the next cycle's resend.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.buf.Summary().Empty() {
		c.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(c.buf.BatchData())
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("collector: marshal batch: %w", err)
	}
	payload := engagement.IngestRequest{
		Type:      engagement.TypeBatch,
		SessionID: c.sessionID,
		Data:      data,
	}
	body, err := json.Marshal(payload)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("collector: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector: flush: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector: flush: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Run flushes on a fixed interval until ctx is cancelled, then performs one
// final flush on shutdown. Flush errors are intentionally ignored; the full
// buffer rides along on the next cycle.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Flush(final)
			cancel()
			return
		case <-ticker.C:
			_ = c.Flush(ctx)
		}
	}
}

// Reset discards all buffered activity, the explicit user-initiated clear.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = NewBuffer()
	c.save()
}
