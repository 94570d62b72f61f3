// Package engagement ingests reader interaction events: post views, URL
// clicks, and page scrolls, delivered either one at a time or as a
// client-accumulated batch that is expanded into individual records.
package engagement

import (
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Event types accepted by the ingest endpoint.
const (
	TypePostView   = "post_view"
	TypeURLClick   = "url_click"
	TypePageScroll = "page_scroll"
	TypeBatch      = "batch"
)

// Event is a single persisted engagement record. A batch request never
// persists as one Event; it is expanded into one Event per contained view
// unit, click, and scroll.
type Event struct {
	ID          int64     `json:"-"`
	SessionID   string    `json:"sessionId,omitempty"`
	Type        string    `json:"type"`
	PostID      string    `json:"postId,omitempty"`
	PostSlug    string    `json:"postSlug,omitempty"`
	URL         string    `json:"url,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	Page        string    `json:"page,omitempty"`
	ScrollDepth int       `json:"scrollDepth,omitempty"`
	Data        string    `json:"data,omitempty"` // free-form JSON payload
	Timestamp   time.Time `json:"timestamp"`
	IPAddress   string    `json:"-"`
	UserAgent   string    `json:"-"`
}

// BatchClick is one click entry inside a client buffer.
type BatchClick struct {
	URL       string `json:"url"`
	Referrer  string `json:"referrer,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds
}

// BatchScroll is one scroll entry inside a client buffer.
type BatchScroll struct {
	Page        string `json:"page"`
	ScrollDepth int    `json:"scrollDepth"`
	Timestamp   int64  `json:"timestamp,omitempty"` // unix milliseconds
}

// BatchData is the client buffer shipped with a type="batch" request.
type BatchData struct {
	PostViews    map[string]int `json:"postViews,omitempty"`
	URLClicks    []BatchClick   `json:"urlClicks,omitempty"`
	PageScrolls  []BatchScroll  `json:"pageScrolls,omitempty"`
	LastActivity int64          `json:"lastActivity,omitempty"` // unix milliseconds
}

// IngestRequest is the wire shape of the ingest endpoint. Data carries the
// raw JSON payload: a BatchData buffer for type="batch", an arbitrary value
// persisted verbatim for single events.
type IngestRequest struct {
	Type        string          `json:"type"`
	PostID      string          `json:"postId,omitempty"`
	PostSlug    string          `json:"postSlug,omitempty"`
	URL         string          `json:"url,omitempty"`
	Referrer    string          `json:"referrer,omitempty"`
	Page        string          `json:"page,omitempty"`
	ScrollDepth int             `json:"scrollDepth,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"` // unix milliseconds
}

// UnknownClient is the fallback identifier when no address can be resolved.
const UnknownClient = "unknown"

// ClientIP resolves the client identifier used for rate limiting and event
// stamping: X-Forwarded-For (first entry), then X-Real-IP, then the socket
// remote address, then Echo's extractor, then "unknown". The newsletter
// limiter shares this resolution so both subsystems key on the same value.
func ClientIP(c echo.Context) string {
	r := c.Request()

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return UnknownClient
}

// millisToTime converts unix milliseconds to UTC time, or returns fallback
// for the zero value.
func millisToTime(ms int64, fallback time.Time) time.Time {
	if ms == 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}
