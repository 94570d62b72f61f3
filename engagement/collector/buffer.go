// Package collector is the client-side half of the engagement pipeline: a
// small local buffer of interaction events plus a flusher that ships the
// whole buffer to the ingest endpoint on an interval and on shutdown.
//
// The buffer mirrors the browser cookie schema served by engage.js, so a Go
// client (preview tooling, native apps, tests) produces batches the server
// ingests identically.
package collector

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/eringen/inkpress/engagement"
)

// Buffer capacity and filtering rules.
const (
	MaxURLClicks   = 100
	MaxPageScrolls = 50
	MinScrollDepth = 25 // scrolls at or below this percentage are ignored
)

// Buffer accumulates engagement events locally. Its JSON form is the batch
// payload shape the ingest endpoint expects in `data`.
type Buffer struct {
	PostViews    map[string]int           `json:"postViews"`
	URLClicks    []engagement.BatchClick  `json:"urlClicks"`
	PageScrolls  []engagement.BatchScroll `json:"pageScrolls"`
	LastActivity int64                    `json:"lastActivity"` // unix milliseconds
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{PostViews: make(map[string]int)}
}

// AddPostView increments the view count for a post.
func (b *Buffer) AddPostView(postID string, now int64) {
	if b.PostViews == nil {
		b.PostViews = make(map[string]int)
	}
	b.PostViews[postID]++
	b.LastActivity = now
}

// AddURLClick appends a click record, evicting the oldest entries beyond
// MaxURLClicks.
func (b *Buffer) AddURLClick(url, referrer string, now int64) {
	b.URLClicks = append(b.URLClicks, engagement.BatchClick{URL: url, Referrer: referrer, Timestamp: now})
	if n := len(b.URLClicks); n > MaxURLClicks {
		b.URLClicks = b.URLClicks[n-MaxURLClicks:]
	}
	b.LastActivity = now
}

// AddPageScroll appends a scroll record when the depth clears MinScrollDepth,
// evicting the oldest entries beyond MaxPageScrolls. Shallow scrolls are a
// no-op and do not touch LastActivity.
func (b *Buffer) AddPageScroll(page string, scrollDepth int, now int64) {
	if scrollDepth <= MinScrollDepth {
		return
	}
	b.PageScrolls = append(b.PageScrolls, engagement.BatchScroll{Page: page, ScrollDepth: scrollDepth, Timestamp: now})
	if n := len(b.PageScrolls); n > MaxPageScrolls {
		b.PageScrolls = b.PageScrolls[n-MaxPageScrolls:]
	}
	b.LastActivity = now
}

// Summary describes the buffer contents without exposing them.
type Summary struct {
	TotalPostViews   int   `json:"totalPostViews"` // distinct posts viewed, not total view count
	TotalURLClicks   int   `json:"totalUrlClicks"`
	TotalPageScrolls int   `json:"totalPageScrolls"`
	LastActivity     int64 `json:"lastActivity"`
}

// Empty reports whether the buffer holds no activity at all.
func (s Summary) Empty() bool {
	return s.TotalPostViews == 0 && s.TotalURLClicks == 0 && s.TotalPageScrolls == 0
}

// Summary returns counts for the current buffer contents.
func (b *Buffer) Summary() Summary {
	return Summary{
		TotalPostViews:   len(b.PostViews),
		TotalURLClicks:   len(b.URLClicks),
		TotalPageScrolls: len(b.PageScrolls),
		LastActivity:     b.LastActivity,
	}
}

// BatchData converts the buffer into the ingest payload shape.
func (b *Buffer) BatchData() *engagement.BatchData {
	return &engagement.BatchData{
		PostViews:    b.PostViews,
		URLClicks:    b.URLClicks,
		PageScrolls:  b.PageScrolls,
		LastActivity: b.LastActivity,
	}
}

// BufferStore persists a buffer between runs.
type BufferStore interface {
	Load() (*Buffer, error)
	Save(*Buffer) error
}

// CookieCodec encodes buffers to and from cookie-safe strings
// (base64(JSON)), matching the browser collector's on-wire cookie value.
type CookieCodec struct{}

// Encode serializes a buffer to a cookie-safe string.
func (CookieCodec) Encode(b *Buffer) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a cookie value. A corrupt or empty value yields a fresh
// buffer rather than an error: client state is disposable.
func (CookieCodec) Decode(value string) *Buffer {
	if value == "" {
		return NewBuffer()
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return NewBuffer()
	}
	var b Buffer
	if err := json.Unmarshal(raw, &b); err != nil {
		return NewBuffer()
	}
	if b.PostViews == nil {
		b.PostViews = make(map[string]int)
	}
	return &b
}

// MemoryStore keeps the buffer in process memory. Zero value is usable.
type MemoryStore struct {
	buf *Buffer
}

// Load returns the stored buffer, or a fresh one.
func (m *MemoryStore) Load() (*Buffer, error) {
	if m.buf == nil {
		m.buf = NewBuffer()
	}
	return m.buf, nil
}

// Save retains the buffer.
func (m *MemoryStore) Save(b *Buffer) error {
	m.buf = b
	return nil
}

// FileStore persists the buffer to a single file using the cookie encoding,
// for CLI and embedded clients that outlive the process.
type FileStore struct {
	Path  string
	codec CookieCodec
}

// Load reads the buffer file; a missing or corrupt file yields a fresh buffer.
func (f *FileStore) Load() (*Buffer, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewBuffer(), nil
		}
		return nil, err
	}
	return f.codec.Decode(string(data)), nil
}

// Save writes the buffer file.
func (f *FileStore) Save(b *Buffer) error {
	value, err := f.codec.Encode(b)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(value), 0o644)
}
