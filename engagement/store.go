package engagement

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides database operations for engagement events. Events live in
// their own SQLite file, separate from the content database.
type Store struct {
	db *sql.DB
}

// NewStore creates a new engagement store.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open engagement db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			post_id TEXT NOT NULL DEFAULT '',
			post_slug TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			referrer TEXT NOT NULL DEFAULT '',
			page TEXT NOT NULL DEFAULT '',
			scroll_depth INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
		CREATE INDEX IF NOT EXISTS idx_events_post_slug ON events(post_slug);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`)
	return err
}

// InsertEvent stores a single event.
func (s *Store) InsertEvent(e *Event) error {
	res, err := s.db.Exec(`
		INSERT INTO events (session_id, type, post_id, post_slug, url, referrer, page, scroll_depth, data, timestamp, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Type, e.PostID, e.PostSlug, e.URL, e.Referrer, e.Page,
		e.ScrollDepth, e.Data, e.Timestamp.UTC(), e.IPAddress, e.UserAgent)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// InsertEvents stores a batch of events with unordered-bulk semantics: each
// insert is independent, a failed row never aborts the rest. It returns the
// number of rows persisted and the joined errors of any failed rows.
func (s *Store) InsertEvents(events []*Event) (int, error) {
	tracked := 0
	var errs []error
	for _, e := range events {
		if err := s.InsertEvent(e); err != nil {
			errs = append(errs, err)
			continue
		}
		tracked++
	}
	return tracked, errors.Join(errs...)
}

// DeleteOlderThan removes events with a timestamp before cutoff and returns
// the number of rows deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartCleanupScheduler periodically deletes events older than retentionDays.
// It returns a stop function. Retention is housekeeping, not a privacy
// guarantee; callers decide the policy.
func (s *Store) StartCleanupScheduler(retentionDays int, every time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if _, err := s.DeleteOlderThan(cutoff); err != nil {
				// Logged at the call site on next failure surface; the
				// scheduler itself has no logger and stays silent.
				continue
			}
		}
	}()
	return func() { close(stop) }
}

// PostStat is a per-post view count.
type PostStat struct {
	Post  string `json:"post"`
	Views int    `json:"views"`
}

// URLStat is a per-URL click count.
type URLStat struct {
	URL    string `json:"url"`
	Clicks int    `json:"clicks"`
}

// DepthBucket is a scroll-depth histogram bucket.
type DepthBucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// Stats holds aggregated engagement data for a period.
type Stats struct {
	Period       string        `json:"period"`
	TotalEvents  int           `json:"total_events"`
	PostViews    int           `json:"post_views"`
	URLClicks    int           `json:"url_clicks"`
	PageScrolls  int           `json:"page_scrolls"`
	TopPosts     []PostStat    `json:"top_posts"`
	TopURLs      []URLStat     `json:"top_urls"`
	ScrollDepths []DepthBucket `json:"scroll_depths"`
}

func (s *Store) countByType(eventType string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ? AND timestamp >= ? AND timestamp < ?`,
		eventType, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

// GetStats returns aggregated statistics for the given time range. The
// aggregate queries run concurrently, first error wins.
func (s *Store) GetStats(from, to time.Time) (*Stats, error) {
	stats := &Stats{
		Period:       from.Format("2006-01-02") + " to " + to.Format("2006-01-02"),
		TopPosts:     []PostStat{},
		TopURLs:      []URLStat{},
		ScrollDepths: []DepthBucket{},
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE timestamp >= ? AND timestamp < ?`,
			from.UTC(), to.UTC()).Scan(&n)
		if err != nil {
			setErr(fmt.Errorf("count events: %w", err))
			return
		}
		mu.Lock()
		stats.TotalEvents = n
		mu.Unlock()
	}()

	for _, tc := range []struct {
		eventType string
		dest      *int
	}{
		{TypePostView, &stats.PostViews},
		{TypeURLClick, &stats.URLClicks},
		{TypePageScroll, &stats.PageScrolls},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.countByType(tc.eventType, from, to)
			if err != nil {
				setErr(fmt.Errorf("count %s: %w", tc.eventType, err))
				return
			}
			mu.Lock()
			*tc.dest = n
			mu.Unlock()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, err := s.db.Query(`
			SELECT CASE WHEN post_slug != '' THEN post_slug ELSE post_id END AS post, COUNT(*) AS views
			FROM events
			WHERE type = ? AND timestamp >= ? AND timestamp < ?
			GROUP BY post ORDER BY views DESC LIMIT 10`,
			TypePostView, from.UTC(), to.UTC())
		if err != nil {
			setErr(fmt.Errorf("top posts: %w", err))
			return
		}
		defer rows.Close()
		var result []PostStat
		for rows.Next() {
			var ps PostStat
			if err := rows.Scan(&ps.Post, &ps.Views); err != nil {
				setErr(fmt.Errorf("top posts scan: %w", err))
				return
			}
			result = append(result, ps)
		}
		mu.Lock()
		stats.TopPosts = result
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, err := s.db.Query(`
			SELECT url, COUNT(*) AS clicks
			FROM events
			WHERE type = ? AND timestamp >= ? AND timestamp < ?
			GROUP BY url ORDER BY clicks DESC LIMIT 10`,
			TypeURLClick, from.UTC(), to.UTC())
		if err != nil {
			setErr(fmt.Errorf("top urls: %w", err))
			return
		}
		defer rows.Close()
		var result []URLStat
		for rows.Next() {
			var us URLStat
			if err := rows.Scan(&us.URL, &us.Clicks); err != nil {
				setErr(fmt.Errorf("top urls scan: %w", err))
				return
			}
			result = append(result, us)
		}
		mu.Lock()
		stats.TopURLs = result
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, err := s.db.Query(`
			SELECT CASE
				WHEN scroll_depth <= 50 THEN '26-50'
				WHEN scroll_depth <= 75 THEN '51-75'
				ELSE '76-100'
			END AS bucket, COUNT(*) AS count
			FROM events
			WHERE type = ? AND timestamp >= ? AND timestamp < ?
			GROUP BY bucket ORDER BY bucket`,
			TypePageScroll, from.UTC(), to.UTC())
		if err != nil {
			setErr(fmt.Errorf("scroll depths: %w", err))
			return
		}
		defer rows.Close()
		var result []DepthBucket
		for rows.Next() {
			var db DepthBucket
			if err := rows.Scan(&db.Bucket, &db.Count); err != nil {
				setErr(fmt.Errorf("scroll depths scan: %w", err))
				return
			}
			result = append(result, db)
		}
		mu.Lock()
		stats.ScrollDepths = result
		mu.Unlock()
	}()

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return stats, nil
}

// CountEvents returns the total number of stored events. Used by tests and
// the admin overview.
func (s *Store) CountEvents() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// EventsByType returns all events of one type ordered by insertion. Intended
// for tests and small admin exports, not hot paths.
func (s *Store) EventsByType(eventType string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, post_id, post_slug, url, referrer, page, scroll_depth, data, timestamp, ip_address, user_agent
		FROM events WHERE type = ? ORDER BY id`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.PostID, &e.PostSlug, &e.URL,
			&e.Referrer, &e.Page, &e.ScrollDepth, &e.Data, &e.Timestamp, &e.IPAddress, &e.UserAgent); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
