package engagement

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eringen/inkpress/api"
)

// ViewCounter increments a post's denormalized view counter. Failures are a
// secondary side effect: logged, never surfaced.
type ViewCounter interface {
	IncrementPostViews(slug string) error
}

var (
	eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkpress_engagement_events_total",
		Help: "Engagement events persisted, by type",
	}, []string{"type"})
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inkpress_engagement_dropped_total",
		Help: "Engagement event rows that failed to persist inside a batch",
	})
	ingestRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inkpress_engagement_rejected_total",
		Help: "Ingest requests rejected by the flood limiter",
	})
)

func init() {
	prometheus.MustRegister(eventsIngested, eventsDropped, ingestRejected)
}

// Handler handles engagement HTTP requests.
type Handler struct {
	store         *Store
	views         ViewCounter
	ingestLimiter *rateLimiter
}

// NewHandler creates an engagement handler. The ingest endpoint is flood
// limited to 60 requests per IP per minute. views may be nil when no post
// counter side effect is wanted.
func NewHandler(store *Store, views ViewCounter) *Handler {
	return &Handler{
		store:         store,
		views:         views,
		ingestLimiter: newRateLimiter(60, time.Minute),
	}
}

// Stop releases the handler's background resources.
func (h *Handler) Stop() {
	h.ingestLimiter.stopCleanup()
}

// Input validation limits for the ingest endpoint.
const (
	maxURLLen       = 2048
	maxPageLen      = 2048
	maxSessionLen   = 64
	maxScrollDepth  = 100
	maxDataLen      = 8192
	maxBatchPosts   = 100
	maxViewsPerPost = 100
	maxBatchClicks  = 100
	maxBatchScrolls = 50
)

func validateIngestRequest(req *IngestRequest) string {
	if req.Type == "" {
		return "type is required"
	}
	switch req.Type {
	case TypePostView, TypeURLClick, TypePageScroll, TypeBatch:
	default:
		return "unknown event type"
	}
	if len(req.URL) > maxURLLen || len(req.Referrer) > maxURLLen {
		return "url exceeds maximum length"
	}
	if len(req.Page) > maxPageLen {
		return "page exceeds maximum length"
	}
	if len(req.SessionID) > maxSessionLen {
		return "sessionId exceeds maximum length"
	}
	if req.ScrollDepth < 0 || req.ScrollDepth > maxScrollDepth {
		return "scrollDepth must be between 0 and 100"
	}
	if len(req.Data) > maxDataLen {
		return "data exceeds maximum length"
	}
	return ""
}

// validateBatch applies the single-event field limits to every entry in a
// client buffer and caps the row fan-out so one request cannot expand into an
// unbounded number of inserts.
func validateBatch(data *BatchData) string {
	if len(data.PostViews) > maxBatchPosts {
		return "too many posts in batch"
	}
	for post, count := range data.PostViews {
		if post == "" || count <= 0 || count > maxViewsPerPost {
			return "invalid post view entry"
		}
	}
	if len(data.URLClicks) > maxBatchClicks {
		return "too many clicks in batch"
	}
	for _, click := range data.URLClicks {
		if click.URL == "" || len(click.URL) > maxURLLen || len(click.Referrer) > maxURLLen {
			return "invalid click entry"
		}
	}
	if len(data.PageScrolls) > maxBatchScrolls {
		return "too many scrolls in batch"
	}
	for _, scroll := range data.PageScrolls {
		if scroll.Page == "" || len(scroll.Page) > maxPageLen {
			return "invalid scroll entry"
		}
		if scroll.ScrollDepth < 0 || scroll.ScrollDepth > maxScrollDepth {
			return "invalid scroll entry"
		}
	}
	return ""
}

// TrackedResponse reports how many records a batch ingest persisted.
type TrackedResponse struct {
	Tracked int `json:"tracked"`
}

// Ingest accepts a single engagement event or a full client batch.
//
// Batch requests are expanded into one row per view-count unit, per click,
// and per scroll, and written with unordered-bulk semantics: rows that fail
// are logged and skipped, the request still succeeds with the count of rows
// that made it. Tracking must never degrade the reading experience, so the
// only errors surfaced to the caller are validation failures and a failed
// single-record write.
func (h *Handler) Ingest(c echo.Context) error {
	ip := ClientIP(c)
	if !h.ingestLimiter.allow(ip) {
		ingestRejected.Inc()
		return api.Fail(c, http.StatusTooManyRequests, api.CodeRateLimit, "Too many tracking requests")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	if msg := validateIngestRequest(&req); msg != "" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, msg)
	}

	userAgent := c.Request().UserAgent()
	now := time.Now().UTC()

	if req.Type == TypeBatch {
		if len(req.Data) == 0 {
			return api.OK(c, http.StatusOK, TrackedResponse{Tracked: 0})
		}
		var data BatchData
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "data is not a valid batch payload")
		}
		if msg := validateBatch(&data); msg != "" {
			return api.Fail(c, http.StatusBadRequest, api.CodeValidation, msg)
		}
		events := expandBatch(req.SessionID, &data, ip, userAgent, now)
		tracked, err := h.store.InsertEvents(events)
		if err != nil {
			// Partial failure inside the bulk write: report what landed.
			eventsDropped.Add(float64(len(events) - tracked))
			c.Logger().Errorf("batch ingest: %d/%d rows failed: %v", len(events)-tracked, len(events), err)
		}
		countByType(events, tracked)
		return api.OK(c, http.StatusOK, TrackedResponse{Tracked: tracked})
	}

	event := &Event{
		SessionID:   req.SessionID,
		Type:        req.Type,
		PostID:      req.PostID,
		PostSlug:    req.PostSlug,
		URL:         req.URL,
		Referrer:    req.Referrer,
		Page:        req.Page,
		ScrollDepth: req.ScrollDepth,
		Data:        string(req.Data),
		Timestamp:   millisToTime(req.Timestamp, now),
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	if err := h.store.InsertEvent(event); err != nil {
		c.Logger().Errorf("ingest: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}
	eventsIngested.WithLabelValues(event.Type).Inc()

	// Best-effort secondary side effect: bump the post's view counter. A
	// failure here never rolls back or fails the persisted event.
	if h.views != nil && event.Type == TypePostView {
		if key := postKey(event); key != "" {
			if err := h.views.IncrementPostViews(key); err != nil {
				c.Logger().Errorf("increment post views %q: %v", key, err)
			}
		}
	}

	return api.OK(c, http.StatusOK, event)
}

// postKey prefers the slug for the denormalized counter and falls back to
// the raw post ID.
func postKey(e *Event) string {
	if e.PostSlug != "" {
		return e.PostSlug
	}
	return e.PostID
}

// expandBatch fans a client buffer out into individual events. Each view
// unit becomes its own row stamped with the buffer's lastActivity; click and
// scroll rows fall back to ingestion time when the client omitted a
// timestamp.
func expandBatch(sessionID string, data *BatchData, ip, userAgent string, now time.Time) []*Event {
	lastActivity := millisToTime(data.LastActivity, now)

	var events []*Event
	for postID, count := range data.PostViews {
		for i := 0; i < count; i++ {
			events = append(events, &Event{
				SessionID: sessionID,
				Type:      TypePostView,
				PostID:    postID,
				Timestamp: lastActivity,
				IPAddress: ip,
				UserAgent: userAgent,
			})
		}
	}
	for _, click := range data.URLClicks {
		events = append(events, &Event{
			SessionID: sessionID,
			Type:      TypeURLClick,
			URL:       click.URL,
			Referrer:  click.Referrer,
			Timestamp: millisToTime(click.Timestamp, now),
			IPAddress: ip,
			UserAgent: userAgent,
		})
	}
	for _, scroll := range data.PageScrolls {
		events = append(events, &Event{
			SessionID:   sessionID,
			Type:        TypePageScroll,
			Page:        scroll.Page,
			ScrollDepth: scroll.ScrollDepth,
			Timestamp:   millisToTime(scroll.Timestamp, now),
			IPAddress:   ip,
			UserAgent:   userAgent,
		})
	}
	return events
}

func countByType(events []*Event, tracked int) {
	// Under partial failure the per-type split of persisted rows is unknown,
	// so only count when the whole batch landed.
	if tracked != len(events) {
		return
	}
	for _, e := range events {
		eventsIngested.WithLabelValues(e.Type).Inc()
	}
}

// GetStats returns aggregated engagement statistics as JSON for the admin
// dashboard. days query param selects the window (default 7).
func (h *Handler) GetStats(c echo.Context) error {
	days := 7
	switch c.QueryParam("period") {
	case "today":
		days = 1
	case "week", "":
		days = 7
	case "month":
		days = 30
	case "year":
		days = 365
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days)

	stats, err := h.store.GetStats(from, now)
	if err != nil {
		c.Logger().Errorf("engagement stats: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}
	return api.OK(c, http.StatusOK, stats)
}

// RegisterRoutes registers the ingest endpoint on the public API group and
// the stats endpoint on the admin API group.
func (h *Handler) RegisterRoutes(publicGroup, adminGroup *echo.Group) {
	publicGroup.POST("/engage", h.Ingest)
	adminGroup.GET("/engagement/stats", h.GetStats)
}
