package newsletter

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eringen/inkpress/api"
	"github.com/eringen/inkpress/engagement"
)

// ErrNoSubscriber is returned by Store implementations when an email has
// never subscribed.
var ErrNoSubscriber = errors.New("newsletter: subscriber not found")

// Subscriber is a newsletter subscriber record.
type Subscriber struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Source     string    `json:"source,omitempty"`
	Subscribed bool      `json:"subscribed"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is the persistence surface the handler needs.
type Store interface {
	GetSubscriberByEmail(email string) (Subscriber, error)
	SaveSubscriber(sub Subscriber) error
	ListSubscribers(activeOnly bool) ([]Subscriber, error)
}

var (
	subscribesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inkpress_newsletter_subscribes_total",
		Help: "Successful newsletter subscriptions",
	})
	subscribesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inkpress_newsletter_rejected_total",
		Help: "Rejected subscription attempts by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(subscribesAccepted, subscribesRejected)
}

// emailRegex is a pragmatic format check, not full RFC 5322.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Handler handles newsletter HTTP requests.
type Handler struct {
	store   Store
	limiter *Limiter
}

// NewHandler creates a newsletter handler gated by the given limiter.
func NewHandler(store Store, limiter *Limiter) *Handler {
	return &Handler{store: store, limiter: limiter}
}

// SubscribeRequest is the expected body for the subscribe endpoint.
type SubscribeRequest struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

// Subscribe handles a public subscription request. The rate-limit slot is
// reserved before the write and released if the write fails, so only
// persisted subscriptions count against the quota.
func (h *Handler) Subscribe(c echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !emailRegex.MatchString(email) {
		subscribesRejected.WithLabelValues("invalid_email").Inc()
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "A valid email address is required")
	}

	release, err := h.limiter.Reserve(engagement.ClientIP(c))
	if err != nil {
		var rle *RateLimitError
		switch {
		case errors.As(err, &rle):
			subscribesRejected.WithLabelValues("rate_limit").Inc()
			return api.Fail(c, http.StatusTooManyRequests, api.CodeRateLimit, rle.Error())
		case errors.Is(err, ErrUnresolvedClient):
			subscribesRejected.WithLabelValues("unresolved_client").Inc()
			return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Client could not be identified")
		default:
			c.Logger().Errorf("subscribe limiter: %v", err)
			return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
		}
	}

	now := time.Now().UTC()
	sub, err := h.store.GetSubscriberByEmail(email)
	switch {
	case err == nil && sub.Subscribed:
		release()
		subscribesRejected.WithLabelValues("duplicate").Inc()
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "This email is already subscribed")
	case err == nil:
		// Previously unsubscribed, reactivate.
		sub.Subscribed = true
		sub.Source = strings.TrimSpace(req.Source)
		sub.UpdatedAt = now
	case errors.Is(err, ErrNoSubscriber):
		sub = Subscriber{
			ID:         uuid.NewString(),
			Email:      email,
			Source:     strings.TrimSpace(req.Source),
			Subscribed: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	default:
		release()
		c.Logger().Errorf("subscribe lookup: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}

	if err := h.store.SaveSubscriber(sub); err != nil {
		release()
		c.Logger().Errorf("subscribe save: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}

	subscribesAccepted.Inc()
	return api.OK(c, http.StatusCreated, sub)
}

// UnsubscribeRequest is the expected body for the unsubscribe endpoint.
type UnsubscribeRequest struct {
	Email string `json:"email"`
}

// Unsubscribe marks a subscriber inactive. Unsubscribing never touches the
// rate limiter.
func (h *Handler) Unsubscribe(c echo.Context) error {
	var req UnsubscribeRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Email is required")
	}

	sub, err := h.store.GetSubscriberByEmail(email)
	if errors.Is(err, ErrNoSubscriber) {
		return api.Fail(c, http.StatusNotFound, api.CodeNotFound, "Subscriber not found")
	}
	if err != nil {
		c.Logger().Errorf("unsubscribe lookup: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}

	sub.Subscribed = false
	sub.UpdatedAt = time.Now().UTC()
	if err := h.store.SaveSubscriber(sub); err != nil {
		c.Logger().Errorf("unsubscribe save: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}
	return api.OK(c, http.StatusOK, sub)
}

// List returns subscribers for the admin dashboard.
func (h *Handler) List(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	subs, err := h.store.ListSubscribers(activeOnly)
	if err != nil {
		c.Logger().Errorf("list subscribers: %v", err)
		return api.Fail(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
	}
	return api.OK(c, http.StatusOK, subs)
}
