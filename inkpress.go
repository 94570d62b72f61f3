// Package inkpress is a content-management blog platform built with Go,
// Echo, and SQLite. It provides post/category/user CRUD, a newsletter with
// per-client subscription rate limiting, engagement tracking with batch
// ingestion, branding image uploads, RSS, and a sitemap out of the box.
//
// Public pages are rendered through user-provided templ components via the
// ViewFuncs struct; the JSON API under /api/ serves headless frontends.
package inkpress

import (
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	"github.com/eringen/inkpress/engagement"
	"github.com/eringen/inkpress/newsletter"
)

// ViewFuncs holds user-provided templ components that the platform calls
// when rendering pages. This is the inversion-of-control mechanism that
// lets users own and customize all templates. Nil fields fall back to
// minimal built-in pages.
type ViewFuncs struct {
	Home           func(posts []Post, activeTag string, tags []string, siteURL string) templ.Component
	Post           func(post Post, posts []Post, siteURL string) templ.Component
	AdminLogin     func(showError bool, csrfToken string) templ.Component
	AdminDashboard func(posts []Post, message string, csrfToken string) templ.Component
	NotFound       func() templ.Component
	ServerError    func() templ.Component
}

func (v ViewFuncs) withDefaults() ViewFuncs {
	if v.Home == nil {
		v.Home = func([]Post, string, []string, string) templ.Component {
			return templ.Raw("<h1>inkpress</h1><p>Provide a Home view to customize this page.</p>")
		}
	}
	if v.Post == nil {
		v.Post = func(post Post, _ []Post, _ string) templ.Component {
			return templ.Raw("<h1>" + templ.EscapeString(post.Title) + "</h1>")
		}
	}
	if v.AdminLogin == nil {
		v.AdminLogin = func(showError bool, csrfToken string) templ.Component {
			form := `<form method="post" action="/admin/login/">` +
				`<input type="hidden" name="_csrf" value="` + templ.EscapeString(csrfToken) + `">` +
				`<input name="username" placeholder="username (optional)">` +
				`<input type="password" name="password" placeholder="password">` +
				`<button type="submit">Log in</button></form>`
			if showError {
				form = `<p>Login failed.</p>` + form
			}
			return templ.Raw(form)
		}
	}
	if v.AdminDashboard == nil {
		v.AdminDashboard = func([]Post, string, string) templ.Component {
			return templ.Raw("<h1>Admin</h1><p>Use the JSON API under /admin/api/.</p>")
		}
	}
	if v.NotFound == nil {
		v.NotFound = func() templ.Component { return templ.Raw("<h1>404</h1>") }
	}
	if v.ServerError == nil {
		v.ServerError = func() templ.Component { return templ.Raw("<h1>500</h1>") }
	}
	return v
}

// App is the central inkpress application. It wires together the stores,
// cache, limiters, handlers, middleware, and user-provided templates.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Cache  *PostCache
	Views  ViewFuncs

	loginLimiter      *LoginLimiter
	subscribeLimiter  *newsletter.Limiter
	engagementStore   *engagement.Store
	engagementHandler *engagement.Handler
	stopCleanup       func()
	customRoutes      []func(*App)
	staticDir         string
}

// New creates a new inkpress App with the given configuration and view
// functions.
func New(cfg SiteConfig, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		Views:     views.withDefaults(),
		staticDir: "public",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Start initializes the databases, cache, limiters, middleware, and routes,
// and starts the server. It blocks until the server stops.
func (a *App) Start() error {
	if err := a.setup(); err != nil {
		return err
	}

	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// setup performs all initialization short of binding the listener. Split out
// so tests can exercise a fully wired App without a network socket.
func (a *App) setup() error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("inkpress: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("inkpress: SessionSecret is required")
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("inkpress: init store: %w", err)
	}
	a.Store = store

	a.Cache = NewPostCache(a.Store, a.Config.PostCacheTTL)

	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	// The subscribe limiter is in-process and advisory: it resets on restart
	// and is not shared across instances. See the newsletter package doc.
	a.subscribeLimiter = newsletter.NewLimiter(a.Config.SubscribeLimit, a.Config.SubscribeWindow)

	if !a.Config.EngagementDisabled {
		engagementStore, err := engagement.NewStore(a.Config.EngagementDatabasePath)
		if err != nil {
			return fmt.Errorf("inkpress: init engagement: %w", err)
		}
		a.engagementStore = engagementStore
		a.engagementHandler = engagement.NewHandler(engagementStore, a.Store)
		a.stopCleanup = engagementStore.StartCleanupScheduler(a.Config.EngagementRetentionDays, 24*time.Hour)
	}

	a.setupMiddleware()
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Serve embedded platform assets (engage.js), falling through to the
	// user's static dir for everything else.
	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	embeddedHandler := http.FileServer(http.FS(embeddedFS))
	e.GET("/public/engage.js", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))

	e.Static("/public", a.staticDir)
	e.GET("/favicon.svg", a.handleFavicon)
	e.GET("/robots.txt", a.handleRobots)

	// Public pages
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/blog", handleBlogRedirect)
	e.GET("/", a.handleHome)
	e.GET("/blog/:slug/", a.handlePost)

	// Public JSON API, consumed by the frontend.
	api := e.Group("/api", apiRateLimiter())
	api.GET("/posts", a.apiListPosts)
	api.GET("/posts/:slug", a.apiGetPost)
	api.GET("/categories", a.apiListCategories)
	api.GET("/categories/:slug", a.apiGetCategory)
	api.GET("/tags", a.apiListTags)

	newsletterHandler := newsletter.NewHandler(a.Store, a.subscribeLimiter)
	api.POST("/newsletter/subscribe", newsletterHandler.Subscribe)
	api.POST("/newsletter/unsubscribe", newsletterHandler.Unsubscribe)

	// Admin pages
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)

	// Admin JSON API
	admin := e.Group("/admin/api", requireAdmin)
	admin.GET("/posts", a.adminListPosts)
	admin.GET("/posts/:slug", a.adminGetPost)
	admin.POST("/posts", a.adminSavePost)
	admin.DELETE("/posts/:slug", a.adminDeletePost)
	admin.POST("/categories", a.adminSaveCategory)
	admin.DELETE("/categories/:slug", a.adminDeleteCategory)
	admin.GET("/users", a.adminListUsers)
	admin.POST("/users", a.adminSaveUser)
	admin.DELETE("/users/:id", a.adminDeleteUser)
	admin.GET("/subscribers", newsletterHandler.List)
	admin.GET("/images", a.adminImageList)
	admin.POST("/images", a.adminImageUpload)
	admin.DELETE("/images/:filename", a.adminImageDelete)

	e.GET("/metrics", echoprometheus.NewHandler(), requireAdmin)

	// Engagement routes
	if a.engagementHandler != nil {
		a.engagementHandler.RegisterRoutes(api, admin)
	}
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.subscribeLimiter != nil {
		a.subscribeLimiter.Stop()
	}
	if a.engagementHandler != nil {
		a.engagementHandler.Stop()
	}
	if a.stopCleanup != nil {
		a.stopCleanup()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.engagementStore != nil {
		a.engagementStore.Close()
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if
// empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally
// exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("inkpress: required environment variable %s is not set", key)
	}
	return v
}
