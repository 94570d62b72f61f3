package inkpress

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteConfig holds all configuration for an inkpress site.
type SiteConfig struct {
	Name        string `yaml:"name"`        // Site name (default "Blog")
	URL         string `yaml:"url"`         // Canonical URL (default "http://localhost:3000")
	Description string `yaml:"description"` // Site description for RSS and meta tags
	Author      string `yaml:"author"`      // Author name for JSON-LD

	Addr         string `yaml:"addr"`         // Listen address (default ":3000")
	DatabasePath string `yaml:"databasePath"` // Content SQLite path (default "data/blog.db")

	EngagementDisabled      bool   `yaml:"engagementDisabled"`      // Disable engagement tracking (enabled by default)
	EngagementDatabasePath  string `yaml:"engagementDatabasePath"`  // Engagement SQLite path (default "data/engagement.db")
	EngagementRetentionDays int    `yaml:"engagementRetentionDays"` // Days of events kept (default 365)

	SubscribeLimit  int           `yaml:"subscribeLimit"`  // Successful subscriptions per client per window (default 3)
	SubscribeWindow time.Duration `yaml:"subscribeWindow"` // Rolling window for the subscribe limiter (default 24h)

	AdminPassword string `yaml:"adminPassword"` // Required: root admin login password
	SessionSecret string `yaml:"sessionSecret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookieSecure"`  // Set true for HTTPS

	PostCacheTTL time.Duration `yaml:"postCacheTTL"` // Post cache TTL (default 5min)
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Blog"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/blog.db"
	}
	if c.EngagementDatabasePath == "" {
		c.EngagementDatabasePath = "data/engagement.db"
	}
	if c.EngagementRetentionDays == 0 {
		c.EngagementRetentionDays = 365
	}
	if c.SubscribeLimit == 0 {
		c.SubscribeLimit = 3
	}
	if c.SubscribeWindow == 0 {
		c.SubscribeWindow = 24 * time.Hour
	}
	if c.PostCacheTTL == 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
}

// LoadConfig reads a SiteConfig from a YAML file. Secrets may be left out of
// the file and supplied via environment variables by the caller.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("inkpress: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("inkpress: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}
