package inkpress

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/inkpress/newsletter"
)

// Store wraps the content SQLite database: posts, categories, users,
// newsletter subscribers, and branding image metadata.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent read/write access, set a busy timeout
	// so writers wait instead of returning SQLITE_BUSY immediately, and tune
	// performance: synchronous=NORMAL is safe with WAL and avoids an fsync
	// per transaction; larger cache and mmap reduce disk I/O.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
		PRAGMA mmap_size=268435456;
	`); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    slug TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    date TEXT NOT NULL,
    tags TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL,
    content TEXT NOT NULL,
    published INTEGER NOT NULL DEFAULT 1,
    views INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS categories (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'editor',
    active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscribers (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    source TEXT NOT NULL DEFAULT '',
    subscribed INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
    filename TEXT PRIMARY KEY,
    original_name TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    size INTEGER NOT NULL,
    uploaded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_category ON posts(category);
CREATE INDEX IF NOT EXISTS idx_subscribers_email ON subscribers(email);
`)
	if err != nil {
		return err
	}
	// Additive migrations for databases created before these columns existed.
	for _, stmt := range []string{
		`ALTER TABLE posts ADD COLUMN category TEXT NOT NULL DEFAULT '';`,
		`ALTER TABLE posts ADD COLUMN views INTEGER NOT NULL DEFAULT 0;`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return err
		}
	}
	return nil
}

const postColumns = `slug, title, date, tags, category, summary, content, published, views`

func scanPost(scan func(dest ...any) error) (Post, error) {
	var slug, title, date, tags, category, summary, content string
	var published, views int
	if err := scan(&slug, &title, &date, &tags, &category, &summary, &content, &published, &views); err != nil {
		return Post{}, err
	}
	return Post{
		Slug:      slug,
		Title:     title,
		Date:      date,
		Tags:      ParseTags(tags),
		Category:  category,
		Summary:   summary,
		Content:   content,
		Link:      "/blog/" + slug,
		Published: published == 1,
		Views:     views,
	}, nil
}

func (s *Store) queryPosts(query string, args ...any) ([]Post, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ListPosts returns all published posts ordered by date descending.
// If tag is non-empty, results are filtered to posts containing that tag.
func (s *Store) ListPosts(tag string) ([]Post, error) {
	if tag == "" {
		return s.queryPosts(`SELECT ` + postColumns + ` FROM posts WHERE published = 1 ORDER BY date DESC`)
	}
	normalizedTag := strings.ToLower(strings.TrimSpace(tag))
	return s.queryPosts(`SELECT `+postColumns+` FROM posts WHERE published = 1 AND instr(lower(tags), ',' || ? || ',') > 0 ORDER BY date DESC`, normalizedTag)
}

// ListPostsByCategory returns published posts in the given category.
func (s *Store) ListPostsByCategory(category string) ([]Post, error) {
	normalized := strings.ToLower(strings.TrimSpace(category))
	return s.queryPosts(`SELECT `+postColumns+` FROM posts WHERE published = 1 AND category = ? ORDER BY date DESC`, normalized)
}

// ListAllPosts returns every post (published and drafts) ordered by date descending.
func (s *Store) ListAllPosts() ([]Post, error) {
	return s.queryPosts(`SELECT ` + postColumns + ` FROM posts ORDER BY date DESC`)
}

// GetPost returns a single published post by slug.
func (s *Store) GetPost(slug string) (Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE slug = ? AND published = 1`, slug)
	return scanPost(row.Scan)
}

// GetPostAny returns a post by slug regardless of published status (for admin).
func (s *Store) GetPostAny(slug string) (Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE slug = ?`, slug)
	return scanPost(row.Scan)
}

// SavePost upserts a blog post. Tags and category are normalized to lowercase.
// The view counter of an existing post is preserved.
func (s *Store) SavePost(p Post) error {
	normalizedTags := make([]string, len(p.Tags))
	for i, t := range p.Tags {
		normalizedTags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	tagString := "," + strings.Join(normalizedTags, ",") + ","
	category := strings.ToLower(strings.TrimSpace(p.Category))
	published := 0
	if p.Published {
		published = 1
	}
	_, err := s.db.Exec(`
INSERT INTO posts (slug, title, date, tags, category, summary, content, published, views)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(slug) DO UPDATE SET
    title = excluded.title,
    date = excluded.date,
    tags = excluded.tags,
    category = excluded.category,
    summary = excluded.summary,
    content = excluded.content,
    published = excluded.published`,
		p.Slug, p.Title, p.Date, tagString, category, p.Summary, p.Content, published)
	return err
}

// DeletePost removes a post by slug.
func (s *Store) DeletePost(slug string) error {
	_, err := s.db.Exec(`DELETE FROM posts WHERE slug = ?`, slug)
	return err
}

// IncrementPostViews bumps the view counter for a post. Used as a best-effort
// side effect of engagement ingestion; a missing slug is not an error.
func (s *Store) IncrementPostViews(slug string) error {
	_, err := s.db.Exec(`UPDATE posts SET views = views + 1 WHERE slug = ?`, slug)
	return err
}

// ListTags returns a sorted, deduplicated slice of all tags from published posts.
func (s *Store) ListTags() ([]string, error) {
	rows, err := s.db.Query(`SELECT tags FROM posts WHERE published = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var tags string
		if err := rows.Scan(&tags); err != nil {
			return nil, err
		}
		for _, t := range ParseTags(tags) {
			set[strings.ToLower(t)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var result []string
	for t := range set {
		result = append(result, t)
	}
	sort.Strings(result)
	return result, nil
}

// ParseTags splits a comma-delimited tag string (e.g. ",go,web,") into a slice.
func ParseTags(tagString string) []string {
	tagString = strings.Trim(tagString, ",")
	if tagString == "" {
		return nil
	}
	parts := strings.Split(tagString, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories() ([]Category, error) {
	rows, err := s.db.Query(`SELECT slug, name, description, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetCategory returns a category by slug.
func (s *Store) GetCategory(slug string) (Category, error) {
	var c Category
	err := s.db.QueryRow(`SELECT slug, name, description, created_at FROM categories WHERE slug = ?`, slug).
		Scan(&c.Slug, &c.Name, &c.Description, &c.CreatedAt)
	return c, err
}

// SaveCategory upserts a category.
func (s *Store) SaveCategory(c Category) error {
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
INSERT INTO categories (slug, name, description, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(slug) DO UPDATE SET name = excluded.name, description = excluded.description`,
		c.Slug, c.Name, c.Description, c.CreatedAt)
	return err
}

// DeleteCategory removes a category and detaches its posts.
func (s *Store) DeleteCategory(slug string) error {
	if _, err := s.db.Exec(`UPDATE posts SET category = '' WHERE category = ?`, slug); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM categories WHERE slug = ?`, slug)
	return err
}

// ListUsers returns all user accounts ordered by username.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, username, email, password_hash, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserByUsername returns a user account by username.
func (s *Store) GetUserByUsername(username string) (User, error) {
	var u User
	var active int
	err := s.db.QueryRow(`SELECT id, username, email, password_hash, role, active, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &active, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.Active = active == 1
	return u, nil
}

// SaveUser inserts or updates a user account and returns its ID.
func (s *Store) SaveUser(u User) (int64, error) {
	active := 0
	if u.Active {
		active = 1
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if u.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO users (username, email, password_hash, role, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			u.Username, u.Email, u.PasswordHash, u.Role, active, u.CreatedAt)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	_, err := s.db.Exec(`UPDATE users SET username = ?, email = ?, password_hash = ?, role = ?, active = ? WHERE id = ?`,
		u.Username, u.Email, u.PasswordHash, u.Role, active, u.ID)
	return u.ID, err
}

// DeleteUser removes a user account by ID.
func (s *Store) DeleteUser(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	return err
}

// CountAdmins returns the number of active admin accounts.
func (s *Store) CountAdmins() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = 'admin' AND active = 1`).Scan(&n)
	return n, err
}

func scanSubscriber(scan func(dest ...any) error) (newsletter.Subscriber, error) {
	var sub newsletter.Subscriber
	var subscribed int
	if err := scan(&sub.ID, &sub.Email, &sub.Source, &subscribed, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return newsletter.Subscriber{}, err
	}
	sub.Subscribed = subscribed == 1
	return sub, nil
}

// GetSubscriberByEmail returns a subscriber row, or newsletter.ErrNoSubscriber
// if the email has never subscribed.
func (s *Store) GetSubscriberByEmail(email string) (newsletter.Subscriber, error) {
	row := s.db.QueryRow(`SELECT id, email, source, subscribed, created_at, updated_at FROM subscribers WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	sub, err := scanSubscriber(row.Scan)
	if err == sql.ErrNoRows {
		return newsletter.Subscriber{}, newsletter.ErrNoSubscriber
	}
	return sub, err
}

// SaveSubscriber upserts a subscriber row keyed by email.
func (s *Store) SaveSubscriber(sub newsletter.Subscriber) error {
	subscribed := 0
	if sub.Subscribed {
		subscribed = 1
	}
	_, err := s.db.Exec(`
INSERT INTO subscribers (id, email, source, subscribed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
    source = excluded.source,
    subscribed = excluded.subscribed,
    updated_at = excluded.updated_at`,
		sub.ID, strings.ToLower(strings.TrimSpace(sub.Email)), sub.Source, subscribed,
		sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	return err
}

// ListSubscribers returns subscribers, optionally only currently-subscribed ones.
func (s *Store) ListSubscribers(activeOnly bool) ([]newsletter.Subscriber, error) {
	query := `SELECT id, email, source, subscribed, created_at, updated_at FROM subscribers ORDER BY created_at DESC`
	if activeOnly {
		query = `SELECT id, email, source, subscribed, created_at, updated_at FROM subscribers WHERE subscribed = 1 ORDER BY created_at DESC`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []newsletter.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListImages returns branding image metadata ordered by upload time descending.
func (s *Store) ListImages() ([]Image, error) {
	rows, err := s.db.Query(`SELECT filename, original_name, width, height, size, uploaded_at FROM images ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.Filename, &img.OriginalName, &img.Width, &img.Height, &img.Size, &img.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveImage stores branding image metadata.
func (s *Store) SaveImage(img Image) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO images (filename, original_name, width, height, size, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		img.Filename, img.OriginalName, img.Width, img.Height, img.Size, img.UploadedAt)
	return err
}

// DeleteImage removes branding image metadata by filename.
func (s *Store) DeleteImage(filename string) error {
	_, err := s.db.Exec(`DELETE FROM images WHERE filename = ?`, filename)
	return err
}
