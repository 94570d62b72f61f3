package inkpress

// Post is the core content type stored in SQLite and exposed through the
// content API and templates.
type Post struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Tags      []string `json:"tags"`
	Category  string   `json:"category,omitempty"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Link      string   `json:"link"`
	Published bool     `json:"published"`
	Views     int      `json:"views"`
}

// Category groups posts for navigation and filtering.
type Category struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// User is an admin or editor account. PasswordHash is a bcrypt hash and is
// never serialized.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"` // "admin" or "editor"
	Active       bool   `json:"active"`
	CreatedAt    string `json:"createdAt"`
}

// Image holds metadata for an uploaded branding asset. The file itself lives
// under the static uploads directory.
type Image struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int    `json:"size"`
	UploadedAt   string `json:"uploadedAt"`
}

// PageMeta carries per-page OpenGraph and SEO metadata into the <head> template.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical + og:url
	OGType      string // "website" or "article"
}
