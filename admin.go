package inkpress

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/eringen/inkpress/api"
)

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, a.Views.AdminLogin(false, CsrfToken(c)))
	}
	posts, err := a.Store.ListAllPosts()
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminDashboard(posts, c.QueryParam("msg"), CsrfToken(c)))
}

// handleAdminLogin authenticates either a user account (username+password)
// or the configured root password. Both paths share the login limiter.
func (a *App) handleAdminLogin(c echo.Context) error {
	if !a.loginLimiter.Allow(c.RealIP()) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	username := strings.TrimSpace(c.FormValue("username"))
	pass := c.FormValue("password")

	if username != "" {
		user, err := a.Store.GetUserByUsername(username)
		if err == nil && user.Active &&
			bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(pass)) == nil {
			if err := setAdminSession(c, user.Username); err != nil {
				return err
			}
			return c.Redirect(http.StatusSeeOther, "/admin/")
		}
		return Render(c, a.Views.AdminLogin(true, CsrfToken(c)))
	}

	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c, "root"); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	return Render(c, a.Views.AdminLogin(true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// Admin JSON API: posts.

// PostRequest is the admin payload for creating or updating a post.
type PostRequest struct {
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Tags      []string `json:"tags"`
	Category  string   `json:"category"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Published bool     `json:"published"`
}

func (a *App) adminListPosts(c echo.Context) error {
	posts, err := a.Store.ListAllPosts()
	if err != nil {
		return api.FailInternal(c, err)
	}
	if posts == nil {
		posts = []Post{}
	}
	return api.OK(c, http.StatusOK, posts)
}

func (a *App) adminGetPost(c echo.Context) error {
	post, err := a.Store.GetPostAny(c.Param("slug"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Fail(c, http.StatusNotFound, api.CodeNotFound, "Post not found")
		}
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, post)
}

func (a *App) adminSavePost(c echo.Context) error {
	var req PostRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	title := strings.TrimSpace(req.Title)
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Slug is required. Add a title or slug.")
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid date format. Use YYYY-MM-DD.")
	}
	post := Post{
		Slug:      slug,
		Title:     title,
		Date:      date,
		Tags:      FilterEmpty(req.Tags),
		Category:  strings.TrimSpace(req.Category),
		Summary:   req.Summary,
		Content:   req.Content,
		Published: req.Published,
	}
	if err := a.Store.SavePost(post); err != nil {
		return api.FailInternal(c, err)
	}
	a.Cache.Invalidate()
	saved, err := a.Store.GetPostAny(slug)
	if err != nil {
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, saved)
}

func (a *App) adminDeletePost(c echo.Context) error {
	if err := a.Store.DeletePost(c.Param("slug")); err != nil {
		return api.FailInternal(c, err)
	}
	a.Cache.Invalidate()
	return api.OK(c, http.StatusOK, map[string]string{"deleted": c.Param("slug")})
}

// Admin JSON API: categories.

// CategoryRequest is the admin payload for creating or updating a category.
type CategoryRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *App) adminSaveCategory(c echo.Context) error {
	var req CategoryRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Name is required")
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	cat := Category{Slug: slug, Name: name, Description: strings.TrimSpace(req.Description)}
	if err := a.Store.SaveCategory(cat); err != nil {
		return api.FailInternal(c, err)
	}
	a.Cache.Invalidate()
	saved, err := a.Store.GetCategory(slug)
	if err != nil {
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, saved)
}

func (a *App) adminDeleteCategory(c echo.Context) error {
	if err := a.Store.DeleteCategory(c.Param("slug")); err != nil {
		return api.FailInternal(c, err)
	}
	a.Cache.Invalidate()
	return api.OK(c, http.StatusOK, map[string]string{"deleted": c.Param("slug")})
}

// Admin JSON API: users.

// UserRequest is the admin payload for creating or updating a user account.
type UserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"` // empty on update keeps the current hash
	Role     string `json:"role"`
	Active   *bool  `json:"active"`
}

func (a *App) adminListUsers(c echo.Context) error {
	users, err := a.Store.ListUsers()
	if err != nil {
		return api.FailInternal(c, err)
	}
	if users == nil {
		users = []User{}
	}
	return api.OK(c, http.StatusOK, users)
}

func (a *App) adminSaveUser(c echo.Context) error {
	var req UserRequest
	if err := c.Bind(&req); err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid request body")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Username is required")
	}
	role := req.Role
	if role == "" {
		role = "editor"
	}
	if role != "admin" && role != "editor" {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Role must be admin or editor")
	}

	user, err := a.Store.GetUserByUsername(username)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return api.FailInternal(c, err)
	}
	if isNew {
		if req.Password == "" {
			return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Password is required for new users")
		}
		user = User{Username: username, Active: true}
	}
	user.Email = strings.TrimSpace(req.Email)
	user.Role = role
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return api.FailInternal(c, err)
		}
		user.PasswordHash = string(hash)
	}

	id, err := a.Store.SaveUser(user)
	if err != nil {
		return api.FailInternal(c, err)
	}
	user.ID = id
	return api.OK(c, http.StatusOK, user)
}

func (a *App) adminDeleteUser(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Invalid user id")
	}
	users, err := a.Store.ListUsers()
	if err != nil {
		return api.FailInternal(c, err)
	}
	for _, u := range users {
		if u.ID == id && u.Role == "admin" && u.Active {
			admins, err := a.Store.CountAdmins()
			if err != nil {
				return api.FailInternal(c, err)
			}
			if admins <= 1 {
				return api.Fail(c, http.StatusBadRequest, api.CodeValidation, "Cannot delete the last active admin")
			}
		}
	}
	if err := a.Store.DeleteUser(id); err != nil {
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, map[string]int64{"deleted": id})
}
