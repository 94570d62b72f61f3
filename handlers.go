package inkpress

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eringen/inkpress/api"
)

func (a *App) handleHome(c echo.Context) error {
	tag := c.QueryParam("tag")
	posts, err := a.Cache.ListPosts(tag)
	if err != nil {
		return err
	}
	tags, err := a.Cache.ListTags()
	if err != nil {
		return err
	}
	return Render(c, a.Views.Home(posts, tag, tags, a.Config.URL))
}

func (a *App) handlePost(c echo.Context) error {
	slug := c.Param("slug")
	post, err := a.Cache.GetPost(slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		}
		return err
	}
	posts, err := a.Cache.ListPosts("")
	if err != nil {
		return err
	}
	return Render(c, a.Views.Post(post, posts, a.Config.URL))
}

func (a *App) handleSitemap(c echo.Context) error {
	posts, err := a.Cache.ListPosts("")
	if err != nil {
		return err
	}
	return a.renderSitemap(c, posts)
}

func (a *App) handleFeed(c echo.Context) error {
	posts, err := a.Cache.ListPosts("")
	if err != nil {
		return err
	}
	return a.renderRSS(c, posts)
}

func handleBlogRedirect(c echo.Context) error {
	return c.Redirect(http.StatusMovedPermanently, "/")
}

func (a *App) handleFavicon(c echo.Context) error {
	return c.File(a.staticDir + "/favicon.svg")
}

func (a *App) handleRobots(c echo.Context) error {
	return c.File(a.staticDir + "/robots.txt")
}

// JSON content API, consumed by the frontend.

func (a *App) apiListPosts(c echo.Context) error {
	var posts []Post
	var err error
	switch {
	case c.QueryParam("category") != "":
		posts, err = a.Cache.ListPostsByCategory(c.QueryParam("category"))
	default:
		posts, err = a.Cache.ListPosts(c.QueryParam("tag"))
	}
	if err != nil {
		return api.FailInternal(c, err)
	}
	if posts == nil {
		posts = []Post{}
	}
	return api.OK(c, http.StatusOK, posts)
}

func (a *App) apiGetPost(c echo.Context) error {
	post, err := a.Cache.GetPost(c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return api.Fail(c, http.StatusNotFound, api.CodeNotFound, "Post not found")
		}
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, post)
}

func (a *App) apiListCategories(c echo.Context) error {
	cats, err := a.Cache.ListCategories()
	if err != nil {
		return api.FailInternal(c, err)
	}
	if cats == nil {
		cats = []Category{}
	}
	return api.OK(c, http.StatusOK, cats)
}

func (a *App) apiGetCategory(c echo.Context) error {
	cat, err := a.Store.GetCategory(c.Param("slug"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Fail(c, http.StatusNotFound, api.CodeNotFound, "Category not found")
		}
		return api.FailInternal(c, err)
	}
	return api.OK(c, http.StatusOK, cat)
}

func (a *App) apiListTags(c echo.Context) error {
	tags, err := a.Cache.ListTags()
	if err != nil {
		return api.FailInternal(c, err)
	}
	if tags == nil {
		tags = []string{}
	}
	return api.OK(c, http.StatusOK, tags)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		_ = RenderStatus(c, code, a.Views.ServerError())
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
