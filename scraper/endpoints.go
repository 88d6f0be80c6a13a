package scraper

import (
	"net/url"
	"strconv"
	"strings"
)

const DefaultBaseURL = "https://api.themoviedb.org/3"

// BuildURL parses raw as an absolute http(s) URL with a host. Locator strings
// and other schemes are rejected.
func BuildURL(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	return u, true
}

// Endpoints builds TMDB request URLs.
type Endpoints struct {
	BaseURL string
	APIKey  string
}

func (e Endpoints) build(path string) string {
	base := e.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/") + path)
	if err != nil {
		return ""
	}
	if e.APIKey != "" {
		q := u.Query()
		q.Set("api_key", e.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Popular lists movies ordered by popularity.
func (e Endpoints) Popular() string {
	return e.build("/movie/popular")
}

// TopRated lists movies ordered by rating.
func (e Endpoints) TopRated() string {
	return e.build("/movie/top_rated")
}

func (e Endpoints) Movie(id int64) string {
	return e.build("/movie/" + strconv.FormatInt(id, 10))
}

func (e Endpoints) Videos(id int64) string {
	return e.build("/movie/" + strconv.FormatInt(id, 10) + "/videos")
}

func (e Endpoints) Reviews(id int64) string {
	return e.build("/movie/" + strconv.FormatInt(id, 10) + "/reviews")
}

// Label names a browse target for display. Anything that is neither of the
// two remote lists is shown as the favorites list.
func (e Endpoints) Label(target string) string {
	switch target {
	case e.Popular():
		return "Popular"
	case e.TopRated():
		return "Top rated"
	}
	return "Favorites"
}
