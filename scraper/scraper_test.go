package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cineshelf/locator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	s := NewScraper(Options{UserAgent: "cineshelf-test"}, nil)
	body, err := s.Fetch(context.Background(), srv.URL+"/movie/popular")
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, body)
	assert.Equal(t, "cineshelf-test", gotAgent)
}

func TestFetchRepeatedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewScraper(Options{}, nil)
	for i := 0; i < 2; i++ {
		_, err := s.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status_message":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewScraper(Options{}, nil)
	_, err := s.Fetch(context.Background(), srv.URL)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, netErr.Status)
	assert.Equal(t, srv.URL, netErr.URL)
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewScraper(Options{Timeout: time.Second}, nil)
	_, err := s.Fetch(context.Background(), url)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 0, netErr.Status)
}

func TestFetchCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	s := NewScraper(Options{Timeout: 10 * time.Second}, nil)
	_, err := s.Fetch(ctx, srv.URL)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	s := NewScraper(Options{Timeout: time.Second}, nil)
	assert.True(t, s.Reachable(context.Background(), srv.URL))

	srv.Close()
	assert.False(t, s.Reachable(context.Background(), srv.URL))
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://api.themoviedb.org/3/movie/popular?api_key=x", true},
		{"http://localhost:8080/x", true},
		{"content://cineshelf/movie", false},
		{"/movie/popular", false},
		{"https://", false},
		{"::not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		u, ok := BuildURL(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if ok {
			assert.Equal(t, tt.raw, u.String())
		}
	}
}

func TestEndpoints(t *testing.T) {
	e := Endpoints{BaseURL: "https://example.test/3/", APIKey: "k"}

	assert.Equal(t, "https://example.test/3/movie/popular?api_key=k", e.Popular())
	assert.Equal(t, "https://example.test/3/movie/top_rated?api_key=k", e.TopRated())
	assert.Equal(t, "https://example.test/3/movie/550?api_key=k", e.Movie(550))
	assert.Equal(t, "https://example.test/3/movie/550/videos?api_key=k", e.Videos(550))
	assert.Equal(t, "https://example.test/3/movie/550/reviews?api_key=k", e.Reviews(550))

	assert.Equal(t, "https://api.themoviedb.org/3/movie/popular", Endpoints{}.Popular())
}

func TestLabel(t *testing.T) {
	e := Endpoints{APIKey: "k"}
	assert.Equal(t, "Popular", e.Label(e.Popular()))
	assert.Equal(t, "Top rated", e.Label(e.TopRated()))
	assert.Equal(t, "Favorites", e.Label(locator.Favorites().String()))
}
