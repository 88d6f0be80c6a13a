package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"cineshelf/locator"
	"cineshelf/scraper"
	"cineshelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points the data path at a temp dir and keeps the logger quiet.
func writeConfig(t *testing.T) (file, data string) {
	t.Helper()
	dir := t.TempDir()
	data = filepath.Join(dir, "data")
	file = filepath.Join(dir, "config.yaml")
	yaml := "data_path: " + data + "\n" +
		"tmdb:\n  base_url: http://127.0.0.1:1\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0644))
	return file, data
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedFavorite(t *testing.T, data string) {
	t.Helper()
	store := storage.NewSQLiteStorage(data, nil)
	defer store.Close()
	_, err := store.Insert(context.Background(), storage.TableMovies, storage.Row{
		storage.ColumnMovieID:     int64(550),
		storage.ColumnTitle:       "Fight Club",
		storage.ColumnReleaseDate: "1999-10-15",
		storage.ColumnIsFavorite:  true,
	})
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), storage.TableTrailers, storage.Row{
		storage.ColumnMovieID: int64(550),
		storage.ColumnKey:     "SUXWAEX2jlg",
		storage.ColumnName:    "Trailer 1",
	})
	require.NoError(t, err)
}

func TestResolveTarget(t *testing.T) {
	endpoints := scraper.Endpoints{BaseURL: "https://example.test/3", APIKey: "k"}

	assert.Equal(t, endpoints.Popular(), resolveTarget("popular", endpoints))
	assert.Equal(t, endpoints.TopRated(), resolveTarget("top-rated", endpoints))
	assert.Equal(t, locator.Favorites().String(), resolveTarget("favorites", endpoints))
	assert.Equal(t, "https://other.test/list", resolveTarget("https://other.test/list", endpoints))
}

func TestParseMovieID(t *testing.T) {
	id, err := parseMovieID("550")
	require.NoError(t, err)
	assert.Equal(t, int64(550), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseMovieID(bad)
		assert.Error(t, err, bad)
	}
}

func TestStatsCmd(t *testing.T) {
	file, data := writeConfig(t)
	seedFavorite(t, data)

	out, err := execute(t, "--config", file, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Favorites: 1")
	assert.Contains(t, out, "Trailers: 1")
	assert.Contains(t, out, "Reviews: 0")
}

func TestBrowseFavoritesAndResume(t *testing.T) {
	file, data := writeConfig(t)
	seedFavorite(t, data)

	out, err := execute(t, "--config", file, "browse", "favorites")
	require.NoError(t, err)
	assert.Contains(t, out, "Favorites")
	assert.Contains(t, out, "Fight Club *")

	// no argument resumes the saved list without touching the network
	out, err = execute(t, "--config", file, "browse")
	require.NoError(t, err)
	assert.Contains(t, out, "Fight Club")

	_, err = execute(t, "--config", file, "browse", "trending")
	assert.Error(t, err)
}

func TestBrowseOfflineFallsBackToFavorites(t *testing.T) {
	file, _ := writeConfig(t)

	out, err := execute(t, "--config", file, "browse")
	require.NoError(t, err)
	assert.Contains(t, out, "Favorites")
	assert.Contains(t, out, "No movies to show.")
}

func TestFavoriteShowAndRemove(t *testing.T) {
	file, data := writeConfig(t)
	seedFavorite(t, data)

	out, err := execute(t, "--config", file, "favorite", "show", "550")
	require.NoError(t, err)
	assert.Contains(t, out, "Fight Club (1999-10-15)")
	assert.Contains(t, out, "https://www.youtube.com/watch?v=SUXWAEX2jlg")

	out, err = execute(t, "--config", file, "favorite", "remove", "550")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed movie 550")

	_, err = execute(t, "--config", file, "favorite", "show", "550")
	assert.Error(t, err)
	_, err = execute(t, "--config", file, "favorite", "remove", "550")
	assert.Error(t, err)
}
