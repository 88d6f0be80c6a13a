// Package parser turns TMDB JSON responses into catalog records.
package parser

import (
	"errors"
	"fmt"

	"cineshelf/storage"

	"github.com/buger/jsonparser"
)

// MovieParser decodes the remote list, detail and sub-resource documents.
type MovieParser interface {
	Movies(raw string) ([]storage.Movie, error)
	Movie(raw string) (storage.Movie, error)
	Trailers(raw string, movieID int64) ([]storage.Trailer, error)
	Reviews(raw string, movieID int64) ([]storage.Review, error)
}

// ParseError reports a document that could not be decoded.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TMDB parses The Movie Database v3 responses.
type TMDB struct{}

var _ MovieParser = TMDB{}

// Movies decodes the results array of a movie list response.
func (TMDB) Movies(raw string) ([]storage.Movie, error) {
	var movies []storage.Movie
	err := eachResult([]byte(raw), func(item []byte) error {
		m, err := movie(item)
		if err != nil {
			return err
		}
		movies = append(movies, m)
		return nil
	})
	if err != nil {
		return nil, &ParseError{What: "movie list", Err: err}
	}
	return movies, nil
}

// Movie decodes a single movie detail response.
func (TMDB) Movie(raw string) (storage.Movie, error) {
	m, err := movie([]byte(raw))
	if err != nil {
		return storage.Movie{}, &ParseError{What: "movie", Err: err}
	}
	return m, nil
}

// Trailers decodes a videos response, keeping only YouTube videos.
func (TMDB) Trailers(raw string, movieID int64) ([]storage.Trailer, error) {
	var trailers []storage.Trailer
	err := eachResult([]byte(raw), func(item []byte) error {
		site, err := optionalString(item, "site")
		if err != nil {
			return err
		}
		if site != "YouTube" {
			return nil
		}
		key, err := requiredString(item, "key")
		if err != nil {
			return err
		}
		name, err := optionalString(item, "name")
		if err != nil {
			return err
		}
		trailers = append(trailers, storage.Trailer{MovieID: movieID, Key: key, Name: name})
		return nil
	})
	if err != nil {
		return nil, &ParseError{What: "trailers", Err: err}
	}
	return trailers, nil
}

// Reviews decodes a reviews response.
func (TMDB) Reviews(raw string, movieID int64) ([]storage.Review, error) {
	var reviews []storage.Review
	err := eachResult([]byte(raw), func(item []byte) error {
		author, err := requiredString(item, "author")
		if err != nil {
			return err
		}
		content, err := optionalString(item, "content")
		if err != nil {
			return err
		}
		reviews = append(reviews, storage.Review{MovieID: movieID, Author: author, Content: content})
		return nil
	})
	if err != nil {
		return nil, &ParseError{What: "reviews", Err: err}
	}
	return reviews, nil
}

func movie(data []byte) (storage.Movie, error) {
	id, err := jsonparser.GetInt(data, "id")
	if err != nil {
		return storage.Movie{}, fmt.Errorf("id: %w", err)
	}
	title, err := requiredString(data, "title")
	if err != nil {
		return storage.Movie{}, err
	}

	m := storage.Movie{MovieID: id, Title: title}
	for key, dst := range map[string]*string{
		"overview":     &m.Overview,
		"poster_path":  &m.PosterPath,
		"release_date": &m.ReleaseDate,
	} {
		if *dst, err = optionalString(data, key); err != nil {
			return storage.Movie{}, err
		}
	}
	if m.VoteAverage, err = optionalFloat(data, "vote_average"); err != nil {
		return storage.Movie{}, err
	}
	return m, nil
}

// eachResult calls fn for every object of the top-level "results" array.
func eachResult(data []byte, fn func(item []byte) error) error {
	results, dataType, _, err := jsonparser.Get(data, "results")
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}
	if dataType != jsonparser.Array {
		return fmt.Errorf("results: expected array, got %s", dataType)
	}

	var itemErr error
	_, err = jsonparser.ArrayEach(results, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if itemErr != nil {
			return
		}
		if err != nil {
			itemErr = err
			return
		}
		if dataType != jsonparser.Object {
			itemErr = fmt.Errorf("results: expected object, got %s", dataType)
			return
		}
		itemErr = fn(value)
	})
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}
	return itemErr
}

func requiredString(data []byte, key string) (string, error) {
	s, err := jsonparser.GetString(data, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

// optionalString treats a missing key and JSON null as the empty string.
func optionalString(data []byte, key string) (string, error) {
	value, dataType, _, err := jsonparser.Get(data, key)
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError), dataType == jsonparser.Null:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%s: %w", key, err)
	case dataType != jsonparser.String:
		return "", fmt.Errorf("%s: expected string, got %s", key, dataType)
	}
	s, err := jsonparser.ParseString(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

func optionalFloat(data []byte, key string) (float64, error) {
	value, dataType, _, err := jsonparser.Get(data, key)
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError), dataType == jsonparser.Null:
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case dataType != jsonparser.Number:
		return 0, fmt.Errorf("%s: expected number, got %s", key, dataType)
	}
	f, err := jsonparser.ParseFloat(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
