// Package favorites keeps movies, with their trailers and reviews, in the
// local store.
package favorites

import (
	"context"
	"errors"
	"fmt"

	"cineshelf/locator"
	"cineshelf/parser"
	"cineshelf/scraper"
	"cineshelf/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNotFavorite = errors.New("movie is not a favorite")

// Router is the locator-addressed store the service writes through.
type Router interface {
	Query(ctx context.Context, loc locator.Locator, opts storage.QueryOptions) (*storage.Cursor, error)
	Insert(ctx context.Context, loc locator.Locator, row storage.Row) (locator.Locator, error)
	BulkInsert(ctx context.Context, loc locator.Locator, rows []storage.Row) (int, error)
	Delete(ctx context.Context, loc locator.Locator, where storage.Filter) (int, error)
}

// Detail is a movie together with its sub-resources.
type Detail struct {
	Movie    storage.Movie     `json:"movie"`
	Trailers []storage.Trailer `json:"trailers"`
	Reviews  []storage.Review  `json:"reviews"`
}

type Service struct {
	router    Router
	fetcher   scraper.Fetcher
	parser    parser.MovieParser
	endpoints scraper.Endpoints
	logger    *zap.Logger
}

func NewService(router Router, fetcher scraper.Fetcher, p parser.MovieParser, endpoints scraper.Endpoints, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = parser.TMDB{}
	}
	return &Service{
		router:    router,
		fetcher:   fetcher,
		parser:    p,
		endpoints: endpoints,
		logger:    logger.Named("favorites"),
	}
}

var (
	trailers = locator.Collection(locator.Trailer)
	reviews  = locator.Collection(locator.Review)
)

func byMovie(movieID int64) storage.Filter {
	return storage.Where(storage.ColumnMovieID+" = ?", movieID)
}

// Add stores movie as a favorite along with its trailers and reviews and
// returns the locator of the new movie row. If the children cannot be stored
// the movie is removed again.
func (s *Service) Add(ctx context.Context, movie storage.Movie, ts []storage.Trailer, rs []storage.Review) (locator.Locator, error) {
	movie.IsFavorite = true
	loc, err := s.router.Insert(ctx, locator.Favorites(), movie.Values())
	if err != nil {
		return locator.Locator{}, fmt.Errorf("failed to add favorite %d: %w", movie.MovieID, err)
	}

	if err := s.insertChildren(ctx, movie.MovieID, ts, rs); err != nil {
		if _, rbErr := s.Remove(ctx, movie.MovieID); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to roll back favorite: %w", rbErr))
		}
		return locator.Locator{}, fmt.Errorf("failed to add favorite %d: %w", movie.MovieID, err)
	}

	s.logger.Info("favorite added",
		zap.Int64("movie_id", movie.MovieID),
		zap.String("title", movie.Title),
		zap.Int("trailers", len(ts)),
		zap.Int("reviews", len(rs)))
	return loc, nil
}

func (s *Service) insertChildren(ctx context.Context, movieID int64, ts []storage.Trailer, rs []storage.Review) error {
	if len(ts) > 0 {
		rows := make([]storage.Row, len(ts))
		for i, t := range ts {
			t.MovieID = movieID
			rows[i] = t.Values()
		}
		if _, err := s.router.BulkInsert(ctx, trailers, rows); err != nil {
			return fmt.Errorf("failed to store trailers: %w", err)
		}
	}
	if len(rs) > 0 {
		rows := make([]storage.Row, len(rs))
		for i, r := range rs {
			r.MovieID = movieID
			rows[i] = r.Values()
		}
		if _, err := s.router.BulkInsert(ctx, reviews, rows); err != nil {
			return fmt.Errorf("failed to store reviews: %w", err)
		}
	}
	return nil
}

// Remove deletes the movie and every trailer and review that references it.
// It returns the number of movie rows removed.
func (s *Service) Remove(ctx context.Context, movieID int64) (int, error) {
	if _, err := s.router.Delete(ctx, trailers, byMovie(movieID)); err != nil {
		return 0, fmt.Errorf("failed to remove trailers of %d: %w", movieID, err)
	}
	if _, err := s.router.Delete(ctx, reviews, byMovie(movieID)); err != nil {
		return 0, fmt.Errorf("failed to remove reviews of %d: %w", movieID, err)
	}
	n, err := s.router.Delete(ctx, locator.Favorites(), byMovie(movieID))
	if err != nil {
		return 0, fmt.Errorf("failed to remove favorite %d: %w", movieID, err)
	}
	s.logger.Info("favorite removed", zap.Int64("movie_id", movieID), zap.Int("rows", n))
	return n, nil
}

func (s *Service) IsFavorite(ctx context.Context, movieID int64) (bool, error) {
	cur, err := s.router.Query(ctx, locator.Favorites(), storage.QueryOptions{
		Columns: []string{storage.ColumnID},
		Where:   byMovie(movieID),
	})
	if err != nil {
		return false, err
	}
	return cur.Len() > 0, nil
}

// List returns every favorite in the order they were added.
func (s *Service) List(ctx context.Context) ([]storage.Movie, error) {
	cur, err := s.router.Query(ctx, locator.Favorites(), storage.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return collect(cur, storage.MovieFromRow)
}

// Detail reads a favorite and its children from the local store.
func (s *Service) Detail(ctx context.Context, movieID int64) (Detail, error) {
	cur, err := s.router.Query(ctx, locator.Favorites(), storage.QueryOptions{Where: byMovie(movieID)})
	if err != nil {
		return Detail{}, err
	}
	movies, err := collect(cur, storage.MovieFromRow)
	if err != nil {
		return Detail{}, err
	}
	if len(movies) == 0 {
		return Detail{}, fmt.Errorf("movie %d: %w", movieID, ErrNotFavorite)
	}

	d := Detail{Movie: movies[0]}
	cur, err = s.router.Query(ctx, locator.CollectionFilteredByParent(locator.Trailer, movieID), storage.QueryOptions{})
	if err != nil {
		return Detail{}, err
	}
	if d.Trailers, err = collect(cur, storage.TrailerFromRow); err != nil {
		return Detail{}, err
	}
	cur, err = s.router.Query(ctx, locator.CollectionFilteredByParent(locator.Review, movieID), storage.QueryOptions{})
	if err != nil {
		return Detail{}, err
	}
	if d.Reviews, err = collect(cur, storage.ReviewFromRow); err != nil {
		return Detail{}, err
	}
	return d, nil
}

// ReplaceChildren swaps the stored trailers and reviews of a favorite for
// fresh ones.
func (s *Service) ReplaceChildren(ctx context.Context, movieID int64, ts []storage.Trailer, rs []storage.Review) error {
	if _, err := s.router.Delete(ctx, trailers, byMovie(movieID)); err != nil {
		return fmt.Errorf("failed to clear trailers of %d: %w", movieID, err)
	}
	if _, err := s.router.Delete(ctx, reviews, byMovie(movieID)); err != nil {
		return fmt.Errorf("failed to clear reviews of %d: %w", movieID, err)
	}
	return s.insertChildren(ctx, movieID, ts, rs)
}

// Fetch retrieves a movie with its trailers and reviews from the remote
// source. The three requests run concurrently.
func (s *Service) Fetch(ctx context.Context, movieID int64) (Detail, error) {
	var d Detail
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		body, err := s.fetcher.Fetch(gctx, s.endpoints.Movie(movieID))
		if err != nil {
			return err
		}
		d.Movie, err = s.parser.Movie(body)
		return err
	})
	g.Go(func() error {
		body, err := s.fetcher.Fetch(gctx, s.endpoints.Videos(movieID))
		if err != nil {
			return err
		}
		d.Trailers, err = s.parser.Trailers(body, movieID)
		return err
	})
	g.Go(func() error {
		body, err := s.fetcher.Fetch(gctx, s.endpoints.Reviews(movieID))
		if err != nil {
			return err
		}
		d.Reviews, err = s.parser.Reviews(body, movieID)
		return err
	})

	if err := g.Wait(); err != nil {
		return Detail{}, fmt.Errorf("failed to fetch movie %d: %w", movieID, err)
	}
	return d, nil
}

func collect[T any](cur *storage.Cursor, from func(storage.Row) (T, error)) ([]T, error) {
	defer cur.Close()

	out := make([]T, 0, cur.Len())
	for row := range cur.All() {
		v, err := from(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
