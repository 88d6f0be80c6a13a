package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cineshelf/favorites"
	"cineshelf/notifier"
	"cineshelf/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FavoritesSource is what the refresh job needs from the favorites service.
type FavoritesSource interface {
	List(ctx context.Context) ([]storage.Movie, error)
	Detail(ctx context.Context, movieID int64) (favorites.Detail, error)
	Fetch(ctx context.Context, movieID int64) (favorites.Detail, error)
	ReplaceChildren(ctx context.Context, movieID int64, trailers []storage.Trailer, reviews []storage.Review) error
}

// RefreshNotifier is told what a completed refresh found.
type RefreshNotifier interface {
	NotifyRefresh(ctx context.Context, report notifier.RefreshReport) error
}

// FavoritesRefreshJob re-downloads the trailers and reviews of every favorite
// and replaces the stored copies.
type FavoritesRefreshJob struct {
	favorites   FavoritesSource
	concurrency int
	notifier    RefreshNotifier
	logger      *zap.Logger
}

// NewFavoritesRefreshJob creates a refresh job fetching at most concurrency
// movies at a time.
func NewFavoritesRefreshJob(source FavoritesSource, concurrency int, logger *zap.Logger) *FavoritesRefreshJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FavoritesRefreshJob{
		favorites:   source,
		concurrency: concurrency,
		logger:      logger.Named("favorites_refresh"),
	}
}

// WithNotifier reports every completed run to n.
func (j *FavoritesRefreshJob) WithNotifier(n RefreshNotifier) *FavoritesRefreshJob {
	j.notifier = n
	return j
}

// Name returns the name of the job
func (j *FavoritesRefreshJob) Name() string {
	return "favorites_refresh"
}

// Run executes the job. A movie that fails to refresh is logged and skipped;
// its stored children are left untouched.
func (j *FavoritesRefreshJob) Run(ctx context.Context) error {
	movies, err := j.favorites.List(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("refreshing favorites", zap.Int("movies", len(movies)))

	var (
		refreshed, failed atomic.Int32
		mu                sync.Mutex
		updates           []notifier.MovieUpdate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for _, m := range movies {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			logger := j.logger.With(zap.Int64("movie_id", m.MovieID), zap.String("title", m.Title))

			detail, err := j.favorites.Fetch(gctx, m.MovieID)
			if err != nil {
				logger.Warn("failed to fetch movie detail", zap.Error(err))
				failed.Add(1)
				return nil
			}
			// without the stored detail there is nothing to diff against
			stored, err := j.favorites.Detail(gctx, m.MovieID)
			known := err == nil
			if !known {
				logger.Warn("failed to read stored detail", zap.Error(err))
			}
			if err := j.favorites.ReplaceChildren(gctx, m.MovieID, detail.Trailers, detail.Reviews); err != nil {
				logger.Error("failed to store movie detail", zap.Error(err))
				failed.Add(1)
				return nil
			}
			logger.Debug("movie refreshed",
				zap.Int("trailers", len(detail.Trailers)),
				zap.Int("reviews", len(detail.Reviews)))
			refreshed.Add(1)

			if !known {
				return nil
			}
			if u, changed := diff(m, stored, detail); changed {
				mu.Lock()
				updates = append(updates, u)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	j.logger.Info("favorites refresh complete",
		zap.Int32("refreshed", refreshed.Load()),
		zap.Int32("failed", failed.Load()),
		zap.Int("changed", len(updates)))

	if j.notifier != nil {
		report := notifier.RefreshReport{
			At:        time.Now(),
			Refreshed: int(refreshed.Load()),
			Failed:    int(failed.Load()),
			Updates:   updates,
		}
		if err := j.notifier.NotifyRefresh(ctx, report); err != nil {
			// the refresh itself succeeded
			j.logger.Error("failed to send refresh notification", zap.Error(err))
		}
	}
	return nil
}

// diff lists the trailers and reviews in fresh that stored lacks.
func diff(m storage.Movie, stored, fresh favorites.Detail) (notifier.MovieUpdate, bool) {
	u := notifier.MovieUpdate{MovieID: m.MovieID, Title: m.Title}

	keys := make(map[string]bool, len(stored.Trailers))
	for _, t := range stored.Trailers {
		keys[t.Key] = true
	}
	for _, t := range fresh.Trailers {
		if !keys[t.Key] {
			u.NewTrailers = append(u.NewTrailers, t.Key)
		}
	}

	seen := make(map[storage.Review]bool, len(stored.Reviews))
	for _, r := range stored.Reviews {
		seen[storage.Review{Author: r.Author, Content: r.Content}] = true
	}
	for _, r := range fresh.Reviews {
		if !seen[storage.Review{Author: r.Author, Content: r.Content}] {
			u.NewReviews = append(u.NewReviews, r.Author)
		}
	}
	return u, len(u.NewTrailers) > 0 || len(u.NewReviews) > 0
}
