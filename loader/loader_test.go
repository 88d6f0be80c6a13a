package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cineshelf/locator"
	"cineshelf/observer"
	"cineshelf/router"
	"cineshelf/scraper"
	"cineshelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	popularURL  = "https://api.themoviedb.org/3/movie/popular?api_key=k"
	topRatedURL = "https://api.themoviedb.org/3/movie/top_rated?api_key=k"

	twoMovies = `{"results":[{"id":550,"title":"Fight Club"},{"id":13,"title":"Forrest Gump"}]}`
	oneMovie  = `{"results":[{"id":680,"title":"Pulp Fiction"}]}`
)

// fakeFetcher serves fixed bodies per URL. When gate is set every fetch
// waits for it to close (or for its context to end).
type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	err     error
	gate    chan struct{}
	started chan string
	calls   atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- url
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", &scraper.NetworkError{URL: url, Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[url], nil
}

type countingQuerier struct {
	Querier
	calls atomic.Int32
}

func (q *countingQuerier) Query(ctx context.Context, loc locator.Locator, opts storage.QueryOptions) (*storage.Cursor, error) {
	q.calls.Add(1)
	return q.Querier.Query(ctx, loc, opts)
}

type harness struct {
	loader   *Loader
	queue    *Queue
	fetcher  *fakeFetcher
	querier  *countingQuerier
	router   *router.Router
	registry *observer.Registry
}

func newHarness(t *testing.T, fetcher *fakeFetcher) *harness {
	t.Helper()

	store := storage.NewSQLiteStorage(t.TempDir(), nil)
	registry := observer.NewRegistry(nil)
	r := router.New(store, registry, nil)
	querier := &countingQuerier{Querier: r}
	queue := NewQueue()

	l := New(Options{
		Querier:  querier,
		Fetcher:  fetcher,
		Executor: queue,
		Workers:  2,
	})
	t.Cleanup(func() {
		l.Close()
		store.Close()
	})
	return &harness{loader: l, queue: queue, fetcher: fetcher, querier: querier, router: r, registry: registry}
}

// recorder collects deliveries made on the test goroutine.
type recorder struct {
	results [][]storage.Movie
}

func (r *recorder) callback() Callback {
	return func(movies []storage.Movie) {
		r.results = append(r.results, movies)
	}
}

// await drains the queue until n deliveries have been recorded.
func (h *harness) await(t *testing.T, rec *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.queue.Drain()
		return len(rec.results) >= n
	}, 5*time.Second, 5*time.Millisecond)
}

func (h *harness) addFavorite(t *testing.T, m storage.Movie) {
	t.Helper()
	m.IsFavorite = true
	_, err := h.router.BulkInsert(context.Background(), locator.Favorites(), []storage.Row{m.Values()})
	require.NoError(t, err)
}

func TestRemoteLoadIsCached(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	assert.Equal(t, StateLoading, h.loader.State(1))
	h.await(t, rec, 1)

	require.Len(t, rec.results[0], 2)
	assert.Equal(t, "Fight Club", rec.results[0][0].Title)
	assert.False(t, rec.results[0][0].IsFavorite)
	assert.Equal(t, StateDelivered, h.loader.State(1))

	// second identical start is answered synchronously from the cache
	h.loader.Start(1, Remote(popularURL), rec.callback())
	require.Len(t, rec.results, 2)
	assert.Equal(t, rec.results[0], rec.results[1])
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, int32(0), h.querier.calls.Load())
}

func TestCachedResultIsACopy(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 1)
	rec.results[0][0].Title = "changed by caller"

	h.loader.Start(1, Remote(popularURL), rec.callback())
	assert.Equal(t, "Fight Club", rec.results[1][0].Title)
}

func TestResetForcesReload(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 1)

	h.loader.Reset(1)
	h.loader.Start(1, Remote(popularURL), rec.callback())
	assert.Len(t, rec.results, 1, "reset slot must not deliver synchronously")
	h.await(t, rec, 2)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
}

func TestDifferentRequestReplacesCache(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies, topRatedURL: oneMovie}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 1)
	h.loader.Start(1, Remote(topRatedURL), rec.callback())
	h.await(t, rec, 2)
	assert.Equal(t, "Pulp Fiction", rec.results[1][0].Title)

	_, ok := h.loader.cache.Get(1, popularURL)
	assert.False(t, ok, "a slot caches one result")

	h.loader.Start(1, Remote(popularURL), rec.callback())
	assert.Len(t, rec.results, 2)
	h.await(t, rec, 3)
	assert.Equal(t, int32(3), h.fetcher.calls.Load())
}

func TestCancelPreventsDelivery(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 1),
	}
	h := newHarness(t, fetcher)
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	<-fetcher.started
	h.loader.Cancel(1)
	close(fetcher.gate)

	h.loader.Close()
	h.queue.Drain()
	assert.Empty(t, rec.results)
	assert.Equal(t, StateIdle, h.loader.State(1))
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})

	h.loader.Cancel(3)
	h.loader.Cancel(3)
	assert.Equal(t, StateIdle, h.loader.State(3))
}

func TestSupersededLoadNeverDelivers(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies, topRatedURL: oneMovie},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	first, second := &recorder{}, &recorder{}

	h.loader.Start(1, Remote(popularURL), first.callback())
	<-fetcher.started
	h.loader.Start(1, Remote(topRatedURL), second.callback())
	<-fetcher.started
	close(fetcher.gate)

	h.await(t, second, 1)
	h.loader.Close()
	h.queue.Drain()

	assert.Empty(t, first.results)
	require.Len(t, second.results, 1)
	assert.Equal(t, "Pulp Fiction", second.results[0][0].Title)
}

func TestNetworkErrorDeliversNil(t *testing.T) {
	h := newHarness(t, &fakeFetcher{err: &scraper.NetworkError{URL: popularURL, Err: errors.New("connection refused")}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 1)
	assert.Nil(t, rec.results[0])

	// a nil result is not cached
	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 2)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
}

func TestParseErrorDeliversNil(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: `<html>oops</html>`}})
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 1)
	assert.Nil(t, rec.results[0])
}

func TestFavoritesLoadFromStore(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	h.addFavorite(t, storage.Movie{MovieID: 550, Title: "Fight Club", VoteAverage: 8.4})
	h.addFavorite(t, storage.Movie{MovieID: 13, Title: "Forrest Gump"})
	rec := &recorder{}

	h.loader.Start(1, Local(locator.Favorites()), rec.callback())
	h.await(t, rec, 1)

	require.Len(t, rec.results[0], 2)
	assert.Equal(t, int64(550), rec.results[0][0].MovieID)
	assert.True(t, rec.results[0][0].IsFavorite)
	assert.Greater(t, rec.results[0][0].RowID, int64(0))
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestEmptyFavoritesDeliversNil(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	rec := &recorder{}

	h.loader.Start(1, Local(locator.Favorites()), rec.callback())
	h.await(t, rec, 1)
	assert.Nil(t, rec.results[0])
}

func TestUnsupportedTargetDeliversNil(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	rec := &recorder{}

	h.loader.Start(1, Local(locator.SingleItem(locator.Item, 1)), rec.callback())
	h.loader.Start(2, Request{Target: "ftp://example.com/list"}, rec.callback())
	h.await(t, rec, 2)

	assert.Nil(t, rec.results[0])
	assert.Nil(t, rec.results[1])
	assert.Equal(t, int32(0), h.querier.calls.Load())
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestEmptyRequestDeliversNil(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	rec := &recorder{}

	h.loader.Start(1, Request{}, rec.callback())
	require.Len(t, rec.results, 1)
	assert.Nil(t, rec.results[0])
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestSlotsShareOneExecution(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	first, second := &recorder{}, &recorder{}

	h.loader.Start(1, Remote(popularURL), first.callback())
	<-fetcher.started
	h.loader.Start(2, Remote(popularURL), second.callback())

	require.Eventually(t, func() bool {
		h.loader.mu.Lock()
		defer h.loader.mu.Unlock()
		f := h.loader.flights[popularURL]
		return f != nil && f.waiters == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)

	h.await(t, first, 1)
	h.await(t, second, 1)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	first.results[0][0].Title = "slot one only"
	assert.Equal(t, "Fight Club", second.results[0][0].Title)
}

func TestCancelledSlotDoesNotAbortSharedLoad(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	first, second := &recorder{}, &recorder{}

	h.loader.Start(1, Remote(popularURL), first.callback())
	<-fetcher.started
	h.loader.Start(2, Remote(popularURL), second.callback())
	require.Eventually(t, func() bool {
		h.loader.mu.Lock()
		defer h.loader.mu.Unlock()
		f := h.loader.flights[popularURL]
		return f != nil && f.waiters == 2
	}, time.Second, time.Millisecond)

	h.loader.Cancel(1)
	close(fetcher.gate)

	h.await(t, second, 1)
	assert.Len(t, second.results[0], 2)
	assert.Empty(t, first.results)
}

// waitFlightGone waits until every slot has left the flight for target.
func (h *harness) waitFlightGone(t *testing.T, target string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.loader.mu.Lock()
		defer h.loader.mu.Unlock()
		_, ok := h.loader.flights[target]
		return !ok
	}, time.Second, time.Millisecond)
}

func TestRestartAfterCancelFetchesAgain(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	cancelled, restarted := &recorder{}, &recorder{}

	h.loader.Start(1, Remote(popularURL), cancelled.callback())
	<-fetcher.started
	h.loader.Cancel(1)
	h.waitFlightGone(t, popularURL)

	h.loader.Start(1, Remote(popularURL), restarted.callback())
	<-fetcher.started
	close(fetcher.gate)

	h.await(t, restarted, 1)
	assert.Len(t, restarted.results[0], 2)
	assert.Empty(t, cancelled.results)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestOtherSlotAfterCancelFetchesAgain(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	first, second := &recorder{}, &recorder{}

	h.loader.Start(1, Remote(popularURL), first.callback())
	<-fetcher.started
	h.loader.Cancel(1)
	h.waitFlightGone(t, popularURL)

	h.loader.Start(2, Remote(popularURL), second.callback())
	<-fetcher.started
	close(fetcher.gate)

	h.await(t, second, 1)
	assert.Len(t, second.results[0], 2)
	assert.Empty(t, first.results)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

// A restart racing the cancel either joins the live execution or starts a new
// one; both must deliver data.
func TestImmediateRestartAfterCancelDelivers(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies:  map[string]string{popularURL: twoMovies},
		gate:    make(chan struct{}),
		started: make(chan string, 2),
	}
	h := newHarness(t, fetcher)
	rec := &recorder{}

	h.loader.Start(1, Remote(popularURL), (&recorder{}).callback())
	<-fetcher.started
	h.loader.Cancel(1)
	h.loader.Start(1, Remote(popularURL), rec.callback())
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)

	h.await(t, rec, 1)
	assert.Len(t, rec.results[0], 2)
}

func TestWatchReloadsAfterChange(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	h.addFavorite(t, storage.Movie{MovieID: 550, Title: "Fight Club"})
	rec := &recorder{}

	h.loader.Watch(1, h.registry)
	h.loader.Start(1, Local(locator.Favorites()), rec.callback())
	h.await(t, rec, 1)
	require.Len(t, rec.results[0], 1)
	assert.Equal(t, 1, h.registry.Count(locator.Favorites()))

	h.addFavorite(t, storage.Movie{MovieID: 13, Title: "Forrest Gump"})
	h.await(t, rec, 2)
	assert.Len(t, rec.results[1], 2)

	_, err := h.router.Delete(context.Background(), locator.Favorites(), storage.Filter{})
	require.NoError(t, err)
	h.await(t, rec, 3)
	assert.Nil(t, rec.results[2])
	assert.Equal(t, 1, h.registry.Count(locator.Favorites()), "reload keeps a single subscription")
}

func TestWatchIgnoresRemoteAndStopsOnSwitch(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies}})
	rec := &recorder{}

	h.loader.Watch(1, h.registry)
	h.loader.Start(1, Local(locator.Favorites()), rec.callback())
	h.await(t, rec, 1)
	assert.Equal(t, 1, h.registry.Count(locator.Favorites()))

	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.await(t, rec, 2)
	assert.Equal(t, 0, h.registry.Count(locator.Favorites()))

	h.addFavorite(t, storage.Movie{MovieID: 1, Title: "x"})
	h.queue.Drain()
	assert.Len(t, rec.results, 2)
}

func TestWatchStopsOnCancel(t *testing.T) {
	h := newHarness(t, &fakeFetcher{})
	rec := &recorder{}

	h.loader.Watch(1, h.registry)
	h.loader.Start(1, Local(locator.Favorites()), rec.callback())
	h.await(t, rec, 1)

	h.loader.Cancel(1)
	assert.Equal(t, 0, h.registry.Count(locator.Favorites()))
}

func TestStartAfterCloseIsIgnored(t *testing.T) {
	h := newHarness(t, &fakeFetcher{bodies: map[string]string{popularURL: twoMovies}})
	rec := &recorder{}

	h.loader.Close()
	h.loader.Start(1, Remote(popularURL), rec.callback())
	h.queue.Drain()
	assert.Empty(t, rec.results)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestQueueRun(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- q.Run(ctx) }()

	ran := make(chan struct{})
	q.Execute(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued closure did not run")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestQueueDrainRunsNestedWork(t *testing.T) {
	q := NewQueue()
	var order []int
	q.Execute(func() {
		order = append(order, 1)
		q.Execute(func() { order = append(order, 3) })
	})
	q.Execute(func() { order = append(order, 2) })

	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, []int{1, 2, 3}, order)
}
