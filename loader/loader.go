// Package loader runs movie list loads off the primary goroutine and
// delivers their results back onto it.
//
// A Loader manages numbered slots. Each slot loads one Request at a time:
// starting a new request supersedes the previous one, and a superseded or
// cancelled load never reaches its callback. Results are kept in a
// caller-owned Cache so starting the same request again is answered without
// any I/O. Every failure along the way (network, parse, store, mapping) is
// logged and delivered as a nil result.
package loader

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"cineshelf/locator"
	"cineshelf/observer"
	"cineshelf/parser"
	"cineshelf/scraper"
	"cineshelf/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Querier reads locator-addressed rows from the local store.
type Querier interface {
	Query(ctx context.Context, loc locator.Locator, opts storage.QueryOptions) (*storage.Cursor, error)
}

// Callback receives a slot's result on the primary goroutine. A nil slice
// means no data.
type Callback func(movies []storage.Movie)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateDelivered:
		return "delivered"
	}
	return "unknown"
}

const DefaultWorkers = 4

type Options struct {
	Querier  Querier
	Fetcher  scraper.Fetcher
	Parser   parser.MovieParser
	Cache    *Cache
	Executor Executor
	// Workers bounds the number of loads running at once.
	Workers int
	Logger  *zap.Logger
}

type Loader struct {
	querier Querier
	fetcher scraper.Fetcher
	parser  parser.MovieParser
	cache   *Cache
	exec    Executor
	logger  *zap.Logger

	sem   *semaphore.Weighted
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	slots     map[int]*slot
	flights   map[string]*flight
	flightSeq uint64
	closed  bool
}

type slot struct {
	req    Request
	cb     Callback
	gen    uint64
	state  State
	cancel context.CancelFunc

	registry *observer.Registry
	sub      *observer.Subscription
}

// flight is the context shared by every slot waiting on one fingerprint. It
// is cancelled once no slot wants the result any more. key is unique per
// flight so a run starting after cancellation never joins the dead call.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func New(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}
	if opts.Parser == nil {
		opts.Parser = parser.TMDB{}
	}
	if opts.Executor == nil {
		opts.Executor = NewQueue()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		querier: opts.Querier,
		fetcher: opts.Fetcher,
		parser:  opts.Parser,
		cache:   opts.Cache,
		exec:    opts.Executor,
		logger:  opts.Logger.Named("loader"),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[int]*slot),
		flights: make(map[string]*flight),
	}
}

func (l *Loader) slot(id int) *slot {
	s, ok := l.slots[id]
	if !ok {
		s = &slot{}
		l.slots[id] = s
	}
	return s
}

// supersede invalidates whatever the slot is currently loading.
func (s *slot) supersede() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *slot) unwatch() {
	if s.sub != nil {
		s.sub.Unregister()
		s.sub = nil
	}
}

// Start points slot at req. It must be called on the primary goroutine.
//
// A cached result for the same request is delivered before Start returns.
// Otherwise the load runs on a worker and cb is invoked later, through the
// Executor, unless the slot is cancelled or restarted first.
func (l *Loader) Start(id int, req Request, cb Callback) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Warn("start after close ignored", zap.Int("slot", id))
		return
	}

	s := l.slot(id)
	s.supersede()
	if s.req != req {
		s.unwatch()
	}
	s.req, s.cb = req, cb

	if req.IsEmpty() {
		s.state = StateDelivered
		l.mu.Unlock()
		cb(nil)
		return
	}

	fp := req.Fingerprint()
	if movies, ok := l.cache.Get(id, fp); ok {
		s.state = StateDelivered
		l.mu.Unlock()
		l.logger.Debug("cache hit", zap.Int("slot", id), zap.String("target", req.Target))
		cb(movies)
		return
	}
	if cached, ok := l.cache.Fingerprint(id); ok && cached != fp {
		l.cache.Clear(id)
	}

	ctx, cancel := context.WithCancel(l.ctx)
	s.cancel = cancel
	s.state = StateLoading
	gen := s.gen
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(ctx, id, gen, req)
}

func (l *Loader) run(ctx context.Context, id int, gen uint64, req Request) {
	defer l.wg.Done()

	logger := l.logger.With(
		zap.Int("slot", id),
		zap.String("load_id", uuid.NewString()),
		zap.String("target", req.Target))

	if err := l.sem.Acquire(ctx, 1); err != nil {
		logger.Debug("load cancelled before it started")
		return
	}
	movies, shared := l.execute(ctx, logger, req)
	l.sem.Release(1)

	if ctx.Err() != nil {
		logger.Debug("load cancelled", zap.Bool("shared", shared))
		return
	}

	// slots that shared an execution must not share a backing array
	movies = slices.Clone(movies)
	l.exec.Execute(func() {
		l.deliver(id, gen, req, movies)
	})
}

// execute runs the load for req, sharing a single execution with every other
// slot currently loading the same fingerprint.
func (l *Loader) execute(ctx context.Context, logger *zap.Logger, req Request) ([]storage.Movie, bool) {
	fp := req.Fingerprint()
	f := l.join(fp)
	stop := context.AfterFunc(ctx, func() { l.leave(fp, f) })
	defer func() {
		if stop() {
			l.leave(fp, f)
		}
	}()

	v, _, shared := l.group.Do(f.key, func() (any, error) {
		return l.load(f.ctx, logger, req), nil
	})
	movies, _ := v.([]storage.Movie)
	return movies, shared
}

func (l *Loader) join(fp string) *flight {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.flights[fp]
	if !ok {
		ctx, cancel := context.WithCancel(l.ctx)
		l.flightSeq++
		f = &flight{
			key:    fp + "#" + strconv.FormatUint(l.flightSeq, 10),
			ctx:    ctx,
			cancel: cancel,
		}
		l.flights[fp] = f
	}
	f.waiters++
	return f
}

func (l *Loader) leave(fp string, f *flight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		if l.flights[fp] == f {
			delete(l.flights, fp)
		}
	}
}

// load decides where req's data lives and fetches it. It never fails: every
// error is logged and turned into a nil result.
func (l *Loader) load(ctx context.Context, logger *zap.Logger, req Request) []storage.Movie {
	if u, ok := scraper.BuildURL(req.Target); ok {
		body, err := l.fetcher.Fetch(ctx, u.String())
		if err != nil {
			logger.Warn("failed to fetch movie list", zap.Error(err))
			return nil
		}
		movies, err := l.parser.Movies(body)
		if err != nil {
			logger.Warn("failed to parse movie list", zap.Error(err))
			return nil
		}
		logger.Debug("remote load finished", zap.Int("movies", len(movies)))
		return movies
	}

	loc, err := locator.Parse(req.Target)
	if err != nil || loc != locator.Favorites() {
		logger.Warn("unsupported load target", zap.Error(err))
		return nil
	}

	cur, err := l.querier.Query(ctx, loc, storage.QueryOptions{})
	if err != nil {
		logger.Warn("failed to query local store", zap.Error(err))
		return nil
	}
	defer cur.Close()

	if cur.Len() == 0 {
		logger.Debug("local load found no rows")
		return nil
	}
	movies := make([]storage.Movie, 0, cur.Len())
	for row := range cur.All() {
		m, err := storage.MovieFromRow(row)
		if err != nil {
			logger.Warn("failed to map movie row", zap.Error(err))
			return nil
		}
		movies = append(movies, m)
	}
	logger.Debug("local load finished", zap.Int("movies", len(movies)))
	return movies
}

// deliver runs on the primary goroutine.
func (l *Loader) deliver(id int, gen uint64, req Request, movies []storage.Movie) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok || s.gen != gen || s.state != StateLoading {
		l.mu.Unlock()
		l.logger.Debug("stale result dropped", zap.Int("slot", id), zap.String("target", req.Target))
		return
	}

	if movies != nil {
		l.cache.Put(id, req.Fingerprint(), movies)
	}
	s.state = StateDelivered
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	l.subscribe(id, s)
	cb := s.cb
	l.mu.Unlock()

	cb(movies)
}

// Watch reloads slot whenever the local data it delivered changes. Remote
// results are never watched. The subscription lasts until the slot is
// cancelled or started with a different request.
func (l *Loader) Watch(id int, registry *observer.Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slot(id)
	s.registry = registry
	if s.state == StateDelivered {
		l.subscribe(id, s)
	}
}

// subscribe must be called with l.mu held.
func (l *Loader) subscribe(id int, s *slot) {
	if s.registry == nil || s.sub != nil {
		return
	}
	loc, err := locator.Parse(s.req.Target)
	if err != nil {
		return
	}

	req := s.req
	s.sub = s.registry.Register(loc, func(locator.Locator) {
		l.exec.Execute(func() { l.reload(id, req) })
	})
	l.logger.Debug("watching", zap.Int("slot", id), zap.Stringer("locator", loc))
}

// reload runs on the primary goroutine after a watched locator changed.
func (l *Loader) reload(id int, req Request) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok || s.req != req || s.sub == nil {
		l.mu.Unlock()
		return
	}
	cb := s.cb
	l.mu.Unlock()

	l.logger.Debug("reloading after change", zap.Int("slot", id), zap.String("target", req.Target))
	l.cache.Clear(id)
	l.Start(id, req, cb)
}

// Cancel stops the slot's load, if any, without invoking its callback. It
// is safe to call on an idle or unknown slot and to call more than once.
func (l *Loader) Cancel(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[id]
	if !ok {
		return
	}
	s.supersede()
	s.unwatch()
	s.state = StateIdle
}

// Reset drops the slot's cached result so the next Start loads again.
func (l *Loader) Reset(id int) {
	l.cache.Clear(id)
}

func (l *Loader) State(id int) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.slots[id]; ok {
		return s.state
	}
	return StateIdle
}

// Close cancels every slot and waits for running loads to stop.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	for _, s := range l.slots {
		s.supersede()
		s.unwatch()
		s.state = StateIdle
	}
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
