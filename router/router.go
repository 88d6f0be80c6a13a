// Package router dispatches locator-addressed reads and writes to the local
// store and announces writes to observers.
package router

import (
	"context"

	"cineshelf/locator"
	"cineshelf/storage"

	"go.uber.org/zap"
)

// Store is the subset of the local store the router needs.
type Store interface {
	Query(ctx context.Context, table storage.Table, opts storage.QueryOptions) (*storage.Cursor, error)
	Insert(ctx context.Context, table storage.Table, row storage.Row) (int64, error)
	BulkInsert(ctx context.Context, table storage.Table, rows []storage.Row) (int, error)
	Delete(ctx context.Context, table storage.Table, where storage.Filter) (int, error)
}

// Notifier receives change notifications for locators.
type Notifier interface {
	Notify(loc locator.Locator)
}

// Router holds no state of its own; every call resolves its locator afresh.
type Router struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
}

// New returns a router over store. notifier may be nil when nobody observes
// changes.
func New(store Store, notifier Notifier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, notifier: notifier, logger: logger.Named("router")}
}

func tableOf(kind locator.Kind) (storage.Table, bool) {
	switch kind {
	case locator.Item:
		return storage.TableMovies, true
	case locator.Trailer:
		return storage.TableTrailers, true
	case locator.Review:
		return storage.TableReviews, true
	}
	return "", false
}

// Resolve maps loc to the table it addresses and the filter that selects its
// rows.
func Resolve(loc locator.Locator) (storage.Table, storage.Filter, error) {
	table, ok := tableOf(loc.Kind)
	if !ok {
		return "", storage.Filter{}, &UnknownLocatorError{Locator: loc, Op: "resolve"}
	}

	switch loc.Shape {
	case locator.ShapeCollection:
		return table, storage.Filter{}, nil
	case locator.ShapeSingle:
		if loc.Kind == locator.Item {
			return table, storage.Where(storage.ColumnID+" = ?", loc.ID), nil
		}
	case locator.ShapeFilteredByParent:
		if loc.Kind == locator.Trailer || loc.Kind == locator.Review {
			return table, storage.Where(storage.ColumnMovieID+" = ?", loc.ID), nil
		}
	}
	return "", storage.Filter{}, &UnknownLocatorError{Locator: loc, Op: "resolve"}
}

// writeTable resolves a write target. Only whole collections accept writes.
func writeTable(loc locator.Locator, op string) (storage.Table, error) {
	if loc.Shape != locator.ShapeCollection {
		return "", &UnknownLocatorError{Locator: loc, Op: op}
	}
	table, ok := tableOf(loc.Kind)
	if !ok {
		return "", &UnknownLocatorError{Locator: loc, Op: op}
	}
	return table, nil
}

// Query returns the rows addressed by loc. opts.Where, if set, further
// narrows the locator's own filter.
func (r *Router) Query(ctx context.Context, loc locator.Locator, opts storage.QueryOptions) (*storage.Cursor, error) {
	table, filter, err := Resolve(loc)
	if err != nil {
		return nil, err
	}
	opts.Where = filter.And(opts.Where)

	r.logger.Debug("query",
		zap.Stringer("locator", loc),
		zap.String("table", string(table)),
		zap.String("where", opts.Where.Clause))
	return r.store.Query(ctx, table, opts)
}

// Insert writes row into the collection loc and returns the locator of the
// new row. Observers of that locator are notified.
func (r *Router) Insert(ctx context.Context, loc locator.Locator, row storage.Row) (locator.Locator, error) {
	table, err := writeTable(loc, "insert")
	if err != nil {
		return locator.Locator{}, err
	}

	rowID, err := r.store.Insert(ctx, table, row)
	if err != nil {
		return locator.Locator{}, err
	}
	if rowID <= 0 {
		return locator.Locator{}, &WriteError{Locator: loc}
	}

	result := locator.SingleItem(loc.Kind, rowID)
	r.logger.Debug("insert", zap.Stringer("locator", result))
	r.notify(result)
	return result, nil
}

// BulkInsert writes rows into the collection loc atomically. Observers of loc
// are notified once if anything was written.
func (r *Router) BulkInsert(ctx context.Context, loc locator.Locator, rows []storage.Row) (int, error) {
	table, err := writeTable(loc, "bulk insert")
	if err != nil {
		return 0, err
	}

	n, err := r.store.BulkInsert(ctx, table, rows)
	if err != nil {
		return 0, err
	}

	r.logger.Debug("bulk insert", zap.Stringer("locator", loc), zap.Int("rows", n))
	if n > 0 {
		r.notify(loc)
	}
	return n, nil
}

// Delete removes the rows of collection loc matching where. Observers of loc
// are notified once if anything was removed.
func (r *Router) Delete(ctx context.Context, loc locator.Locator, where storage.Filter) (int, error) {
	table, err := writeTable(loc, "delete")
	if err != nil {
		return 0, err
	}

	n, err := r.store.Delete(ctx, table, where)
	if err != nil {
		return 0, err
	}

	r.logger.Debug("delete", zap.Stringer("locator", loc), zap.Int("rows", n))
	if n != 0 {
		r.notify(loc)
	}
	return n, nil
}

// Update is accepted for every locator and changes nothing.
func (r *Router) Update(ctx context.Context, loc locator.Locator, row storage.Row, where storage.Filter) (int, error) {
	return 0, nil
}

// TypeOf is not supported.
func (r *Router) TypeOf(loc locator.Locator) (string, error) {
	return "", &NotImplementedError{Op: "type of " + loc.String()}
}

func (r *Router) notify(loc locator.Locator) {
	if r.notifier != nil {
		r.notifier.Notify(loc)
	}
}
