package storage

// Table names a relational table in the local store.
type Table string

const (
	TableMovies   Table = "movies"
	TableTrailers Table = "trailers"
	TableReviews  Table = "reviews"
)

// Column names shared by the schema, the mapping functions and the router.
const (
	ColumnID          = "id"
	ColumnMovieID     = "movie_id"
	ColumnTitle       = "title"
	ColumnOverview    = "overview"
	ColumnPosterPath  = "poster_path"
	ColumnReleaseDate = "release_date"
	ColumnVoteAverage = "vote_average"
	ColumnIsFavorite  = "is_favorite"
	ColumnKey         = "key"
	ColumnName        = "name"
	ColumnAuthor      = "author"
	ColumnContent     = "content"
)

var tableColumns = map[Table][]string{
	TableMovies: {
		ColumnID, ColumnMovieID, ColumnTitle, ColumnOverview, ColumnPosterPath,
		ColumnReleaseDate, ColumnVoteAverage, ColumnIsFavorite,
	},
	TableTrailers: {ColumnID, ColumnMovieID, ColumnKey, ColumnName},
	TableReviews:  {ColumnID, ColumnMovieID, ColumnAuthor, ColumnContent},
}

// Columns returns the full column list of t in schema order, or nil for an
// unknown table.
func (t Table) Columns() []string {
	cols := tableColumns[t]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

func (t Table) hasColumn(name string) bool {
	for _, c := range tableColumns[t] {
		if c == name {
			return true
		}
	}
	return false
}

func (t Table) known() bool {
	_, ok := tableColumns[t]
	return ok
}

// Row is a single table row keyed by column name. It is used both for
// writes (values to insert) and for reads (values scanned from a cursor).
type Row map[string]any

// Filter is a parameterised WHERE clause. The zero value matches every row.
type Filter struct {
	Clause string
	Args   []any
}

// Where builds a Filter.
func Where(clause string, args ...any) Filter {
	return Filter{Clause: clause, Args: args}
}

// IsEmpty reports whether f matches every row.
func (f Filter) IsEmpty() bool {
	return f.Clause == ""
}

// And combines two filters. Either side may be empty.
func (f Filter) And(other Filter) Filter {
	switch {
	case f.IsEmpty():
		return other
	case other.IsEmpty():
		return f
	}
	args := make([]any, 0, len(f.Args)+len(other.Args))
	args = append(args, f.Args...)
	args = append(args, other.Args...)
	return Filter{Clause: "(" + f.Clause + ") AND (" + other.Clause + ")", Args: args}
}

// QueryOptions narrows a query. The zero value selects every column of
// every row in row id order.
type QueryOptions struct {
	Columns []string
	Where   Filter
	OrderBy string
}

// Movie is a catalog item. Remotely fetched movies have RowID 0 and
// IsFavorite false; rows read back from the store carry both.
type Movie struct {
	RowID       int64   `json:"-"`
	MovieID     int64   `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	PosterPath  string  `json:"poster_path"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	IsFavorite  bool    `json:"-"`
}

// Trailer is a video attached to a movie.
type Trailer struct {
	RowID   int64  `json:"-"`
	MovieID int64  `json:"-"`
	Key     string `json:"key"`
	Name    string `json:"name"`
}

// Review is a user review attached to a movie.
type Review struct {
	RowID   int64  `json:"-"`
	MovieID int64  `json:"-"`
	Author  string `json:"author"`
	Content string `json:"content"`
}
