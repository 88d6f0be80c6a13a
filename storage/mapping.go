package storage

import (
	"fmt"
	"strconv"
)

// Values converts the movie into an insertable row. The row id is left to
// the database.
func (m Movie) Values() Row {
	return Row{
		ColumnMovieID:     m.MovieID,
		ColumnTitle:       m.Title,
		ColumnOverview:    m.Overview,
		ColumnPosterPath:  m.PosterPath,
		ColumnReleaseDate: m.ReleaseDate,
		ColumnVoteAverage: m.VoteAverage,
		ColumnIsFavorite:  m.IsFavorite,
	}
}

// Values converts the trailer into an insertable row.
func (t Trailer) Values() Row {
	return Row{
		ColumnMovieID: t.MovieID,
		ColumnKey:     t.Key,
		ColumnName:    t.Name,
	}
}

// Values converts the review into an insertable row.
func (r Review) Values() Row {
	return Row{
		ColumnMovieID: r.MovieID,
		ColumnAuthor:  r.Author,
		ColumnContent: r.Content,
	}
}

// MovieFromRow maps a full movies row to a Movie.
func MovieFromRow(row Row) (Movie, error) {
	m := rowMapper{table: TableMovies, row: row}
	m.checkShape()
	movie := Movie{
		RowID:       m.readInt(ColumnID),
		MovieID:     m.readInt(ColumnMovieID),
		Title:       m.readString(ColumnTitle),
		Overview:    m.readString(ColumnOverview),
		PosterPath:  m.readString(ColumnPosterPath),
		ReleaseDate: m.readString(ColumnReleaseDate),
		VoteAverage: m.readFloat(ColumnVoteAverage),
		IsFavorite:  m.readBool(ColumnIsFavorite),
	}
	if m.err != nil {
		return Movie{}, m.err
	}
	return movie, nil
}

// TrailerFromRow maps a full trailers row to a Trailer.
func TrailerFromRow(row Row) (Trailer, error) {
	m := rowMapper{table: TableTrailers, row: row}
	m.checkShape()
	trailer := Trailer{
		RowID:   m.readInt(ColumnID),
		MovieID: m.readInt(ColumnMovieID),
		Key:     m.readString(ColumnKey),
		Name:    m.readString(ColumnName),
	}
	if m.err != nil {
		return Trailer{}, m.err
	}
	return trailer, nil
}

// ReviewFromRow maps a full reviews row to a Review.
func ReviewFromRow(row Row) (Review, error) {
	m := rowMapper{table: TableReviews, row: row}
	m.checkShape()
	review := Review{
		RowID:   m.readInt(ColumnID),
		MovieID: m.readInt(ColumnMovieID),
		Author:  m.readString(ColumnAuthor),
		Content: m.readString(ColumnContent),
	}
	if m.err != nil {
		return Review{}, m.err
	}
	return review, nil
}

// rowMapper reads typed columns and keeps the first error.
type rowMapper struct {
	table Table
	row   Row
	err   error
}

func (m *rowMapper) fail(column, reason string) {
	if m.err == nil {
		m.err = &MappingError{Table: m.table, Column: column, Reason: reason}
	}
}

// checkShape rejects rows carrying columns the table does not define.
func (m *rowMapper) checkShape() {
	for col := range m.row {
		if !m.table.hasColumn(col) {
			m.fail(col, "unknown column")
			return
		}
	}
}

// value returns the raw value; ok is false when the column is absent.
// A present NULL is returned as (nil, true).
func (m *rowMapper) value(column string) (any, bool) {
	v, ok := m.row[column]
	if !ok {
		m.fail(column, "missing column")
	}
	return v, ok
}

func (m *rowMapper) readInt(column string) int64 {
	v, ok := m.value(column)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			m.fail(column, "not an integer")
		}
		return i
	}
	m.fail(column, fmt.Sprintf("unexpected type %T for integer", v))
	return 0
}

func (m *rowMapper) readFloat(column string) float64 {
	v, ok := m.value(column)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	m.fail(column, fmt.Sprintf("unexpected type %T for real", v))
	return 0
}

func (m *rowMapper) readString(column string) string {
	v, ok := m.value(column)
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	m.fail(column, fmt.Sprintf("unexpected type %T for text", v))
	return ""
}

func (m *rowMapper) readBool(column string) bool {
	v, ok := m.value(column)
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	}
	m.fail(column, fmt.Sprintf("unexpected type %T for boolean", v))
	return false
}
