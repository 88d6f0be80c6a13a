package storage

import "iter"

// Cursor iterates over the rows returned by a query. Rows are read off the
// connection before the query returns, so a Cursor holds no database
// resources and never observes a write that committed after the query.
type Cursor struct {
	columns []string
	rows    []Row
	pos     int
}

func newCursor(columns []string, rows []Row) *Cursor {
	return &Cursor{columns: columns, rows: rows, pos: -1}
}

// Next advances to the next row and reports whether one exists.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

// Row returns the current row. It must only be called after Next returned
// true.
func (c *Cursor) Row() Row {
	return c.rows[c.pos]
}

// Len returns the number of rows in the result.
func (c *Cursor) Len() int {
	return len(c.rows)
}

// Columns returns the projected column names.
func (c *Cursor) Columns() []string {
	return c.columns
}

// All iterates over every row from the start, independently of Next.
func (c *Cursor) All() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, r := range c.rows {
			if !yield(r) {
				return
			}
		}
	}
}

// Close releases the cursor. It exists so callers can treat the cursor
// like a database handle.
func (c *Cursor) Close() error {
	c.rows = nil
	c.pos = -1
	return nil
}
