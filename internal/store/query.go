package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/queryir"
	"github.com/roach88/lineage/internal/querysql"
)

// Row is one query result. Values line up with Results.Columns: a star
// projection yields *graph.Node, *Group, *Comment, *Computer or *User, and
// a field projection yields an ir.IRValue.
type Row []any

// Results iterates query rows lazily, fetching one page of batch-size rows
// at a time.
type Results struct {
	s        *Store
	ctx      context.Context
	compiled *querysql.Compiled

	page    []Row
	pos     int
	fetched int  // rows fetched so far
	done    bool // no more pages
	cur     Row
	err     error
}

// Query resolves, compiles and runs a path. Rows are fetched lazily.
func (s *Store) Query(ctx context.Context, p queryir.Path) (*Results, error) {
	r, err := queryir.Resolve(p)
	if err != nil {
		return nil, err
	}
	compiled, err := querysql.NewSQLCompiler().Compile(r)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return &Results{s: s, ctx: ctx, compiled: compiled}, nil
}

// Columns describes the values of each row.
func (r *Results) Columns() []querysql.Column {
	return r.compiled.Columns
}

// Next advances to the next row, fetching a page when needed.
func (r *Results) Next() bool {
	if r.err != nil {
		return false
	}
	if r.pos >= len(r.page) {
		if r.done {
			return false
		}
		if err := r.fetch(); err != nil {
			r.err = err
			return false
		}
		if len(r.page) == 0 {
			return false
		}
	}
	r.cur = r.page[r.pos]
	r.pos++
	return true
}

// Row returns the current row.
func (r *Results) Row() Row {
	return r.cur
}

// Err returns the first error hit while iterating.
func (r *Results) Err() error {
	return r.err
}

// fetch loads the next page. Rows are closed before returning so the single
// connection is free between pages.
func (r *Results) fetch() error {
	limit := r.s.batchSize
	if r.compiled.Limit > 0 {
		remaining := r.compiled.Limit - r.fetched
		if remaining <= 0 {
			r.done = true
			r.page, r.pos = nil, 0
			return nil
		}
		if remaining < limit {
			limit = remaining
		}
	}
	query, args := querysql.Page(r.compiled.SQL, r.compiled.Args, limit, r.compiled.Offset+r.fetched)

	rows, err := r.s.db.QueryContext(r.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	page := make([]Row, 0, limit)
	for rows.Next() {
		row, err := r.s.scanRow(rows, r.compiled.Columns)
		if err != nil {
			return err
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate page: %w", err)
	}

	r.page, r.pos = page, 0
	r.fetched += len(page)
	if len(page) < limit {
		r.done = true
	}
	return nil
}

// All drains the remaining rows.
func (r *Results) All() ([]Row, error) {
	var out []Row
	for r.Next() {
		out = append(out, r.Row())
	}
	return out, r.Err()
}

// First returns the first row, or NotExistent when there is none.
func (r *Results) First() (Row, error) {
	if r.Next() {
		return r.Row(), nil
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return nil, ir.NotExistent("query result", "")
}

// One returns the only row. No rows is NotExistent, more than one is
// MultipleObjects.
func (r *Results) One() (Row, error) {
	first, err := r.First()
	if err != nil {
		return nil, err
	}
	if r.Next() {
		return nil, &ir.Error{Code: ir.CodeMultipleObjects, Message: "query returned more than one row"}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return first, nil
}

// Count returns the number of rows the query yields, honoring limit and offset.
func (r *Results) Count() (int, error) {
	var total int
	if err := r.s.db.QueryRowContext(r.ctx, r.compiled.CountSQL, r.compiled.CountArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	total -= r.compiled.Offset
	if total < 0 {
		total = 0
	}
	if r.compiled.Limit > 0 && total > r.compiled.Limit {
		total = r.compiled.Limit
	}
	return total, nil
}

// scanRow splits a result row into its projected values.
func (s *Store) scanRow(rows *sql.Rows, cols []querysql.Column) (Row, error) {
	width := 0
	for _, c := range cols {
		width += c.Width
	}
	raw := make([]any, width)
	ptrs := make([]any, width)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := make(Row, 0, len(cols))
	at := 0
	for _, c := range cols {
		cells := raw[at : at+c.Width]
		at += c.Width
		if c.IsStar() {
			v, err := s.entityFromCells(c.Kind, cells)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			continue
		}
		v, err := cellValue(cells[0], c.Field.IsJSON())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Key(), err)
		}
		row = append(row, v)
	}
	return row, nil
}

// entityFromCells rebuilds an entity from already scanned cells using the
// same scanners as the direct loaders.
func (s *Store) entityFromCells(kind ir.EntityKind, cells []any) (any, error) {
	src := cellScanner(cells)
	switch kind {
	case ir.EntityNode:
		return s.scanNode(src)
	case ir.EntityGroup:
		return scanGroup(src)
	case ir.EntityComment:
		return scanComment(src)
	case ir.EntityComputer:
		return scanComputer(src)
	case ir.EntityUser:
		return scanUser(src)
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// cellScanner replays scanned cells through database/sql conversion rules.
type cellScanner []any

func (c cellScanner) Scan(dest ...any) error {
	if len(dest) != len(c) {
		return fmt.Errorf("scan: have %d cells, want %d", len(c), len(dest))
	}
	for i, d := range dest {
		if err := convertCell(d, c[i]); err != nil {
			return fmt.Errorf("scan cell %d: %w", i, err)
		}
	}
	return nil
}

// cellValue converts a raw SQL cell to an IRValue. JSON cells are parsed.
func cellValue(v any, isJSON bool) (ir.IRValue, error) {
	if isJSON {
		var text string
		switch t := v.(type) {
		case nil:
			return ir.IRNull{}, nil
		case string:
			text = t
		case []byte:
			text = string(t)
		default:
			return ir.FromAny(v)
		}
		return ir.UnmarshalIRValue([]byte(text))
	}
	if b, ok := v.([]byte); ok {
		return ir.IRString(string(b)), nil
	}
	if t, ok := v.(int); ok {
		return ir.IRInt(t), nil
	}
	return ir.FromAny(v)
}

// convertCell assigns one raw cell to a scan destination.
func convertCell(dest, src any) error {
	switch d := dest.(type) {
	case *string:
		switch v := src.(type) {
		case string:
			*d = v
		case []byte:
			*d = string(v)
		case nil:
			*d = ""
		default:
			return fmt.Errorf("cannot scan %T into string", src)
		}
	case *int64:
		switch v := src.(type) {
		case int64:
			*d = v
		case nil:
			*d = 0
		default:
			return fmt.Errorf("cannot scan %T into int64", src)
		}
	case *int:
		switch v := src.(type) {
		case int64:
			*d = int(v)
		case nil:
			*d = 0
		default:
			return fmt.Errorf("cannot scan %T into int", src)
		}
	case sql.Scanner:
		return d.Scan(src)
	case *any:
		*d = src
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}
