package enginesql

import (
	"context"
	"fmt"
	"strings"

	"github.com/juleafs/julea"
)

// Insert adds one row to schema's table. It always binds every column
// declared on the schema (NULL for fields the caller left unset in
// entry), so the generated INSERT text is identical across calls
// regardless of which subset of fields is populated, maximising the
// statement cache's hit rate (§4.3's "keep prepared statement text
// stable").
func Insert(ctx context.Context, b *Batch, schema *Schema, entry Row) (id uint64, rerr error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateRow(schema, entry); err != nil {
		return 0, b.poison(err)
	}

	spec := b.conn.engine.spec
	table := tableName(schema.Namespace, schema.Name)

	cols := make([]string, len(schema.FieldOrder))
	placeholders := make([]string, len(schema.FieldOrder))
	args := make([]any, len(schema.FieldOrder))
	for i, field := range schema.FieldOrder {
		cols[i] = fmt.Sprintf("%s%s%s", spec.Quote, field, spec.Quote)
		placeholders[i] = "?"
		args[i] = entry[field]
	}
	stmt := fmt.Sprintf("INSERT INTO %s%s%s (%s) VALUES (%s)",
		spec.Quote, table, spec.Quote, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := b.conn.exec(ctx, stmt, args...); err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: insert: %w", classifyDriverError(err)))
	}

	rows, err := b.conn.query(ctx, spec.LastInsertIDQuery)
	if err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: insert: last insert id: %w", err))
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, b.poison(fmt.Errorf("enginesql: insert: last insert id: no rows"))
	}
	if err := rows.Scan(&id); err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: insert: last insert id: scan: %w", err))
	}
	return id, nil
}

// Update applies entry's fields to every row matching sel. A nil sel
// updates every row in the table.
func Update(ctx context.Context, b *Batch, schema *Schema, sel *Selector, entry Row) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateRow(schema, entry); err != nil {
		return 0, b.poison(err)
	}
	if err := validateFields(schema, sel); err != nil {
		return 0, b.poison(err)
	}

	spec := b.conn.engine.spec
	table := tableName(schema.Namespace, schema.Name)

	setCols := make([]string, 0, len(entry))
	args := make([]any, 0, len(entry))
	for _, field := range schema.FieldOrder {
		v, ok := entry[field]
		if !ok {
			continue
		}
		setCols = append(setCols, fmt.Sprintf("%s%s%s = ?", spec.Quote, field, spec.Quote))
		args = append(args, v)
	}
	if len(setCols) == 0 {
		return 0, nil
	}

	where, _, err := buildSelectorSQL(spec.Quote, schema, sel)
	if err != nil {
		return 0, b.poison(err)
	}
	selArgs, err := bindSelectorValues(sel)
	if err != nil {
		return 0, b.poison(err)
	}
	args = append(args, selArgs...)

	stmt := fmt.Sprintf("UPDATE %s%s%s SET %s", spec.Quote, table, spec.Quote, strings.Join(setCols, ", "))
	if where != "" {
		stmt += " WHERE " + where
	}

	res, err := b.conn.exec(ctx, stmt, args...)
	if err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: update: %w", classifyDriverError(err)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: update: rows affected: %w", err))
	}
	return n, nil
}

// Delete removes every row matching sel. A nil sel deletes every row in
// the table.
func Delete(ctx context.Context, b *Batch, schema *Schema, sel *Selector) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateFields(schema, sel); err != nil {
		return 0, b.poison(err)
	}

	spec := b.conn.engine.spec
	table := tableName(schema.Namespace, schema.Name)

	where, _, err := buildSelectorSQL(spec.Quote, schema, sel)
	if err != nil {
		return 0, b.poison(err)
	}
	args, err := bindSelectorValues(sel)
	if err != nil {
		return 0, b.poison(err)
	}

	stmt := fmt.Sprintf("DELETE FROM %s%s%s", spec.Quote, table, spec.Quote)
	if where != "" {
		stmt += " WHERE " + where
	}

	res, err := b.conn.exec(ctx, stmt, args...)
	if err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: delete: %w", classifyDriverError(err)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, b.poison(fmt.Errorf("enginesql: delete: rows affected: %w", err))
	}
	return n, nil
}

// Iterator walks a Query or QueryIDs result set one row at a time.
type Iterator struct {
	rows    rowsCloser
	columns []string
	schema  *Schema
	ids     bool
}

type rowsCloser interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Next advances the iterator, returning ErrIteratorNoMoreElements once the
// result set is exhausted.
func (it *Iterator) Next() error {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return fmt.Errorf("enginesql: iterate: %w", err)
		}
		return julea.ErrIteratorNoMoreElements
	}
	return nil
}

// Row scans the current row into a Row (Query) or a single uint64 id
// (QueryIDs, via ScanID).
func (it *Iterator) Row() (Row, error) {
	dest := make([]any, len(it.columns))
	ptrs := make([]any, len(it.columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("enginesql: iterate: scan: %w", err)
	}
	row := make(Row, len(it.columns))
	for i, col := range it.columns {
		row[col] = dest[i]
	}
	return row, nil
}

// ScanID scans the current row's sole "_id" column.
func (it *Iterator) ScanID() (uint64, error) {
	var id uint64
	if err := it.rows.Scan(&id); err != nil {
		return 0, fmt.Errorf("enginesql: iterate: scan id: %w", err)
	}
	return id, nil
}

// Close releases the underlying result set.
func (it *Iterator) Close() error { return it.rows.Close() }

// QueryIDs returns an Iterator over the "_id" column of every row
// matching sel.
func QueryIDs(ctx context.Context, conn *Conn, schema *Schema, sel *Selector) (*Iterator, error) {
	return queryColumns(ctx, conn, schema, sel, []string{"_id"}, true)
}

// Query returns an Iterator over the full rows matching sel, scoped to
// the fields schema declares.
func Query(ctx context.Context, conn *Conn, schema *Schema, sel *Selector) (*Iterator, error) {
	cols := make([]string, 0, len(schema.FieldOrder)+1)
	cols = append(cols, "_id")
	cols = append(cols, schema.FieldOrder...)
	return queryColumns(ctx, conn, schema, sel, cols, false)
}

func queryColumns(ctx context.Context, conn *Conn, schema *Schema, sel *Selector, cols []string, idsOnly bool) (*Iterator, error) {
	if err := validateFields(schema, sel); err != nil {
		return nil, err
	}
	spec := conn.engine.spec
	table := tableName(schema.Namespace, schema.Name)

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%s%s%s", spec.Quote, c, spec.Quote)
	}
	where, _, err := buildSelectorSQL(spec.Quote, schema, sel)
	if err != nil {
		return nil, err
	}
	args, err := bindSelectorValues(sel)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(quoted, ", "), spec.Quote, table, spec.Quote)
	if where != "" {
		stmt += " WHERE " + where
	}

	rows, err := conn.query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("enginesql: query: %w", classifyDriverError(err))
	}
	return &Iterator{rows: rows, columns: cols, schema: schema, ids: idsOnly}, nil
}
