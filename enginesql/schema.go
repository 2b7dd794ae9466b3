package enginesql

import (
	"context"
	"fmt"
	"strings"

	"github.com/juleafs/julea"
)

// tableName derives the SQL table name from a schema's namespace/name
// pair as "julea_<namespace>_<name>"; sql-generic-ddl.c's "namespace_name"
// naming with a "julea_" prefix added.
func tableName(namespace, name string) string {
	return "julea_" + namespace + "_" + name
}

func indexName(table string, n int) string {
	return fmt.Sprintf("%s_idx%d", table, n)
}

// SchemaCreate creates the backing table and registers the schema in the
// catalogue. DDL cannot run inside the batch's own transaction on most
// drivers, so it breaks out of it (committing first) and resumes it
// afterwards, per sql-generic-ddl.c's sql_generic_schema_create.
func SchemaCreate(ctx context.Context, b *Batch, schema *Schema) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if len(schema.FieldOrder) == 0 {
		return b.poison(julea.ErrSchemaEmpty)
	}

	resume, err := b.breakOutForDDL(ctx)
	if err != nil {
		return b.poison(err)
	}

	spec := b.conn.engine.spec
	table := tableName(schema.Namespace, schema.Name)

	cols := make([]string, 0, len(schema.FieldOrder)+1)
	cols = append(cols, fmt.Sprintf("%s_id%s %s", spec.Quote, spec.Quote, idColumnType(spec)))
	for _, field := range schema.FieldOrder {
		ft := schema.Fields[field]
		cols = append(cols, fmt.Sprintf("%s%s%s %s", spec.Quote, field, spec.Quote, spec.columnType(ft)))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s%s%s (%s)", spec.Quote, table, spec.Quote, strings.Join(cols, ", "))

	if _, err := b.conn.execDirect(ctx, ddl); err != nil {
		return b.poison(fmt.Errorf("enginesql: schema create: %w", classifyDriverError(err)))
	}

	for i, idx := range schema.Indices {
		idxCols := make([]string, len(idx))
		for j, f := range idx {
			idxCols[j] = fmt.Sprintf("%s%s%s", spec.Quote, f, spec.Quote)
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s%s%s (%s)",
			indexName(table, i), spec.Quote, table, spec.Quote, strings.Join(idxCols, ", "))
		if _, err := b.conn.execDirect(ctx, stmt); err != nil {
			return b.poison(fmt.Errorf("enginesql: schema create: index: %w", classifyDriverError(err)))
		}
	}

	insertCatalogue := fmt.Sprintf(
		"INSERT INTO %s (%snamespace%s, %sname%s, %sfield%s, %stype%s) VALUES (?, ?, ?, ?)",
		catalogueTable, spec.Quote, spec.Quote, spec.Quote, spec.Quote, spec.Quote, spec.Quote, spec.Quote, spec.Quote)
	for _, field := range schema.FieldOrder {
		ft := schema.Fields[field]
		if _, err := b.conn.execDirect(ctx, insertCatalogue, schema.Namespace, schema.Name, field, int(ft)); err != nil {
			return b.poison(fmt.Errorf("enginesql: schema create: catalogue: %w", err))
		}
	}

	if err := resume(); err != nil {
		return b.poison(err)
	}
	b.conn.cacheSchema(schema)
	return nil
}

func idColumnType(spec *DriverSpec) string {
	return spec.AutoincrementClause
}

// SchemaGet resolves a schema by namespace/name, consulting conn's cache
// before falling back to the catalogue table.
func SchemaGet(ctx context.Context, conn *Conn, namespace, name string) (*Schema, error) {
	if s, ok := conn.schema(namespace, name); ok {
		return s, nil
	}
	spec := conn.engine.spec
	q := fmt.Sprintf("SELECT %sfield%s, %stype%s FROM %s WHERE %snamespace%s = ? AND %sname%s = ?",
		spec.Quote, spec.Quote, spec.Quote, spec.Quote, catalogueTable, spec.Quote, spec.Quote, spec.Quote, spec.Quote)
	rows, err := conn.query(ctx, q, namespace, name)
	if err != nil {
		return nil, fmt.Errorf("enginesql: schema get: %w", classifyDriverError(err))
	}
	defer rows.Close()

	schema := &Schema{Namespace: namespace, Name: name, Fields: make(map[string]FieldType)}
	for rows.Next() {
		var field string
		var ft int
		if err := rows.Scan(&field, &ft); err != nil {
			return nil, fmt.Errorf("enginesql: schema get: scan: %w", err)
		}
		schema.FieldOrder = append(schema.FieldOrder, field)
		schema.Fields[field] = FieldType(ft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enginesql: schema get: %w", err)
	}
	if len(schema.FieldOrder) == 0 {
		return nil, julea.NewNotFoundError("schema", namespace+":"+name)
	}
	conn.cacheSchema(schema)
	return schema, nil
}

// SchemaDelete drops the backing table and removes the schema from the
// catalogue, breaking out of the batch transaction the same way
// SchemaCreate does.
func SchemaDelete(ctx context.Context, b *Batch, namespace, name string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	resume, err := b.breakOutForDDL(ctx)
	if err != nil {
		return b.poison(err)
	}

	spec := b.conn.engine.spec
	table := tableName(namespace, name)

	if _, err := b.conn.execDirect(ctx, fmt.Sprintf("DROP TABLE %s%s%s", spec.Quote, table, spec.Quote)); err != nil {
		return b.poison(fmt.Errorf("enginesql: schema delete: %w", classifyDriverError(err)))
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE %snamespace%s = ? AND %sname%s = ?",
		catalogueTable, spec.Quote, spec.Quote, spec.Quote, spec.Quote)
	if _, err := b.conn.execDirect(ctx, del, namespace, name); err != nil {
		return b.poison(fmt.Errorf("enginesql: schema delete: catalogue: %w", err))
	}

	if err := resume(); err != nil {
		return b.poison(err)
	}
	b.conn.uncacheSchema(namespace, name)
	return nil
}
