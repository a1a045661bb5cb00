package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/parser"
)

// SQLiteExtractor reads sqlite_master and the table-valued PRAGMA functions
type SQLiteExtractor struct {
	queryTimeout time.Duration
}

// Extract extracts every user table of an attached database ("main" by default)
func (e *SQLiteExtractor) Extract(ctx context.Context, db Queryer, schemaName string) (*Schema, error) {
	if err := checkExtractArgs(db, schemaName); err != nil {
		return nil, err
	}

	schema := NewSchema(schemaName, dialect.SQLite)

	tables, err := e.extractTables(ctx, db)
	if err != nil {
		return nil, extractionError(err, dialect.SQLite, schemaName, "tables")
	}

	for _, table := range tables {
		if err := e.extractColumns(ctx, db, table); err != nil {
			return nil, extractionError(err, dialect.SQLite, schemaName, "columns of "+table.Name)
		}
		if err := e.extractIndexes(ctx, db, table); err != nil {
			return nil, extractionError(err, dialect.SQLite, schemaName, "indexes of "+table.Name)
		}
		if err := e.extractForeignKeys(ctx, db, table); err != nil {
			return nil, extractionError(err, dialect.SQLite, schemaName, "foreign keys of "+table.Name)
		}
		if err := schema.AddTable(table); err != nil {
			return nil, err
		}
	}

	if err := schema.Validate(); err != nil {
		return nil, apperrors.New(apperrors.KindValidationFailed, "extracted schema is invalid", err)
	}
	return schema, nil
}

func (e *SQLiteExtractor) extractTables(ctx context.Context, db Queryer) ([]*Table, error) {
	query := `
		SELECT name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		table := NewTable(name)
		table.Original = ddl
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func (e *SQLiteExtractor) extractColumns(ctx context.Context, db Queryer, table *Table) error {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query columns for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	type pkPart struct {
		order int
		name  string
	}
	var pk []pkPart
	for rows.Next() {
		var cid, notNull, pkOrder int
		var name, colType string
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pkOrder); err != nil {
			return fmt.Errorf("failed to scan column data: %w", err)
		}

		column := NewColumn(name, colType, notNull == 0)
		if defaultValue.Valid {
			def := defaultValue.String
			column.Default = &def
		}
		if pkOrder > 0 {
			pk = append(pk, pkPart{order: pkOrder, name: name})
		}
		if err := table.AddColumn(column); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating column rows: %w", err)
	}

	sort.Slice(pk, func(i, j int) bool { return pk[i].order < pk[j].order })
	names := make([]string, len(pk))
	for i, p := range pk {
		names[i] = p.name
	}
	if len(names) > 0 {
		if err := table.SetPrimaryKey(names...); err != nil {
			return err
		}
	}

	// an INTEGER PRIMARY KEY aliases the rowid and is assigned automatically
	if len(names) == 1 {
		col := table.Column(names[0])
		if strings.EqualFold(strings.TrimSpace(col.RawType), "INTEGER") {
			col.AutoIncrement = true
			col.Nullable = false
		}
	}
	return nil
}

func (e *SQLiteExtractor) extractIndexes(ctx context.Context, db Queryer, table *Table) error {
	type listed struct {
		name    string
		unique  bool
		origin  string
		partial bool
	}

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, `SELECT name, "unique", origin, partial FROM pragma_index_list(?) ORDER BY name`, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query indexes for table %s: %w", table.Name, err)
	}
	var indexes []listed
	for rows.Next() {
		var l listed
		if err := rows.Scan(&l.name, &l.unique, &l.origin, &l.partial); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan index list: %w", err)
		}
		indexes = append(indexes, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating index rows: %w", err)
	}

	for _, l := range indexes {
		if l.origin == "pk" {
			continue
		}
		idx, err := e.indexDefinition(ctx, db, table, l.name, l.unique, l.origin, l.partial)
		if err != nil {
			return err
		}
		if idx == nil {
			continue
		}
		if err := table.AddIndex(idx); err != nil {
			return err
		}
	}
	return nil
}

func (e *SQLiteExtractor) indexDefinition(ctx context.Context, db Queryer, table *Table, name string, unique bool, origin string, partial bool) (*Index, error) {
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, `SELECT cid, name, "desc" FROM pragma_index_xinfo(?) WHERE "key" = 1 ORDER BY seqno`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", name, err)
	}
	defer rows.Close()

	idx := &Index{Name: name, Table: table.Name, Type: IndexPlain}
	if unique {
		idx.Type = IndexUnique
	}
	expression := false
	for rows.Next() {
		var cid int
		var colName sql.NullString
		var desc bool
		if err := rows.Scan(&cid, &colName, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan index column: %w", err)
		}
		if cid == -2 || !colName.Valid {
			expression = true
			continue
		}
		part := IndexColumn{Name: colName.String}
		if desc {
			part.Direction = "DESC"
		}
		idx.Columns = append(idx.Columns, part)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if origin == "u" {
		// implicit index of an inline UNIQUE constraint
		idx.Name = fmt.Sprintf("%s_%s_key", table.Name, strings.Join(idx.ColumnNames(), "_"))
	}
	if !expression && !partial {
		return idx, nil
	}

	// expression and predicate text is only available from the stored DDL
	var ddl sql.NullString
	err = db.QueryRowContext(qctx, `SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&ddl)
	if err != nil || !ddl.Valid {
		return nil, nil
	}
	built := NewSchema("", dialect.SQLite)
	_ = built.AddTable(table.Clone())
	b := &ddlBuilder{dialect: dialect.SQLite, schema: built}
	if err := b.createIndex(parser.Head(ddl.String)); err != nil {
		return nil, nil
	}
	parsed := built.Tables[0].Indexes
	return parsed[len(parsed)-1], nil
}

func (e *SQLiteExtractor) extractForeignKeys(ctx context.Context, db Queryer, table *Table) error {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT id, "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var (
		order []int
		byID  = make(map[int]*Constraint)
	)
	for rows.Next() {
		var id int
		var refTable, from, onUpdate, onDelete string
		var to sql.NullString
		if err := rows.Scan(&id, &refTable, &from, &to, &onUpdate, &onDelete); err != nil {
			return fmt.Errorf("failed to scan foreign key data: %w", err)
		}
		fk, ok := byID[id]
		if !ok {
			fk = &Constraint{
				Table:           table.Name,
				Kind:            ConstraintForeignKey,
				ReferencedTable: refTable,
				OnUpdate:        normalizeAction(onUpdate),
				OnDelete:        normalizeAction(onDelete),
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		ref := from
		if to.Valid && to.String != "" {
			ref = to.String
		}
		fk.ReferencedColumns = append(fk.ReferencedColumns, ref)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating foreign key rows: %w", err)
	}

	for _, id := range order {
		fk := byID[id]
		fk.Name = fmt.Sprintf("%s_%s_fkey", table.Name, strings.Join(fk.Columns, "_"))
		if err := table.AddConstraint(fk); err != nil {
			return err
		}
	}
	return nil
}

// CurrentSchema returns "main"
func (e *SQLiteExtractor) CurrentSchema(ctx context.Context, db Queryer) (string, error) {
	if db == nil {
		return "", apperrors.New(apperrors.KindDatabaseConnection, "database connection is nil", nil)
	}
	return "main", nil
}
