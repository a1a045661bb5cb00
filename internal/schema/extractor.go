package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

// Queryer is the read side of *sql.DB, *sql.Conn and *sql.Tx
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Extractor builds a schema graph from a live database
type Extractor interface {
	// Extract reads every base table of schemaName
	Extract(ctx context.Context, db Queryer, schemaName string) (*Schema, error)
	// CurrentSchema returns the schema the connection is using
	CurrentSchema(ctx context.Context, db Queryer) (string, error)
}

const defaultQueryTimeout = 30 * time.Second

// NewExtractor returns the introspection implementation for d
func NewExtractor(d dialect.Dialect) (Extractor, error) {
	return NewExtractorWithTimeout(d, defaultQueryTimeout)
}

// NewExtractorWithTimeout returns an extractor whose individual catalog
// queries are bounded by timeout
func NewExtractorWithTimeout(d dialect.Dialect, timeout time.Duration) (Extractor, error) {
	switch d {
	case dialect.MySQL:
		return &MySQLExtractor{queryTimeout: timeout}, nil
	case dialect.Postgres:
		return &PostgresExtractor{queryTimeout: timeout}, nil
	case dialect.SQLite:
		return &SQLiteExtractor{queryTimeout: timeout}, nil
	}
	return nil, apperrors.New(apperrors.KindValidationFailed, fmt.Sprintf("no schema extractor for dialect %q", d), nil)
}

func checkExtractArgs(db Queryer, schemaName string) error {
	if db == nil {
		return apperrors.New(apperrors.KindDatabaseConnection, "database connection is nil", nil)
	}
	if schemaName == "" {
		return apperrors.New(apperrors.KindValidationFailed, "schema name cannot be empty", nil)
	}
	return nil
}

func extractionError(err error, d dialect.Dialect, schemaName, what string) error {
	wrapped := apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to extract "+what)
	if be, ok := wrapped.(*apperrors.BackupError); ok {
		be.WithContext("dialect", string(d)).WithContext("schema", schemaName)
	}
	return wrapped
}

// MySQLExtractor reads INFORMATION_SCHEMA
type MySQLExtractor struct {
	queryTimeout time.Duration
}

// Extract extracts the complete schema from a MySQL database
func (e *MySQLExtractor) Extract(ctx context.Context, db Queryer, schemaName string) (*Schema, error) {
	if err := checkExtractArgs(db, schemaName); err != nil {
		return nil, err
	}

	schema := NewSchema(schemaName, dialect.MySQL)

	tables, err := e.extractTables(ctx, db, schemaName)
	if err != nil {
		return nil, extractionError(err, dialect.MySQL, schemaName, "tables")
	}

	for _, table := range tables {
		if err := e.extractColumns(ctx, db, schemaName, table); err != nil {
			return nil, extractionError(err, dialect.MySQL, schemaName, "columns of "+table.Name)
		}
		if err := e.extractIndexes(ctx, db, schemaName, table); err != nil {
			return nil, extractionError(err, dialect.MySQL, schemaName, "indexes of "+table.Name)
		}
		if err := e.extractForeignKeys(ctx, db, schemaName, table); err != nil {
			return nil, extractionError(err, dialect.MySQL, schemaName, "foreign keys of "+table.Name)
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

func (e *MySQLExtractor) extractTables(ctx context.Context, db Queryer, schemaName string) ([]*Table, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, NewTable(tableName))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows: %w", err)
	}
	return tables, nil
}

func (e *MySQLExtractor) extractColumns(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			COLUMN_NAME,
			COLUMN_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query columns for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var columnName, columnType, isNullable, extra string
		var defaultValue sql.NullString

		if err := rows.Scan(&columnName, &columnType, &isNullable, &defaultValue, &extra); err != nil {
			return fmt.Errorf("failed to scan column data: %w", err)
		}

		column := NewColumn(columnName, columnType, isNullable == "YES")
		column.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if defaultValue.Valid {
			def := mysqlDefaultExpression(defaultValue.String, extra, column.Type)
			column.Default = &def
		}
		if err := table.AddColumn(column); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating column rows: %w", err)
	}
	return nil
}

// mysqlDefaultExpression turns COLUMN_DEFAULT, which holds a bare literal,
// into an SQL expression
func mysqlDefaultExpression(value, extra string, logical LogicalType) string {
	upper := strings.ToUpper(value)
	switch {
	case strings.Contains(strings.ToUpper(extra), "DEFAULT_GENERATED"):
		return value
	case upper == "NULL", strings.HasPrefix(upper, "CURRENT_TIMESTAMP"):
		return value
	}
	switch logical {
	case TypeSmallInt, TypeInteger, TypeBigInt, TypeDecimal, TypeFloat, TypeBoolean:
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return value
		}
	}
	return dialect.MySQL.QuoteString(value)
}

func (e *MySQLExtractor) extractIndexes(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			INDEX_NAME,
			COLUMN_NAME,
			NON_UNIQUE,
			INDEX_TYPE,
			SEQ_IN_INDEX,
			SUB_PART,
			COLLATION
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query indexes for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var (
		order      []string
		byName     = make(map[string]*Index)
		functional = make(map[string]bool)
		primary    []string
	)
	for rows.Next() {
		var indexName, indexType string
		var columnName, collation sql.NullString
		var nonUnique, seqInIndex int
		var subPart sql.NullInt64

		if err := rows.Scan(&indexName, &columnName, &nonUnique, &indexType, &seqInIndex, &subPart, &collation); err != nil {
			return fmt.Errorf("failed to scan index data: %w", err)
		}

		if indexName == "PRIMARY" {
			primary = append(primary, columnName.String)
			continue
		}

		idx, exists := byName[indexName]
		if !exists {
			idx = &Index{Name: indexName, Table: table.Name, Type: IndexPlain}
			switch {
			case indexType == "FULLTEXT":
				idx.Type = IndexFullText
			case indexType == "SPATIAL":
				idx.Type = IndexSpatial
			case nonUnique == 0:
				idx.Type = IndexUnique
			}
			if indexType == "HASH" {
				idx.Method = indexType
			}
			byName[indexName] = idx
			order = append(order, indexName)
		}

		// functional key parts have no column name
		if !columnName.Valid {
			functional[indexName] = true
			continue
		}
		part := IndexColumn{Name: columnName.String}
		if subPart.Valid {
			part.Length = int(subPart.Int64)
		}
		if collation.String == "D" {
			part.Direction = "DESC"
		}
		idx.Columns = append(idx.Columns, part)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating index rows: %w", err)
	}

	if len(primary) > 0 {
		if err := table.SetPrimaryKey(primary...); err != nil {
			return err
		}
	}
	for _, name := range order {
		if functional[name] {
			// expression text is not exposed by STATISTICS on every server version
			continue
		}
		if err := table.AddIndex(byName[name]); err != nil {
			return err
		}
	}
	return nil
}

func (e *MySQLExtractor) extractForeignKeys(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			k.CONSTRAINT_NAME,
			k.COLUMN_NAME,
			k.REFERENCED_TABLE_NAME,
			k.REFERENCED_COLUMN_NAME,
			r.UPDATE_RULE,
			r.DELETE_RULE
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE k
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS r
			ON r.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA AND r.CONSTRAINT_NAME = k.CONSTRAINT_NAME
		WHERE k.TABLE_SCHEMA = ? AND k.TABLE_NAME = ? AND k.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY k.CONSTRAINT_NAME, k.ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	fks, err := scanForeignKeys(rows, table.Name)
	if err != nil {
		return err
	}
	for _, fk := range fks {
		if err := table.AddConstraint(fk); err != nil {
			return err
		}
	}
	return nil
}

// scanForeignKeys groups (name, column, ref table, ref column, update, delete)
// rows into constraints, preserving first-seen order
func scanForeignKeys(rows *sql.Rows, tableName string) ([]*Constraint, error) {
	var (
		out    []*Constraint
		byName = make(map[string]*Constraint)
	)
	for rows.Next() {
		var name, column, refTable, refColumn, onUpdate, onDelete string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onUpdate, &onDelete); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key data: %w", err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &Constraint{
				Name:            name,
				Table:           tableName,
				Kind:            ConstraintForeignKey,
				ReferencedTable: refTable,
				OnUpdate:        normalizeAction(onUpdate),
				OnDelete:        normalizeAction(onDelete),
			}
			byName[name] = fk
			out = append(out, fk)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign key rows: %w", err)
	}
	return out, nil
}

func normalizeAction(action string) string {
	action = strings.ToUpper(strings.TrimSpace(action))
	if action == "NO ACTION" {
		return ""
	}
	return action
}

// CurrentSchema retrieves the current schema name from the database connection
func (e *MySQLExtractor) CurrentSchema(ctx context.Context, db Queryer) (string, error) {
	if db == nil {
		return "", apperrors.New(apperrors.KindDatabaseConnection, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var schemaName sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schemaName); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to get current schema")
	}
	if schemaName.String == "" {
		return "", apperrors.New(apperrors.KindValidationFailed, "no schema selected", nil)
	}
	return schemaName.String, nil
}
