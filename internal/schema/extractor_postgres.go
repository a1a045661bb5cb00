package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
)

// PostgresExtractor reads information_schema and pg_catalog
type PostgresExtractor struct {
	queryTimeout time.Duration
}

// Extract extracts the complete schema from a PostgreSQL schema (namespace)
func (e *PostgresExtractor) Extract(ctx context.Context, db Queryer, schemaName string) (*Schema, error) {
	if err := checkExtractArgs(db, schemaName); err != nil {
		return nil, err
	}

	schema := NewSchema(schemaName, dialect.Postgres)

	names, err := e.queryStrings(ctx, db, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, schemaName)
	if err != nil {
		return nil, extractionError(err, dialect.Postgres, schemaName, "tables")
	}

	for _, name := range names {
		table := NewTable(name)
		steps := []struct {
			what string
			fn   func(context.Context, Queryer, string, *Table) error
		}{
			{"columns", e.extractColumns},
			{"primary key", e.extractPrimaryKey},
			{"indexes", e.extractIndexes},
			{"foreign keys", e.extractForeignKeys},
			{"check constraints", e.extractChecks},
		}
		for _, step := range steps {
			if err := step.fn(ctx, db, schemaName, table); err != nil {
				return nil, extractionError(err, dialect.Postgres, schemaName, step.what+" of "+name)
			}
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

func (e *PostgresExtractor) queryStrings(ctx context.Context, db Queryer, query string, args ...any) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (e *PostgresExtractor) extractColumns(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			column_name,
			data_type,
			udt_name,
			is_nullable,
			column_default,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_identity
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query columns for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var enumColumns []*Column
	for rows.Next() {
		var name, dataType, udtName, isNullable, isIdentity string
		var defaultValue sql.NullString
		var maxLength, precision, scale sql.NullInt64

		if err := rows.Scan(&name, &dataType, &udtName, &isNullable, &defaultValue,
			&maxLength, &precision, &scale, &isIdentity); err != nil {
			return fmt.Errorf("failed to scan column data: %w", err)
		}

		column := NewColumn(name, postgresRawType(dataType, udtName, maxLength, precision, scale), isNullable == "YES")
		switch {
		case isIdentity == "YES":
			column.AutoIncrement = true
		case defaultValue.Valid && nextvalCall.MatchString(defaultValue.String):
			column.AutoIncrement = true
		case defaultValue.Valid:
			def := defaultValue.String
			column.Default = &def
		}
		if dataType == "USER-DEFINED" {
			enumColumns = append(enumColumns, column)
		}
		if err := table.AddColumn(column); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating column rows: %w", err)
	}
	rows.Close()

	for _, column := range enumColumns {
		labels, err := e.queryStrings(ctx, db, `
			SELECT e.enumlabel
			FROM pg_type t
			JOIN pg_enum e ON t.oid = e.enumtypid
			JOIN pg_namespace n ON n.oid = t.typnamespace
			WHERE n.nspname = $1 AND t.typname = $2
			ORDER BY e.enumsortorder
		`, schemaName, column.RawType)
		if err != nil {
			return fmt.Errorf("failed to query enum labels for %s: %w", column.RawType, err)
		}
		if len(labels) > 0 {
			column.Type = TypeEnum
			column.EnumValues = labels
		}
	}
	return nil
}

// postgresRawType rebuilds a declared type from information_schema columns
func postgresRawType(dataType, udtName string, maxLength, precision, scale sql.NullInt64) string {
	switch dataType {
	case "character varying", "character":
		if maxLength.Valid {
			return fmt.Sprintf("%s(%d)", dataType, maxLength.Int64)
		}
	case "numeric":
		if precision.Valid && scale.Valid {
			return fmt.Sprintf("numeric(%d,%d)", precision.Int64, scale.Int64)
		}
	case "USER-DEFINED":
		return udtName
	case "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	}
	return dataType
}

func (e *PostgresExtractor) extractPrimaryKey(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	columns, err := e.queryStrings(ctx, db, `
		SELECT a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY k.ord
	`, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query primary key for table %s: %w", table.Name, err)
	}
	if len(columns) == 0 {
		return nil
	}
	return table.SetPrimaryKey(columns...)
}

func (e *PostgresExtractor) extractIndexes(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			i.relname,
			ix.indisunique,
			am.amname,
			COALESCE(pg_get_expr(ix.indpred, ix.indrelid), ''),
			pg_get_indexdef(ix.indexrelid, k.n, true),
			ix.indkey[k.n - 1] = 0,
			(ix.indoption[k.n - 1] & 1) = 1
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		CROSS JOIN LATERAL generate_series(1, ix.indnkeyatts) AS k(n)
		WHERE NOT ix.indisprimary AND n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname, k.n
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query indexes for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var (
		order       []string
		byName      = make(map[string]*Index)
		expressions = make(map[string][]string)
		hasExpr     = make(map[string]bool)
	)
	for rows.Next() {
		var name, method, predicate, keyDef string
		var unique, isExpr, desc bool
		if err := rows.Scan(&name, &unique, &method, &predicate, &keyDef, &isExpr, &desc); err != nil {
			return fmt.Errorf("failed to scan index data: %w", err)
		}

		idx, ok := byName[name]
		if !ok {
			idx = &Index{Name: name, Table: table.Name, Type: IndexPlain, Where: predicate}
			if unique {
				idx.Type = IndexUnique
			}
			if method != "btree" {
				idx.Method = strings.ToUpper(method)
			}
			byName[name] = idx
			order = append(order, name)
		}

		part := keyDef
		if desc {
			part += " DESC"
		}
		expressions[name] = append(expressions[name], part)
		if isExpr {
			hasExpr[name] = true
			continue
		}
		col := IndexColumn{Name: strings.Trim(keyDef, `"`)}
		if desc {
			col.Direction = "DESC"
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating index rows: %w", err)
	}

	for _, name := range order {
		idx := byName[name]
		if hasExpr[name] {
			idx.Columns = nil
			idx.Expression = strings.Join(expressions[name], ", ")
		}
		if err := table.AddIndex(idx); err != nil {
			return err
		}
	}
	return nil
}

func (e *PostgresExtractor) extractForeignKeys(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT
			c.conname,
			a.attname,
			rt.relname,
			ra.attname,
			c.confupdtype::text,
			c.confdeltype::text
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class rt ON rt.oid = c.confrelid
		CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute ra ON ra.attrelid = c.confrelid AND ra.attnum = k.refattnum
		WHERE c.contype = 'f' AND n.nspname = $1 AND t.relname = $2
		ORDER BY c.conname, k.ord
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
		fk.OnUpdate = postgresAction(fk.OnUpdate)
		fk.OnDelete = postgresAction(fk.OnDelete)
		if err := table.AddConstraint(fk); err != nil {
			return err
		}
	}
	return nil
}

// postgresAction decodes pg_constraint.confupdtype / confdeltype
func postgresAction(code string) string {
	switch strings.ToLower(code) {
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	case "r":
		return "RESTRICT"
	}
	return ""
}

func (e *PostgresExtractor) extractChecks(ctx context.Context, db Queryer, schemaName string, table *Table) error {
	query := `
		SELECT c.conname, pg_get_constraintdef(c.oid, true)
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE c.contype = 'c' AND n.nspname = $1 AND t.relname = $2
		ORDER BY c.conname
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, table.Name)
	if err != nil {
		return fmt.Errorf("failed to query check constraints for table %s: %w", table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return fmt.Errorf("failed to scan check constraint: %w", err)
		}
		expr := strings.TrimSpace(strings.TrimPrefix(def, "CHECK"))
		if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
			expr = expr[1 : len(expr)-1]
		}
		table.Constraints = append(table.Constraints, &Constraint{
			Name: name, Table: table.Name, Kind: ConstraintCheck, CheckExpression: expr,
		})
	}
	return rows.Err()
}

// CurrentSchema returns current_schema() of the connection
func (e *PostgresExtractor) CurrentSchema(ctx context.Context, db Queryer) (string, error) {
	if db == nil {
		return "", apperrors.New(apperrors.KindDatabaseConnection, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var schemaName sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT current_schema()").Scan(&schemaName); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindDatabaseConnection, "failed to get current schema")
	}
	if schemaName.String == "" {
		return "", apperrors.New(apperrors.KindValidationFailed, "no schema on search_path", nil)
	}
	return schemaName.String, nil
}
