package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sqlferry/internal/dialect"
	apperrors "sqlferry/internal/errors"
	"sqlferry/internal/parser"
)

var (
	createTableHead = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:(?:GLOBAL|LOCAL)\s+)?(?:TEMP\s+|TEMPORARY\s+|UNLOGGED\s+)?TABLE\b`)
	createIndexHead = regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+|FULLTEXT\s+|SPATIAL\s+)?INDEX\b`)
	alterTableHead  = regexp.MustCompile(`(?is)^ALTER\s+TABLE\b`)
	columnKeywords  = map[string]bool{
		"NOT": true, "NULL": true, "DEFAULT": true, "PRIMARY": true, "UNIQUE": true,
		"AUTO_INCREMENT": true, "AUTOINCREMENT": true, "REFERENCES": true, "CHECK": true,
		"COLLATE": true, "GENERATED": true, "COMMENT": true, "CONSTRAINT": true, "ON": true,
		"CHARSET": true, "AS": true, "VIRTUAL": true, "STORED": true, "INVISIBLE": true,
		"VISIBLE": true, "IDENTITY": true,
	}
	serialTypes = map[string]bool{"serial": true, "bigserial": true, "smallserial": true}
)

// BuildFromStatements builds a schema graph from the DDL in stmts. CREATE
// TABLE, CREATE INDEX and the ALTER TABLE forms emitted by dump tools are
// understood; every other statement is ignored.
func BuildFromStatements(stmts []parser.Statement, d dialect.Dialect) (*Schema, error) {
	b := &ddlBuilder{dialect: d, schema: NewSchema("", d)}
	for _, stmt := range stmts {
		if stmt.Kind != parser.KindDDL {
			continue
		}
		head := parser.Head(stmt.Text)
		var err error
		switch {
		case createTableHead.MatchString(head):
			err = b.createTable(head, stmt.Text)
		case createIndexHead.MatchString(head):
			err = b.createIndex(head)
		case alterTableHead.MatchString(head):
			err = b.alterTable(head)
		}
		if err != nil {
			return nil, apperrors.New(apperrors.KindValidationFailed,
				fmt.Sprintf("cannot build schema from statement at line %d: %v", stmt.Line, err), err).
				WithContext("line", stmt.Line).
				WithContext("dialect", string(d))
		}
	}
	return b.schema, nil
}

type ddlBuilder struct {
	dialect dialect.Dialect
	schema  *Schema
}

func (b *ddlBuilder) createTable(head, original string) error {
	toks := tokenize(head, b.dialect)
	i := 0
	for i < len(toks) && !toks[i].is("TABLE") {
		i++
	}
	i++
	if i+2 < len(toks) && toks[i].is("IF") && toks[i+1].is("NOT") && toks[i+2].is("EXISTS") {
		i += 3
	}
	name, i := qualifiedName(toks, i)
	if name == "" {
		return fmt.Errorf("CREATE TABLE without a table name")
	}
	if i >= len(toks) || toks[i].kind != tokGroup {
		// CREATE TABLE ... AS SELECT carries no column list
		return nil
	}

	table := NewTable(name)
	table.Original = strings.TrimSpace(original)
	var deferred []string
	for _, def := range splitTopLevel(toks[i].text, b.dialect) {
		dt := tokenize(def, b.dialect)
		if len(dt) == 0 {
			continue
		}
		if isTableElement(dt) {
			deferred = append(deferred, def)
			continue
		}
		if err := b.addColumnDef(table, dt); err != nil {
			return err
		}
	}
	for _, def := range deferred {
		if err := b.applyTableElement(table, tokenize(def, b.dialect)); err != nil {
			return err
		}
	}

	if existing := b.schema.Table(name); existing != nil {
		*existing = *table
		return nil
	}
	return b.schema.AddTable(table)
}

func isTableElement(dt []token) bool {
	if dt[0].kind != tokWord {
		return false
	}
	switch strings.ToUpper(dt[0].text) {
	case "CONSTRAINT", "PRIMARY", "FOREIGN", "CHECK", "FULLTEXT", "SPATIAL", "EXCLUDE":
		return true
	case "UNIQUE", "KEY", "INDEX":
		// a column may be named key: "key int(11)" has a numeric group
		if len(dt) < 2 {
			return false
		}
		if dt[1].kind == tokGroup || dt[1].is("KEY", "INDEX", "USING") {
			return true
		}
		if len(dt) > 2 && dt[1].isName() && dt[2].kind == tokGroup {
			return !isNumericList(dt[2].text)
		}
	}
	return false
}

func isNumericList(s string) bool {
	for _, part := range strings.Split(s, ",") {
		if _, err := strconv.Atoi(strings.TrimSpace(part)); err != nil {
			return false
		}
	}
	return true
}

func (b *ddlBuilder) addColumnDef(table *Table, dt []token) error {
	if !dt[0].isName() {
		return fmt.Errorf("unexpected token %q in column list of %s", dt[0].text, table.Name)
	}
	name := dt[0].name()
	i := 1
	var typeToks []token
	for i < len(dt) {
		t := dt[i]
		if t.kind == tokWord && columnKeywords[strings.ToUpper(t.text)] {
			break
		}
		if t.is("CHARACTER") && i+1 < len(dt) && dt[i+1].is("SET") {
			break
		}
		typeToks = append(typeToks, t)
		i++
	}
	rawType := renderTokens(typeToks, b.dialect)
	col := NewColumn(name, rawType, true)
	if serialTypes[BaseType(rawType)] {
		col.AutoIncrement = true
		col.Nullable = false
	}
	if err := table.AddColumn(col); err != nil {
		return err
	}

	constraintName := ""
	for i < len(dt) {
		t := dt[i]
		switch {
		case t.is("NOT") && i+1 < len(dt) && dt[i+1].is("NULL"):
			col.Nullable = false
			i += 2
		case t.is("NULL"):
			col.Nullable = true
			i++
		case t.is("DEFAULT"):
			j := i + 1
			if j < len(dt) && dt[j].is("NULL") {
				i = j + 1
				continue
			}
			for j < len(dt) && !(dt[j].kind == tokWord && columnKeywords[strings.ToUpper(dt[j].text)]) {
				j++
			}
			def := renderTokens(dt[i+1:j], b.dialect)
			col.Default = &def
			i = j
		case t.is("PRIMARY") && i+1 < len(dt) && dt[i+1].is("KEY"):
			i += 2
			if i < len(dt) && dt[i].is("ASC", "DESC") {
				i++
			}
			col.Nullable = false
			table.PrimaryKey = []string{col.Name}
		case t.is("AUTO_INCREMENT", "AUTOINCREMENT"):
			col.AutoIncrement = true
			i++
		case t.is("UNIQUE"):
			i++
			if i < len(dt) && dt[i].is("KEY") {
				i++
			}
			idxName := constraintName
			if idxName == "" {
				idxName = fmt.Sprintf("%s_%s_key", table.Name, col.Name)
			}
			if err := table.AddIndex(NewIndex(idxName, table.Name, IndexUnique, col.Name)); err != nil {
				return err
			}
			constraintName = ""
		case t.is("REFERENCES"):
			fk := &Constraint{Name: constraintName, Table: table.Name, Kind: ConstraintForeignKey, Columns: []string{col.Name}}
			if fk.Name == "" {
				fk.Name = fmt.Sprintf("%s_%s_fkey", table.Name, col.Name)
			}
			next, err := parseReferences(dt, i, fk)
			if err != nil {
				return err
			}
			if len(fk.ReferencedColumns) == 0 {
				fk.ReferencedColumns = []string{col.Name}
			}
			if err := table.AddConstraint(fk); err != nil {
				return err
			}
			i = next
			constraintName = ""
		case t.is("CHECK") && i+1 < len(dt) && dt[i+1].kind == tokGroup:
			cname := constraintName
			if cname == "" {
				cname = fmt.Sprintf("%s_%s_check", table.Name, col.Name)
			}
			table.Constraints = append(table.Constraints, &Constraint{
				Name: cname, Table: table.Name, Kind: ConstraintCheck,
				Columns: []string{col.Name}, CheckExpression: dt[i+1].text,
			})
			i += 2
			constraintName = ""
		case t.is("GENERATED"):
			j := i + 1
			for j < len(dt) && !dt[j].is("IDENTITY") && dt[j].kind != tokGroup {
				j++
			}
			if j < len(dt) && dt[j].is("IDENTITY") {
				col.AutoIncrement = true
				col.Nullable = false
			}
			i = j + 1
		case t.is("CONSTRAINT") && i+1 < len(dt):
			constraintName = dt[i+1].name()
			i += 2
		case t.is("COLLATE", "CHARSET", "COMMENT"):
			i += 2
		case t.is("CHARACTER"):
			i += 3
		case t.is("ON") && i+1 < len(dt) && dt[i+1].is("UPDATE"):
			i += 3
			if i < len(dt) && dt[i].kind == tokGroup {
				i++
			}
		default:
			i++
		}
	}
	return nil
}

func (b *ddlBuilder) applyTableElement(table *Table, dt []token) error {
	name := ""
	i := 0
	if dt[0].is("CONSTRAINT") {
		if len(dt) > 1 && dt[1].isName() && !dt[1].is("PRIMARY", "UNIQUE", "FOREIGN", "CHECK") {
			name = dt[1].name()
			i = 2
		} else {
			i = 1
		}
	}
	if i >= len(dt) {
		return fmt.Errorf("incomplete constraint on table %s", table.Name)
	}

	t := dt[i]
	switch {
	case t.is("PRIMARY"):
		group := firstGroup(dt[i:])
		cols, _ := parseIndexColumns(group, b.dialect)
		names := make([]string, len(cols))
		for n, c := range cols {
			names[n] = c.Name
			if col := table.Column(c.Name); col != nil {
				col.Nullable = false
			}
		}
		return table.SetPrimaryKey(names...)

	case t.is("FOREIGN"):
		fk := &Constraint{Name: name, Table: table.Name, Kind: ConstraintForeignKey}
		j := i + 2
		if j < len(dt) && dt[j].isName() && !dt[j].is("REFERENCES") {
			if fk.Name == "" {
				fk.Name = dt[j].name()
			}
			j++
		}
		if j >= len(dt) || dt[j].kind != tokGroup {
			return fmt.Errorf("FOREIGN KEY without a column list on table %s", table.Name)
		}
		fk.Columns = splitNames(dt[j].text, b.dialect)
		if fk.Name == "" {
			fk.Name = fmt.Sprintf("%s_%s_fkey", table.Name, strings.Join(fk.Columns, "_"))
		}
		if _, err := parseReferences(dt, j+1, fk); err != nil {
			return err
		}
		return table.AddConstraint(fk)

	case t.is("CHECK"):
		group := firstGroup(dt[i:])
		if name == "" {
			name = fmt.Sprintf("%s_check%d", table.Name, len(table.Constraints)+1)
		}
		table.Constraints = append(table.Constraints, &Constraint{
			Name: name, Table: table.Name, Kind: ConstraintCheck, CheckExpression: group,
		})
		return nil

	case t.is("EXCLUDE"):
		return nil
	}

	idx, err := parseInlineIndex(table.Name, name, dt[i:], b.dialect)
	if err != nil {
		return err
	}
	return table.AddIndex(idx)
}

// parseInlineIndex handles [UNIQUE|FULLTEXT|SPATIAL] [KEY|INDEX] [name] [USING m] (cols) [USING m]
func parseInlineIndex(table, name string, dt []token, d dialect.Dialect) (*Index, error) {
	idx := &Index{Name: name, Table: table, Type: IndexPlain}
	i := 0
	for i < len(dt) && dt[i].kind == tokWord {
		switch {
		case dt[i].is("UNIQUE"):
			idx.Type = IndexUnique
		case dt[i].is("FULLTEXT"):
			idx.Type = IndexFullText
		case dt[i].is("SPATIAL"):
			idx.Type = IndexSpatial
		case dt[i].is("KEY", "INDEX"):
		case dt[i].is("USING") && i+1 < len(dt):
			idx.Method = strings.ToUpper(dt[i+1].text)
			i++
		default:
			if idx.Name == "" {
				idx.Name = dt[i].name()
			}
		}
		i++
	}
	if i < len(dt) && dt[i].kind == tokIdent {
		if idx.Name == "" {
			idx.Name = dt[i].name()
		}
		i++
	}
	for i < len(dt) && dt[i].kind == tokWord && dt[i].is("USING") && i+1 < len(dt) {
		idx.Method = strings.ToUpper(dt[i+1].text)
		i += 2
	}
	if i >= len(dt) || dt[i].kind != tokGroup {
		return nil, fmt.Errorf("index on table %s has no column list", table)
	}
	cols, expr := parseIndexColumns(dt[i].text, d)
	idx.Columns, idx.Expression = cols, expr
	for j := i + 1; j+1 < len(dt); j++ {
		if dt[j].is("USING") {
			idx.Method = strings.ToUpper(dt[j+1].text)
		}
	}
	if idx.Name == "" {
		idx.Name = fmt.Sprintf("%s_%s_%s", table, strings.Join(idx.ColumnNames(), "_"), indexSuffix(idx.Type))
	}
	return idx, nil
}

func indexSuffix(t IndexType) string {
	if t == IndexUnique {
		return "key"
	}
	return "idx"
}

func (b *ddlBuilder) createIndex(head string) error {
	toks := tokenize(head, b.dialect)
	idx := &Index{Type: IndexPlain}
	i := 1
	for i < len(toks) && toks[i].kind == tokWord && !toks[i].is("INDEX") {
		switch {
		case toks[i].is("UNIQUE"):
			idx.Type = IndexUnique
		case toks[i].is("FULLTEXT"):
			idx.Type = IndexFullText
		case toks[i].is("SPATIAL"):
			idx.Type = IndexSpatial
		}
		i++
	}
	i++
	for i < len(toks) && toks[i].is("CONCURRENTLY") {
		i++
	}
	if i+2 < len(toks) && toks[i].is("IF") && toks[i+1].is("NOT") && toks[i+2].is("EXISTS") {
		i += 3
	}
	if i < len(toks) && !toks[i].is("ON", "USING") {
		idx.Name, i = qualifiedName(toks, i)
	}
	for i < len(toks) && !toks[i].is("ON") {
		if toks[i].is("USING") && i+1 < len(toks) {
			idx.Method = strings.ToUpper(toks[i+1].text)
			i++
		}
		i++
	}
	i++
	if i < len(toks) && toks[i].is("ONLY") {
		i++
	}
	idx.Table, i = qualifiedName(toks, i)
	if idx.Table == "" {
		return fmt.Errorf("CREATE INDEX without a table")
	}
	for i < len(toks) && toks[i].kind != tokGroup {
		if toks[i].is("USING") && i+1 < len(toks) {
			idx.Method = strings.ToUpper(toks[i+1].text)
			i++
		}
		i++
	}
	if i >= len(toks) {
		return fmt.Errorf("CREATE INDEX on %s has no column list", idx.Table)
	}
	idx.Columns, idx.Expression = parseIndexColumns(toks[i].text, b.dialect)
	i++
	for i < len(toks) {
		switch {
		case toks[i].is("USING") && i+1 < len(toks):
			idx.Method = strings.ToUpper(toks[i+1].text)
			i += 2
		case toks[i].is("WHERE"):
			idx.Where = renderTokens(toks[i+1:], b.dialect)
			i = len(toks)
		default:
			i++
		}
	}
	if idx.Name == "" {
		idx.Name = fmt.Sprintf("%s_%s_%s", idx.Table, strings.Join(idx.ColumnNames(), "_"), indexSuffix(idx.Type))
	}

	table := b.schema.Table(idx.Table)
	if table == nil {
		return fmt.Errorf("index %s references unknown table %s", idx.Name, idx.Table)
	}
	idx.Table = table.Name
	return table.AddIndex(idx)
}

func (b *ddlBuilder) alterTable(head string) error {
	toks := tokenize(head, b.dialect)
	i := 2
	for i < len(toks) && toks[i].is("ONLY", "IF", "EXISTS") {
		i++
	}
	name, i := qualifiedName(toks, i)
	table := b.schema.Table(name)
	if table == nil || i >= len(toks) {
		return nil
	}

	rest := renderTokens(toks[i:], b.dialect)
	for _, action := range splitTopLevel(rest, b.dialect) {
		at := tokenize(action, b.dialect)
		if len(at) == 0 {
			continue
		}
		switch {
		case at[0].is("ADD") && len(at) > 1 && at[1].is("COLUMN"):
			if err := b.addColumnDef(table, at[2:]); err != nil {
				return err
			}
		case at[0].is("ADD") && len(at) > 1 && at[1].is("CONSTRAINT", "PRIMARY", "FOREIGN", "UNIQUE", "KEY", "INDEX", "FULLTEXT", "SPATIAL", "CHECK"):
			if err := b.applyTableElement(table, at[1:]); err != nil {
				return err
			}
		case at[0].is("ALTER") && len(at) > 2:
			j := 1
			if at[j].is("COLUMN") {
				j++
			}
			col := table.Column(at[j].name())
			if col == nil {
				continue
			}
			sub := at[j+1:]
			switch {
			case len(sub) > 2 && sub[0].is("SET") && sub[1].is("DEFAULT"):
				def := renderTokens(sub[2:], b.dialect)
				if nextvalCall.MatchString(def) {
					col.AutoIncrement = true
					col.Default = nil
				} else {
					col.Default = &def
				}
			case len(sub) > 1 && sub[0].is("ADD") && sub[1].is("GENERATED"):
				col.AutoIncrement = true
			case len(sub) > 2 && sub[0].is("SET") && sub[1].is("NOT") && sub[2].is("NULL"):
				col.Nullable = false
			}
		case at[0].is("MODIFY") || at[0].is("CHANGE"):
			// mysqldump emits MODIFY ... AUTO_INCREMENT after the table body
			j := 1
			if j < len(at) && at[j].is("COLUMN") {
				j++
			}
			if at[0].is("CHANGE") {
				j++
			}
			if j < len(at) {
				if col := table.Column(at[j].name()); col != nil {
					for _, t := range at[j:] {
						if t.is("AUTO_INCREMENT") {
							col.AutoIncrement = true
						}
					}
				}
			}
		}
	}
	return nil
}

// parseReferences reads REFERENCES t [(cols)] [ON DELETE x] [ON UPDATE y]
// starting at dt[i] and returns the index after it
func parseReferences(dt []token, i int, fk *Constraint) (int, error) {
	for i < len(dt) && !dt[i].is("REFERENCES") {
		i++
	}
	i++
	ref, i := qualifiedName(dt, i)
	if ref == "" {
		return i, fmt.Errorf("REFERENCES without a table")
	}
	fk.ReferencedTable = ref
	if i < len(dt) && dt[i].kind == tokGroup {
		fk.ReferencedColumns = splitNames(dt[i].text, dialect.Postgres)
		i++
	}
	for i < len(dt) {
		switch {
		case dt[i].is("ON") && i+1 < len(dt) && dt[i+1].is("DELETE", "UPDATE"):
			action, next := referentialAction(dt, i+2)
			if dt[i+1].is("DELETE") {
				fk.OnDelete = action
			} else {
				fk.OnUpdate = action
			}
			i = next
		case dt[i].is("MATCH", "DEFERRABLE", "INITIALLY", "DEFERRED", "IMMEDIATE", "NOT", "FULL", "SIMPLE", "PARTIAL"):
			i++
		default:
			return i, nil
		}
	}
	return i, nil
}

func referentialAction(dt []token, i int) (string, int) {
	if i >= len(dt) {
		return "", i
	}
	if dt[i].is("SET", "NO") && i+1 < len(dt) {
		return strings.ToUpper(dt[i].text + " " + dt[i+1].text), i + 2
	}
	return strings.ToUpper(dt[i].text), i + 1
}

// parseIndexColumns parses a key part list. A list containing anything but
// plain column references becomes an expression.
func parseIndexColumns(list string, d dialect.Dialect) ([]IndexColumn, string) {
	var cols []IndexColumn
	for _, part := range splitTopLevel(list, d) {
		pt := tokenize(part, d)
		if len(pt) == 0 {
			continue
		}
		if !pt[0].isName() {
			return nil, list
		}
		col := IndexColumn{Name: pt[0].name()}
		j := 1
		if j < len(pt) && pt[j].kind == tokGroup {
			n, err := strconv.Atoi(pt[j].text)
			if err != nil {
				return nil, list
			}
			col.Length = n
			j++
		}
		for ; j < len(pt); j++ {
			switch {
			case pt[j].is("ASC", "DESC"):
				col.Direction = strings.ToUpper(pt[j].text)
			case pt[j].is("COLLATE", "NULLS", "FIRST", "LAST") || pt[j].kind == tokIdent:
			case pt[j].kind == tokWord && j == len(pt)-1 && strings.HasSuffix(strings.ToLower(pt[j].text), "_ops"):
			default:
				return nil, list
			}
		}
		cols = append(cols, col)
	}
	return cols, ""
}

func splitNames(list string, d dialect.Dialect) []string {
	var names []string
	for _, part := range splitTopLevel(list, d) {
		if pt := tokenize(part, d); len(pt) > 0 {
			names = append(names, pt[0].name())
		}
	}
	return names
}

func firstGroup(dt []token) string {
	for _, t := range dt {
		if t.kind == tokGroup {
			return t.text
		}
	}
	return ""
}
