package storage

import (
	"fmt"
	"strings"
)

// DDLDialect describes how a backend renders a TableSpec.
type DDLDialect struct {
	// Ident quotes a single identifier.
	Ident func(name string) string

	// Types maps logical column types to SQL types.
	Types map[ColumnType]string

	// SerialPK renders the surrogate primary key column definition for table.
	SerialPK func(table, column string) string

	// Preamble returns statements that must run before the CREATE TABLE (for
	// example a sequence backing the surrogate key). Optional.
	Preamble func(table, column string) []string

	// OnDelete is false for engines without referential actions; the clause is
	// dropped and the foreign key is kept.
	OnDelete bool

	// Wrap turns the column list into an idempotent CREATE statement. Optional;
	// the default is CREATE TABLE IF NOT EXISTS.
	Wrap func(table, body string) string
}

// BuildCreateTable renders the statements needed to create t if missing.
//
// Nullable semantics:
//   - nullable == nil  => NOT NULL
//   - nullable == true => NULL (no clause)
func BuildCreateTable(t TableSpec, d DDLDialect) ([]string, error) {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return nil, fmt.Errorf("table name is empty")
	}

	var stmts []string
	cols := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)

	if pk := t.PrimaryKey; pk != nil {
		pkName := strings.TrimSpace(pk.Name)
		if pkName == "" {
			return nil, fmt.Errorf("table %s: primary_key.name is required", name)
		}
		if pk.Serial() {
			if d.SerialPK == nil {
				return nil, fmt.Errorf("table %s: dialect has no surrogate key support", name)
			}
			if d.Preamble != nil {
				stmts = append(stmts, d.Preamble(name, pkName)...)
			}
			cols = append(cols, d.SerialPK(name, pkName))
		} else {
			typ, ok := d.Types[pk.Type]
			if !ok {
				return nil, fmt.Errorf("table %s: unsupported primary key type %q", name, pk.Type)
			}
			cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", d.Ident(pkName), typ))
		}
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c, d)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		cols = append(cols, def)
	}

	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", name)
			}
			quoted := make([]string, len(c.Columns))
			for i, col := range c.Columns {
				quoted[i] = d.Ident(strings.TrimSpace(col))
			}
			cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", name, c.Kind)
		}
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s: no columns", name)
	}

	body := strings.Join(cols, ", ")
	if d.Wrap != nil {
		stmts = append(stmts, d.Wrap(name, body))
	} else {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Ident(name), body))
	}
	return stmts, nil
}

func buildColumnDef(c ColumnSpec, d DDLDialect) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, ok := d.Types[c.Type]
	if !ok {
		return "", fmt.Errorf("column %s: unsupported type %q", name, c.Type)
	}

	var b strings.Builder
	b.WriteString(d.Ident(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}

	if ref := strings.TrimSpace(c.References); ref != "" {
		refTable, refCol, err := splitReference(ref)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", name, err)
		}
		fmt.Fprintf(&b, " REFERENCES %s(%s)", d.Ident(refTable), d.Ident(refCol))
		if od := strings.TrimSpace(c.OnDelete); od != "" && d.OnDelete {
			b.WriteString(" ON DELETE ")
			b.WriteString(strings.ToUpper(od))
		}
	}
	return b.String(), nil
}

// splitReference parses "table(column)".
func splitReference(ref string) (table, column string, err error) {
	open := strings.IndexByte(ref, '(')
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return "", "", fmt.Errorf("invalid reference %q (want table(column))", ref)
	}
	table = strings.TrimSpace(ref[:open])
	column = strings.TrimSpace(ref[open+1 : len(ref)-1])
	if table == "" || column == "" {
		return "", "", fmt.Errorf("invalid reference %q (want table(column))", ref)
	}
	return table, column, nil
}

// QuoteDouble quotes an identifier ANSI style, doubling embedded quotes.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
