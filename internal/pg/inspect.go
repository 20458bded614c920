package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrEnvironmentUnsupported — не тот диалект или недоступна information_schema.
var ErrEnvironmentUnsupported = errors.New("environment unsupported: need PostgreSQL with information_schema")

// ObservedSchema — слепок живой базы в форме каталога.
type ObservedSchema struct {
	Tables map[string]*ObservedTable
}

type ObservedTable struct {
	Name        string
	Columns     map[string]ObservedColumn
	PrimaryKey  []string
	ForeignKeys []ObservedFK
	Indexes     []ObservedIndex
}

type ObservedColumn struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

type ObservedFK struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
}

type ObservedIndex struct {
	Name    string
	Columns []string
	Unique  bool
}

// HasFK — есть ли FK local → ref (по колонкам, имя констрейнта не важно).
func (t *ObservedTable) HasFK(column, refTable string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column && fk.RefTable == refTable {
			return true
		}
	}
	return false
}

// HasIndexOn — есть ли индекс, начинающийся с column.
func (t *ObservedTable) HasIndexOn(column string) bool {
	for _, ix := range t.Indexes {
		if len(ix.Columns) > 0 && ix.Columns[0] == column {
			return true
		}
	}
	return false
}

// CheckDialect убеждается, что на том конце PostgreSQL. Только чтение.
func CheckDialect(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, "select version()").Scan(&version); err != nil {
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	if !strings.Contains(version, "PostgreSQL") {
		return fmt.Errorf("%w: got %q", ErrEnvironmentUnsupported, version)
	}
	return nil
}

// Inspect читает information_schema и pg_indexes схемы public.
// Никаких блокировок кроме неявных от чтения метаданных.
func Inspect(ctx context.Context, db *sql.DB) (*ObservedSchema, error) {
	obs := &ObservedSchema{Tables: map[string]*ObservedTable{}}

	rows, err := db.QueryContext(ctx, `
		select table_name
		from information_schema.tables
		where table_schema = 'public' and table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		obs.Tables[name] = &ObservedTable{Name: name, Columns: map[string]ObservedColumn{}}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := inspectColumns(ctx, db, obs); err != nil {
		return nil, err
	}
	if err := inspectConstraints(ctx, db, obs); err != nil {
		return nil, err
	}
	if err := inspectIndexes(ctx, db, obs); err != nil {
		return nil, err
	}
	return obs, nil
}

func inspectColumns(ctx context.Context, db *sql.DB, obs *ObservedSchema) error {
	rows, err := db.QueryContext(ctx, `
		select table_name, column_name, data_type, is_nullable, coalesce(column_default, '')
		from information_schema.columns
		where table_schema = 'public'`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tbl, col, typ, nullable, def string
		if err := rows.Scan(&tbl, &col, &typ, &nullable, &def); err != nil {
			return err
		}
		t, ok := obs.Tables[tbl]
		if !ok {
			continue
		}
		t.Columns[col] = ObservedColumn{
			Name:     col,
			DataType: typ,
			Nullable: nullable == "YES",
			Default:  def,
		}
	}
	return rows.Err()
}

func inspectConstraints(ctx context.Context, db *sql.DB, obs *ObservedSchema) error {
	// PK и FK одним проходом; для FK целевая сторона — из constraint_column_usage
	rows, err := db.QueryContext(ctx, `
		select tc.table_name, tc.constraint_name, tc.constraint_type,
		       kcu.column_name,
		       coalesce(ccu.table_name, ''), coalesce(ccu.column_name, '')
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
		  on kcu.constraint_name = tc.constraint_name and kcu.constraint_schema = tc.constraint_schema
		left join information_schema.constraint_column_usage ccu
		  on ccu.constraint_name = tc.constraint_name and ccu.constraint_schema = tc.constraint_schema
		 and tc.constraint_type = 'FOREIGN KEY'
		where tc.table_schema = 'public'
		  and tc.constraint_type in ('PRIMARY KEY', 'FOREIGN KEY')
		order by tc.table_name, tc.constraint_name, kcu.ordinal_position`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tbl, cname, ctype, col, refTbl, refCol string
		if err := rows.Scan(&tbl, &cname, &ctype, &col, &refTbl, &refCol); err != nil {
			return err
		}
		t, ok := obs.Tables[tbl]
		if !ok {
			continue
		}
		switch ctype {
		case "PRIMARY KEY":
			t.PrimaryKey = append(t.PrimaryKey, col)
		case "FOREIGN KEY":
			t.ForeignKeys = append(t.ForeignKeys, ObservedFK{
				Name: cname, Column: col, RefTable: refTbl, RefColumn: refCol,
			})
		}
	}
	return rows.Err()
}

func inspectIndexes(ctx context.Context, db *sql.DB, obs *ObservedSchema) error {
	rows, err := db.QueryContext(ctx, `
		select tablename, indexname, indexdef
		from pg_indexes
		where schemaname = 'public'`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tbl, name, def string
		if err := rows.Scan(&tbl, &name, &def); err != nil {
			return err
		}
		t, ok := obs.Tables[tbl]
		if !ok {
			continue
		}
		t.Indexes = append(t.Indexes, ObservedIndex{
			Name:    name,
			Columns: indexColumnsFromDef(def),
			Unique:  strings.Contains(def, "UNIQUE INDEX"),
		})
	}
	return rows.Err()
}

// indexColumnsFromDef вытаскивает список колонок из indexdef pg_indexes:
// "CREATE INDEX foo ON public.bar USING btree (a, b)" → [a b].
func indexColumnsFromDef(def string) []string {
	open := strings.Index(def, "(")
	close := strings.LastIndex(def, ")")
	if open < 0 || close <= open {
		return nil
	}
	parts := strings.Split(def[open+1:close], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		// выражения в индексе ((col->>'x')) не разбираем — оставляем как есть
		p = strings.Trim(p, `"`)
		if i := strings.IndexByte(p, ' '); i > 0 {
			p = p[:i] // срезать ASC/DESC/NULLS
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
