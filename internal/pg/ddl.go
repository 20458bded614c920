package pg

import (
	"fmt"
	"strings"

	"sige/internal/catalog"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// Ident — единый квотинг идентификаторов для всего SQL системы.
func Ident(s string) string { return `"` + strings.ToLower(s) + `"` }

// MapType — семантический тип каталога → тип Postgres.
func MapType(c catalog.ColumnSpec) (string, error) {
	switch c.Type {
	case catalog.TypeInteger:
		return "integer", nil
	case catalog.TypeText:
		if c.Length > 0 {
			return fmt.Sprintf("varchar(%d)", c.Length), nil
		}
		return "text", nil
	case catalog.TypeTimestamp:
		return "timestamp with time zone", nil
	case catalog.TypeDecimal:
		return "numeric(18,2)", nil
	case catalog.TypeBoolean:
		return "boolean", nil
	case catalog.TypeDate:
		return "date", nil
	case catalog.TypeTime:
		return "time", nil
	case catalog.TypeJSON:
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", c.Type)
	}
}

func columnDDL(t *catalog.TableSpec, c catalog.ColumnSpec) (string, error) {
	typ, err := MapType(c)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
	}
	// одиночный integer-PK получает identity, чтобы вставки работали без сиквенса
	if len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name && c.Type == catalog.TypeInteger {
		typ += " generated by default as identity"
	}
	null := " not null"
	if c.Nullable {
		null = " null"
	}
	def := ""
	if strings.TrimSpace(c.Default) != "" {
		def = " default " + c.Default
	}
	return fmt.Sprintf("%s %s%s%s", Ident(c.Name), typ, null, def), nil
}

// CreateTableSQL — полный CREATE TABLE IF NOT EXISTS по спеке.
// FK и индексы сюда не входят: они идут отдельными шагами по правилам порядка.
func CreateTableSQL(t *catalog.TableSpec) (string, error) {
	if isReserved(t.Name) {
		return "", fmt.Errorf("%s: table name is a reserved word", t.Name)
	}
	cols := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		dd, err := columnDDL(t, c)
		if err != nil {
			return "", err
		}
		cols = append(cols, dd)
	}
	pk := make([]string, 0, len(t.PrimaryKey))
	for _, p := range t.PrimaryKey {
		pk = append(pk, Ident(p))
	}
	cols = append(cols, fmt.Sprintf("primary key (%s)", strings.Join(pk, ", ")))
	return fmt.Sprintf("create table if not exists %s (\n  %s\n)", Ident(t.Name), strings.Join(cols, ",\n  ")), nil
}

// AddColumnSQL добавляет колонку всегда как nullable; ужесточение до NOT NULL —
// отдельный шаг после backfill'а.
func AddColumnSQL(table string, c catalog.ColumnSpec) (string, error) {
	typ, err := MapType(c)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", table, c.Name, err)
	}
	def := ""
	if strings.TrimSpace(c.Default) != "" {
		def = " default " + c.Default
	}
	return fmt.Sprintf("alter table %s add column if not exists %s %s%s", Ident(table), Ident(c.Name), typ, def), nil
}

func TightenNotNullSQL(table, column string) string {
	return fmt.Sprintf("alter table %s alter column %s set not null", Ident(table), Ident(column))
}

// FKName — стабильное имя констрейнта, как в legacy-базах: fk_<table>_<column>.
func FKName(table string, fk catalog.ForeignKeySpec) string {
	return strings.ToLower("fk_" + table + "_" + fk.Column)
}

func onDeleteSQL(p string) string {
	switch strings.ToLower(p) {
	case "cascade":
		return "CASCADE"
	case "set_null":
		return "SET NULL"
	default:
		return "RESTRICT"
	}
}

func AddForeignKeySQL(table string, fk catalog.ForeignKeySpec) string {
	refCol := fk.RefColumn
	if refCol == "" {
		refCol = "id"
	}
	return fmt.Sprintf("alter table %s add constraint %s foreign key (%s) references %s(%s) on delete %s",
		Ident(table), FKName(table, fk), Ident(fk.Column),
		Ident(fk.RefTable), Ident(refCol), onDeleteSQL(fk.OnDelete))
}

// IndexName: idx_<table>_<col1>_<col2>; уникальные — uq_.
func IndexName(table string, ix catalog.IndexSpec) string {
	prefix := "idx"
	if ix.Unique {
		prefix = "uq"
	}
	return strings.ToLower(prefix + "_" + table + "_" + strings.Join(ix.Columns, "_"))
}

func AddIndexSQL(table string, ix catalog.IndexSpec) string {
	uniq := ""
	if ix.Unique {
		uniq = "unique "
	}
	parts := make([]string, 0, len(ix.Columns))
	for _, c := range ix.Columns {
		parts = append(parts, Ident(c))
	}
	return fmt.Sprintf("create %sindex if not exists %s on %s(%s)",
		uniq, Ident(IndexName(table, ix)), Ident(table), strings.Join(parts, ", "))
}

func DropColumnSQL(table, column string) string {
	return fmt.Sprintf("alter table %s drop column if exists %s", Ident(table), Ident(column))
}
