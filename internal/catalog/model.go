package catalog

// Tenancy — класс владения таблицы.
type Tenancy string

const (
	// TenancyGlobal — общие данные без владельца (usuario, migration_history).
	TenancyGlobal Tenancy = "global"
	// TenancyTenant — каждая строка принадлежит ровно одному арендатору через admin_id.
	TenancyTenant Tenancy = "tenant"
	// TenancyCatalog — глобальный справочник, читается всеми, пишется никем.
	TenancyCatalog Tenancy = "catalog"
)

// AdminColumn — колонка владения; одна на всю систему.
const AdminColumn = "admin_id"

// TenantTable — таблица арендаторов; admin_id всегда ссылается сюда.
const TenantTable = "usuario"

// ColumnType — семантический тип колонки, маппится на SQL в internal/pg.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
	TypeDecimal   ColumnType = "decimal"
	TypeBoolean   ColumnType = "boolean"
	TypeDate      ColumnType = "date"
	TypeTime      ColumnType = "time"
	TypeJSON      ColumnType = "json"
)

// TableSpec описывает целевое состояние одной таблицы.
type TableSpec struct {
	Name        string           `yaml:"name"`
	Tenancy     Tenancy          `yaml:"tenancy"`
	Columns     []ColumnSpec     `yaml:"columns"`
	PrimaryKey  []string         `yaml:"primary_key"`
	ForeignKeys []ForeignKeySpec `yaml:"foreign_keys"`
	Indexes     []IndexSpec      `yaml:"indexes"`
	Backfill    *BackfillSpec    `yaml:"backfill"`
	// DropColumns — явный список наблюдаемых колонок, которые можно удалить.
	// Никаких неявных drop'ов: колонка вне каталога и вне списка остаётся как есть.
	DropColumns []string `yaml:"drop_columns"`
}

// Column возвращает спеку колонки по имени (ok=false если нет).
func (t *TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// HasAdminColumn — объявлена ли колонка владения.
func (t *TableSpec) HasAdminColumn() bool {
	_, ok := t.Column(AdminColumn)
	return ok
}

// ColumnSpec — одна колонка целевой схемы.
type ColumnSpec struct {
	Name     string     `yaml:"name"`
	Type     ColumnType `yaml:"type"`
	Nullable bool       `yaml:"nullable"`
	Default  string     `yaml:"default"`
	// Length — для text с ограничением (varchar(n)); 0 = без ограничения.
	Length int `yaml:"length"`
}

// ForeignKeySpec — внешний ключ local → ref_table(ref_column).
type ForeignKeySpec struct {
	Column    string `yaml:"column"`
	RefTable  string `yaml:"ref_table"`
	RefColumn string `yaml:"ref_column"`
	OnDelete  string `yaml:"on_delete"` // restrict (default) | cascade | set_null
}

// IndexSpec — индекс по списку колонок.
type IndexSpec struct {
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// BackfillSpec — как заполнить admin_id у исторических строк.
// Вариант ровно один: либо via_join, либо default_tenant, либо reject_if_null.
// default_tenant дополнительно может работать как fallback после via_join.
type BackfillSpec struct {
	// ViaJoin — путь по FK до таблицы с уже заполненным admin_id.
	ViaJoin []JoinHop `yaml:"via_join"`
	// DefaultTenant — добивать оставшиеся NULL значением MIGRATION_DEFAULT_TENANT_ID.
	DefaultTenant bool `yaml:"default_tenant"`
	// RejectIfNull — таблица обязана не иметь строк без владельца.
	RejectIfNull bool `yaml:"reject_if_null"`
}

// JoinHop — один переход пути: наша fk-колонка → ref_table(ref_column).
type JoinHop struct {
	FKColumn  string `yaml:"fk_column"`
	RefTable  string `yaml:"ref_table"`
	RefColumn string `yaml:"ref_column"` // пусто = "id"
}

// Kind — человекочитаемое имя варианта стратегии (для логов и плана).
func (b *BackfillSpec) Kind() string {
	switch {
	case b == nil:
		return "none"
	case len(b.ViaJoin) > 0 && b.DefaultTenant:
		return "via-join+default-tenant"
	case len(b.ViaJoin) > 0:
		return "via-join"
	case b.DefaultTenant:
		return "default-tenant"
	case b.RejectIfNull:
		return "reject-if-null"
	default:
		return "none"
	}
}
