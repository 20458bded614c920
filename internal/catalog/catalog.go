package catalog

import (
	"fmt"
	"strings"
)

// Catalog — единственный источник правды о целевой схеме.
// После Load() только читается; никакого мутабельного состояния.
type Catalog struct {
	specs  []TableSpec
	byName map[string]*TableSpec
}

// Tables возвращает таблицы в порядке объявления.
func (c *Catalog) Tables() []TableSpec { return c.specs }

// Find ищет таблицу по имени.
func (c *Catalog) Find(name string) (*TableSpec, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// TenantTables — только tenant-owned, в порядке объявления.
func (c *Catalog) TenantTables() []TableSpec {
	var out []TableSpec
	for _, t := range c.specs {
		if t.Tenancy == TenancyTenant {
			out = append(out, t)
		}
	}
	return out
}

var validTypes = map[ColumnType]struct{}{
	TypeInteger: {}, TypeText: {}, TypeTimestamp: {}, TypeDecimal: {},
	TypeBoolean: {}, TypeDate: {}, TypeTime: {}, TypeJSON: {},
}

// validate — все инварианты каталога, падаем на первом нарушении.
// Вызывается на старте процесса, до любого обращения к базе.
func (c *Catalog) validate() error {
	for i := range c.specs {
		if err := c.validateTable(&c.specs[i]); err != nil {
			return err
		}
	}
	return c.checkFKCycles()
}

func (c *Catalog) validateTable(t *TableSpec) error {
	switch t.Tenancy {
	case TenancyGlobal, TenancyTenant, TenancyCatalog:
	default:
		return fmt.Errorf("%s: unknown tenancy class %q", t.Name, t.Tenancy)
	}
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("%s: primary key is required", t.Name)
	}

	cols := map[string]*ColumnSpec{}
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Name == "" {
			return fmt.Errorf("%s: column without a name", t.Name)
		}
		if _, dup := cols[col.Name]; dup {
			return fmt.Errorf("%s: duplicate column %q", t.Name, col.Name)
		}
		if _, ok := validTypes[col.Type]; !ok {
			return fmt.Errorf("%s.%s: unknown type %q", t.Name, col.Name, col.Type)
		}
		cols[col.Name] = col
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := cols[pk]; !ok {
			return fmt.Errorf("%s: primary key column %q is not declared", t.Name, pk)
		}
	}

	// tenancy ↔ admin_id
	adm, hasAdm := cols[AdminColumn]
	switch t.Tenancy {
	case TenancyTenant:
		if !hasAdm {
			return fmt.Errorf("%s: tenant-owned table must declare %s", t.Name, AdminColumn)
		}
		if adm.Type != TypeInteger || adm.Nullable {
			return fmt.Errorf("%s: %s must be a non-nullable integer", t.Name, AdminColumn)
		}
		if t.Backfill == nil || t.Backfill.Kind() == "none" {
			return fmt.Errorf("%s: tenant-owned table must declare a backfill strategy", t.Name)
		}
		if !c.hasAdminFK(t) {
			return fmt.Errorf("%s: %s must have a foreign key to %s(id)", t.Name, AdminColumn, TenantTable)
		}
		if !hasAdminIndex(t) {
			return fmt.Errorf("%s: index on %s is mandatory for tenant-owned tables", t.Name, AdminColumn)
		}
	default:
		if hasAdm {
			return fmt.Errorf("%s: %s table must not declare %s", t.Name, t.Tenancy, AdminColumn)
		}
		if t.Backfill != nil {
			return fmt.Errorf("%s: backfill strategy on a %s table makes no sense", t.Name, t.Tenancy)
		}
	}

	// внешние ключи: локальная колонка объявлена, целевая таблица есть в каталоге
	for _, fk := range t.ForeignKeys {
		if _, ok := cols[fk.Column]; !ok {
			return fmt.Errorf("%s: fk column %q is not declared", t.Name, fk.Column)
		}
		ref, ok := c.byName[fk.RefTable]
		if !ok {
			return fmt.Errorf("%s.%s: fk references unknown table %q", t.Name, fk.Column, fk.RefTable)
		}
		refCol := fk.RefColumn
		if refCol == "" {
			refCol = "id"
		}
		if _, ok := ref.Column(refCol); !ok {
			return fmt.Errorf("%s.%s: fk references unknown column %s.%s", t.Name, fk.Column, fk.RefTable, refCol)
		}
		switch strings.ToLower(fk.OnDelete) {
		case "", "restrict", "cascade", "set_null":
		default:
			return fmt.Errorf("%s.%s: unknown on_delete policy %q", t.Name, fk.Column, fk.OnDelete)
		}
	}

	// индексы по объявленным колонкам
	for _, ix := range t.Indexes {
		if len(ix.Columns) == 0 {
			return fmt.Errorf("%s: index without columns", t.Name)
		}
		for _, icol := range ix.Columns {
			if _, ok := cols[icol]; !ok {
				return fmt.Errorf("%s: index column %q is not declared", t.Name, icol)
			}
		}
	}

	// drop-лист не должен пересекаться с целевыми колонками
	for _, dc := range t.DropColumns {
		if _, ok := cols[dc]; ok {
			return fmt.Errorf("%s: column %q is both declared and in drop_columns", t.Name, dc)
		}
	}

	// backfill: путь via_join разрешим внутри каталога и детерминирован
	if t.Backfill != nil && len(t.Backfill.ViaJoin) > 0 {
		if err := c.validateJoinPath(t, t.Backfill.ViaJoin); err != nil {
			return err
		}
	}
	return nil
}

// validateJoinPath: каждый hop идёт по объявленной fk-колонке на PK целевой
// таблицы (одна строка на строку-источник — детерминизм), последняя таблица
// пути сама tenant-owned, т.е. admin_id там уже заполнен к моменту backfill'а.
func (c *Catalog) validateJoinPath(t *TableSpec, hops []JoinHop) error {
	cur := t
	for _, h := range hops {
		if _, ok := cur.Column(h.FKColumn); !ok {
			return fmt.Errorf("%s: backfill hop column %q is not declared on %s", t.Name, h.FKColumn, cur.Name)
		}
		ref, ok := c.byName[h.RefTable]
		if !ok {
			return fmt.Errorf("%s: backfill hop references unknown table %q", t.Name, h.RefTable)
		}
		refCol := h.RefColumn
		if refCol == "" {
			refCol = "id"
		}
		if len(ref.PrimaryKey) != 1 || ref.PrimaryKey[0] != refCol {
			return fmt.Errorf("%s: backfill hop %s→%s(%s) must target the primary key", t.Name, h.FKColumn, h.RefTable, refCol)
		}
		cur = ref
	}
	if cur.Tenancy != TenancyTenant {
		return fmt.Errorf("%s: backfill path ends at %s which carries no %s", t.Name, cur.Name, AdminColumn)
	}
	return nil
}

func (c *Catalog) hasAdminFK(t *TableSpec) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == AdminColumn && fk.RefTable == TenantTable {
			return true
		}
	}
	return false
}

func hasAdminIndex(t *TableSpec) bool {
	for _, ix := range t.Indexes {
		if len(ix.Columns) > 0 && ix.Columns[0] == AdminColumn {
			return true
		}
	}
	return false
}

// checkFKCycles — DFS по графу внешних ключей; циклы ломают порядок применения.
func (c *Catalog) checkFKCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(c.specs))
	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		color[name] = grey
		t := c.byName[name]
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == name {
				continue // self-reference допустим (usuario.admin_id в legacy)
			}
			switch color[fk.RefTable] {
			case grey:
				return fmt.Errorf("foreign key cycle: %s -> %s", strings.Join(append(trail, name), " -> "), fk.RefTable)
			case white:
				if err := visit(fk.RefTable, append(trail, name)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for _, t := range c.specs {
		if color[t.Name] == white {
			if err := visit(t.Name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
