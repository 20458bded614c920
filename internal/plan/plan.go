// Package plan сравнивает каталог с живой схемой и выдаёт упорядоченный
// список структурных ремонтов. Только вперёд: никаких downgrade'ов.
package plan

import (
	"fmt"
	"sort"

	"sige/internal/catalog"
	"sige/internal/pg"
)

type StepKind string

const (
	StepCreateTable    StepKind = "create_table"
	StepAddColumn      StepKind = "add_column"
	StepBackfill       StepKind = "backfill_admin_id"
	StepTightenNotNull StepKind = "tighten_not_null"
	StepAddForeignKey  StepKind = "add_foreign_key"
	StepAddIndex       StepKind = "add_index"
	StepDropColumn     StepKind = "drop_column"
)

// Step — одна структурная или data-операция внутри юнита.
type Step struct {
	Kind       StepKind
	Table      string
	Column     string                   // add_column / tighten / drop
	ColumnSpec *catalog.ColumnSpec      // add_column
	ForeignKey *catalog.ForeignKeySpec  // add_foreign_key
	Index      *catalog.IndexSpec       // add_index
	Backfill   *catalog.BackfillSpec    // backfill_admin_id
	TableSpec  *catalog.TableSpec       // create_table
}

func (s Step) String() string {
	switch s.Kind {
	case StepCreateTable:
		return fmt.Sprintf("create table %s", s.Table)
	case StepAddColumn:
		return fmt.Sprintf("add column %s.%s (nullable first)", s.Table, s.Column)
	case StepBackfill:
		return fmt.Sprintf("backfill %s.%s via %s", s.Table, catalog.AdminColumn, s.Backfill.Kind())
	case StepTightenNotNull:
		return fmt.Sprintf("set %s.%s not null", s.Table, s.Column)
	case StepAddForeignKey:
		return fmt.Sprintf("add fk %s.%s -> %s", s.Table, s.ForeignKey.Column, s.ForeignKey.RefTable)
	case StepAddIndex:
		return fmt.Sprintf("add index %s(%v)", s.Table, s.Index.Columns)
	case StepDropColumn:
		return fmt.Sprintf("drop column %s.%s", s.Table, s.Column)
	default:
		return string(s.Kind)
	}
}

// Unit — нумерованный атомарный пакет шагов одной таблицы.
// Номера стабильны: они выводятся из каталога, а не из наблюдаемой схемы.
type Unit struct {
	Number int
	Name   string
	Steps  []Step
}

// Plan — юниты в порядке исполнения. Юнит без шагов всё равно присутствует:
// раннер запишет его success и при повторной загрузке ответит AlreadyApplied.
type Plan struct {
	Units []Unit
}

// Empty — нечего применять (фикс-пойнт после успешного прогона).
func (p *Plan) Empty() bool {
	for _, u := range p.Units {
		if len(u.Steps) > 0 {
			return false
		}
	}
	return true
}

// UnsatisfiableBackfillError — объявленный путь backfill'а невыполним
// на объединении наблюдаемой и планируемой схемы.
type UnsatisfiableBackfillError struct {
	Table  string
	Reason string
}

func (e *UnsatisfiableBackfillError) Error() string {
	return fmt.Sprintf("unsatisfiable backfill for table %s: %s", e.Table, e.Reason)
}

// Options — параметры планирования.
type Options struct {
	// DefaultTenantID — из MIGRATION_DEFAULT_TENANT_ID; 0 = не задан.
	DefaultTenantID int64
}

// Build строит план: по юниту на таблицу каталога в топологическом порядке
// внешних ключей плюс хвостовой юнит для явного drop-листа.
func Build(cat *catalog.Catalog, obs *pg.ObservedSchema, opts Options) (*Plan, error) {
	ordered := topoOrder(cat)

	// до эмиссии шагов: каждый объявленный backfill должен быть исполним
	for _, t := range ordered {
		if err := checkBackfill(cat, obs, t, opts); err != nil {
			return nil, err
		}
	}

	p := &Plan{}
	num := 0
	var drops []Step
	for _, t := range ordered {
		num++
		u := Unit{Number: num, Name: t.Name}
		u.Steps = tableSteps(t, obs)
		p.Units = append(p.Units, u)
		drops = append(drops, dropSteps(t, obs)...)
	}
	num++
	p.Units = append(p.Units, Unit{Number: num, Name: "drop_legacy_columns", Steps: drops})
	return p, nil
}

// tableSteps — порядок внутри таблицы фиксированный:
// add column → backfill → tighten → fk → index.
func tableSteps(t *catalog.TableSpec, obs *pg.ObservedSchema) []Step {
	ot := obs.Tables[t.Name]
	if ot == nil {
		// таблицы нет — создаём целиком, backfill не нужен (строк нет)
		steps := []Step{{Kind: StepCreateTable, Table: t.Name, TableSpec: t}}
		for i := range t.ForeignKeys {
			steps = append(steps, Step{Kind: StepAddForeignKey, Table: t.Name, ForeignKey: &t.ForeignKeys[i]})
		}
		for i := range t.Indexes {
			steps = append(steps, Step{Kind: StepAddIndex, Table: t.Name, Index: &t.Indexes[i]})
		}
		return steps
	}

	var steps []Step
	var tighten []Step
	backfillNeeded := false
	for i := range t.Columns {
		c := &t.Columns[i]
		oc, present := ot.Columns[c.Name]
		if !present {
			steps = append(steps, Step{Kind: StepAddColumn, Table: t.Name, Column: c.Name, ColumnSpec: c})
			if c.Name == catalog.AdminColumn {
				backfillNeeded = true
			}
			if !c.Nullable {
				tighten = append(tighten, Step{Kind: StepTightenNotNull, Table: t.Name, Column: c.Name})
			}
			continue
		}
		if !c.Nullable && oc.Nullable {
			// колонка есть, но прошлый прогон не дожал NOT NULL
			if c.Name == catalog.AdminColumn {
				backfillNeeded = true
			}
			tighten = append(tighten, Step{Kind: StepTightenNotNull, Table: t.Name, Column: c.Name})
		}
	}
	if backfillNeeded && t.Tenancy == catalog.TenancyTenant {
		steps = append(steps, Step{Kind: StepBackfill, Table: t.Name, Backfill: t.Backfill})
	}
	steps = append(steps, tighten...)

	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		if !ot.HasFK(fk.Column, fk.RefTable) {
			steps = append(steps, Step{Kind: StepAddForeignKey, Table: t.Name, ForeignKey: fk})
		}
	}
	for i := range t.Indexes {
		ix := &t.Indexes[i]
		if !hasObservedIndex(ot, ix) {
			steps = append(steps, Step{Kind: StepAddIndex, Table: t.Name, Index: ix})
		}
	}
	return steps
}

// dropSteps — только наблюдаемые колонки из явного drop-листа.
func dropSteps(t *catalog.TableSpec, obs *pg.ObservedSchema) []Step {
	ot := obs.Tables[t.Name]
	if ot == nil {
		return nil
	}
	var out []Step
	for _, dc := range t.DropColumns {
		if _, present := ot.Columns[dc]; present {
			out = append(out, Step{Kind: StepDropColumn, Table: t.Name, Column: dc})
		}
	}
	return out
}

// hasObservedIndex сверяет по списку колонок и флагу unique, имя не важно.
func hasObservedIndex(ot *pg.ObservedTable, ix *catalog.IndexSpec) bool {
	for _, o := range ot.Indexes {
		if o.Unique != ix.Unique || len(o.Columns) != len(ix.Columns) {
			continue
		}
		match := true
		for i := range ix.Columns {
			if o.Columns[i] != ix.Columns[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// checkBackfill: путь via_join должен резолвиться на объединении
// наблюдаемой и планируемой схемы; default-tenant требует настроенного id.
func checkBackfill(cat *catalog.Catalog, obs *pg.ObservedSchema, t *catalog.TableSpec, opts Options) error {
	if t.Tenancy != catalog.TenancyTenant || t.Backfill == nil {
		return nil
	}
	willBackfill := needsBackfill(t, obs)
	if !willBackfill {
		return nil
	}
	if t.Backfill.DefaultTenant && opts.DefaultTenantID == 0 {
		return &UnsatisfiableBackfillError{
			Table:  t.Name,
			Reason: "default-tenant strategy declared but MIGRATION_DEFAULT_TENANT_ID is not set",
		}
	}
	cur := t.Name
	for _, h := range t.Backfill.ViaJoin {
		if !columnWillExist(cat, obs, cur, h.FKColumn) {
			return &UnsatisfiableBackfillError{
				Table:  t.Name,
				Reason: fmt.Sprintf("join path traverses missing column %s.%s", cur, h.FKColumn),
			}
		}
		if _, inCat := cat.Find(h.RefTable); !inCat {
			if _, inObs := obs.Tables[h.RefTable]; !inObs {
				return &UnsatisfiableBackfillError{
					Table:  t.Name,
					Reason: fmt.Sprintf("join path traverses missing table %s", h.RefTable),
				}
			}
		}
		cur = h.RefTable
	}
	if len(t.Backfill.ViaJoin) > 0 {
		if !columnWillExist(cat, obs, cur, catalog.AdminColumn) {
			return &UnsatisfiableBackfillError{
				Table:  t.Name,
				Reason: fmt.Sprintf("join path ends at %s without %s", cur, catalog.AdminColumn),
			}
		}
	}
	return nil
}

func needsBackfill(t *catalog.TableSpec, obs *pg.ObservedSchema) bool {
	ot := obs.Tables[t.Name]
	if ot == nil {
		return false // новая таблица пустая
	}
	oc, present := ot.Columns[catalog.AdminColumn]
	return !present || oc.Nullable
}

func columnWillExist(cat *catalog.Catalog, obs *pg.ObservedSchema, table, column string) bool {
	if ts, ok := cat.Find(table); ok {
		if _, ok := ts.Column(column); ok {
			return true
		}
	}
	if ot, ok := obs.Tables[table]; ok {
		if _, ok := ot.Columns[column]; ok {
			return true
		}
	}
	return false
}

// topoOrder — Кан с сортированными кандидатами: зависимые таблицы после
// целевых, среди готовых — лексикографический порядок. Детерминированно,
// поэтому номера юнитов воспроизводимы от прогона к прогону.
func topoOrder(cat *catalog.Catalog) []*catalog.TableSpec {
	specs := cat.Tables()
	indeg := map[string]int{}
	deps := map[string][]string{} // ref -> dependents
	for i := range specs {
		t := &specs[i]
		seen := map[string]struct{}{}
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == t.Name {
				continue
			}
			if _, dup := seen[fk.RefTable]; dup {
				continue
			}
			seen[fk.RefTable] = struct{}{}
			indeg[t.Name]++
			deps[fk.RefTable] = append(deps[fk.RefTable], t.Name)
		}
	}

	ready := make([]string, 0, len(specs))
	for i := range specs {
		if indeg[specs[i].Name] == 0 {
			ready = append(ready, specs[i].Name)
		}
	}
	sort.Strings(ready)

	var out []*catalog.TableSpec
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		t, _ := cat.Find(name)
		out = append(out, t)
		changed := false
		for _, dep := range deps[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	return out
}
