// Package guard — единственный одобренный конструктор запросов приложения.
// Запросы мимо Guard'а — баг уровня корректности, а не стиль.
package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"sige/internal/catalog"
	"sige/internal/pg"
)

var (
	// ErrTenantFilterMissing — запрос к tenant-таблице без admin_id в предикате.
	ErrTenantFilterMissing = errors.New("tenant filter missing: predicate must bind admin_id to the session tenant")
	// ErrTenantMismatchOnInsert — вставка с чужим admin_id.
	ErrTenantMismatchOnInsert = errors.New("tenant mismatch on insert: admin_id differs from the session tenant")
	// ErrOwnershipImmutable — попытка поменять admin_id через update.
	ErrOwnershipImmutable = errors.New("ownership is immutable: admin_id cannot appear in an update set")
	// ErrCatalogReadOnly — справочники пишутся только миграциями, не приложением.
	ErrCatalogReadOnly = errors.New("catalog table is read-only for the application")
	// ErrUnknownTable — таблицы нет в каталоге: Guard не строит запросы вслепую.
	ErrUnknownTable = errors.New("table is not declared in the schema catalog")
)

type condKind int

const (
	condEq condKind = iota
	condIn
)

type cond struct {
	kind   condKind
	column string
	value  any
	values []any
}

// Predicate — конъюнкция условий. Конструируется цепочкой: P().Eq(...).In(...).
type Predicate struct {
	conds []cond
}

func P() *Predicate { return &Predicate{} }

func (p *Predicate) Eq(column string, value any) *Predicate {
	p.conds = append(p.conds, cond{kind: condEq, column: column, value: value})
	return p
}

func (p *Predicate) In(column string, values ...any) *Predicate {
	p.conds = append(p.conds, cond{kind: condIn, column: column, values: values})
	return p
}

// adminEq — связан ли admin_id равенством, и каким значением.
func (p *Predicate) adminEq() (any, bool) {
	if p == nil {
		return nil, false
	}
	for _, c := range p.conds {
		if c.kind == condEq && c.column == catalog.AdminColumn {
			return c.value, true
		}
	}
	return nil, false
}

// Guard строит и исполняет запросы, навешивая tenant-фильтр как инвариант.
// Каждый запрос идёт на соединении из пула вызвавшего запроса; между
// запросами разных реплик Guard ничего не координирует.
type Guard struct {
	db  *sql.DB
	cat *catalog.Catalog
}

func New(db *sql.DB, cat *catalog.Catalog) *Guard {
	return &Guard{db: db, cat: cat}
}

func (g *Guard) table(name string) (*catalog.TableSpec, error) {
	t, ok := g.cat.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// checkRead: tenant-таблица требует явного admin_id в предикате; Guard
// дополнительно сам связывает admin_id с tenant'ом сессии, так что чужое
// значение в предикате даёт пустое пересечение, а не чужие строки.
func (g *Guard) checkRead(t *catalog.TableSpec, pred *Predicate) error {
	if t.Tenancy != catalog.TenancyTenant {
		return nil
	}
	if _, ok := pred.adminEq(); !ok {
		return fmt.Errorf("%w (table %s)", ErrTenantFilterMissing, t.Name)
	}
	return nil
}

func (g *Guard) checkWrite(t *catalog.TableSpec, pred *Predicate) error {
	if t.Tenancy == catalog.TenancyCatalog {
		return fmt.Errorf("%w (table %s)", ErrCatalogReadOnly, t.Name)
	}
	return g.checkRead(t, pred)
}

// buildWhere рендерит предикат + принудительный tenant-фильтр.
func buildWhere(t *catalog.TableSpec, pred *Predicate, tenant int64, args []any) (string, []any) {
	var parts []string
	if pred != nil {
		for _, c := range pred.conds {
			switch c.kind {
			case condEq:
				args = append(args, c.value)
				parts = append(parts, fmt.Sprintf("%s = $%d", ident(c.column), len(args)))
			case condIn:
				// пустой список — заведомо ложный предикат: "in ()" постгрес не примет
				if len(c.values) == 0 {
					parts = append(parts, "false")
					continue
				}
				ph := make([]string, 0, len(c.values))
				for _, v := range c.values {
					args = append(args, v)
					ph = append(ph, fmt.Sprintf("$%d", len(args)))
				}
				parts = append(parts, fmt.Sprintf("%s in (%s)", ident(c.column), strings.Join(ph, ", ")))
			}
		}
	}
	if t.Tenancy == catalog.TenancyTenant {
		args = append(args, tenant)
		parts = append(parts, fmt.Sprintf("%s = $%d", ident(catalog.AdminColumn), len(args)))
	}
	if len(parts) == 0 {
		return "", args
	}
	return " where " + strings.Join(parts, " and "), args
}

func ident(s string) string { return pg.Ident(s) }

// Select возвращает строки; для tenant-таблиц каждая строка гарантированно
// принадлежит tenant'у сессии.
func (g *Guard) Select(ctx context.Context, table string, columns []string, pred *Predicate, tenant int64) (*sql.Rows, error) {
	t, err := g.table(table)
	if err != nil {
		return nil, err
	}
	if err := g.checkRead(t, pred); err != nil {
		return nil, err
	}
	cols := "*"
	if len(columns) > 0 {
		quoted := make([]string, 0, len(columns))
		for _, c := range columns {
			quoted = append(quoted, ident(c))
		}
		cols = strings.Join(quoted, ", ")
	}
	where, args := buildWhere(t, pred, tenant, nil)
	return g.db.QueryContext(ctx, fmt.Sprintf("select %s from %s%s", cols, ident(table), where), args...)
}

// Insert вставляет одну строку; admin_id проставляется Guard'ом.
func (g *Guard) Insert(ctx context.Context, table string, values map[string]any, tenant int64) (int64, error) {
	t, err := g.table(table)
	if err != nil {
		return 0, err
	}
	if t.Tenancy == catalog.TenancyCatalog {
		return 0, fmt.Errorf("%w (table %s)", ErrCatalogReadOnly, t.Name)
	}
	if t.Tenancy == catalog.TenancyTenant {
		if v, supplied := values[catalog.AdminColumn]; supplied && !sameTenant(v, tenant) {
			return 0, fmt.Errorf("%w (table %s)", ErrTenantMismatchOnInsert, t.Name)
		}
		// копия, чтобы не трогать карту вызывающего
		clone := make(map[string]any, len(values)+1)
		for k, v := range values {
			clone[k] = v
		}
		clone[catalog.AdminColumn] = tenant
		values = clone
	}

	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols) // стабильный SQL, проще логировать и тестировать

	quoted := make([]string, 0, len(cols))
	ph := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		quoted = append(quoted, ident(c))
		ph = append(ph, fmt.Sprintf("$%d", i+1))
		args = append(args, values[c])
	}
	res, err := g.db.ExecContext(ctx,
		fmt.Sprintf("insert into %s (%s) values (%s)", ident(table), strings.Join(quoted, ", "), strings.Join(ph, ", ")),
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Update меняет только строки своего tenant'а; admin_id в SET запрещён.
func (g *Guard) Update(ctx context.Context, table string, set map[string]any, pred *Predicate, tenant int64) (int64, error) {
	t, err := g.table(table)
	if err != nil {
		return 0, err
	}
	if err := g.checkWrite(t, pred); err != nil {
		return 0, err
	}
	if _, touches := set[catalog.AdminColumn]; touches {
		return 0, fmt.Errorf("%w (table %s)", ErrOwnershipImmutable, t.Name)
	}

	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var assigns []string
	var args []any
	for _, c := range cols {
		args = append(args, set[c])
		assigns = append(assigns, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	where, args := buildWhere(t, pred, tenant, args)
	res, err := g.db.ExecContext(ctx,
		fmt.Sprintf("update %s set %s%s", ident(table), strings.Join(assigns, ", "), where),
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete удаляет только строки своего tenant'а.
func (g *Guard) Delete(ctx context.Context, table string, pred *Predicate, tenant int64) (int64, error) {
	t, err := g.table(table)
	if err != nil {
		return 0, err
	}
	if err := g.checkWrite(t, pred); err != nil {
		return 0, err
	}
	where, args := buildWhere(t, pred, tenant, nil)
	res, err := g.db.ExecContext(ctx, fmt.Sprintf("delete from %s%s", ident(table), where), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sameTenant(v any, tenant int64) bool {
	switch x := v.(type) {
	case int64:
		return x == tenant
	case int:
		return int64(x) == tenant
	case int32:
		return int64(x) == tenant
	default:
		return false
	}
}
