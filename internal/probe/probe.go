// Package probe — read-only проверка живой базы для health-check'ов и CI.
// Никаких починок: probe только смотрит и докладывает.
package probe

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"sige/internal/catalog"
	"sige/internal/pg"
)

// TableReport — покрытие одной tenant-таблицы.
type TableReport struct {
	Table         string          `json:"table"`
	ColumnPresent bool            `json:"column_present"`
	FKPresent     bool            `json:"fk_present"`
	IndexPresent  bool            `json:"index_present"`
	RowCount      int64           `json:"row_count"`
	NullCount     int64           `json:"null_count"`
	Tenants       map[int64]int64 `json:"tenants"` // tenant_id -> rows
}

// Healthy: колонка + FK + индекс на месте и ни одной строки без владельца.
func (t *TableReport) Healthy() bool {
	return t.ColumnPresent && t.FKPresent && t.IndexPresent && t.NullCount == 0
}

// Report — сводка по всем tenant-таблицам каталога.
type Report struct {
	OK     bool          `json:"ok"`
	Tables []TableReport `json:"tables"`
}

// Run инспектирует схему один раз и собирает покрытие по каждой
// tenant-таблице. Только чтение.
func Run(ctx context.Context, db *sql.DB, cat *catalog.Catalog) (*Report, error) {
	obs, err := pg.Inspect(ctx, db)
	if err != nil {
		return nil, err
	}

	rep := &Report{OK: true}
	for _, t := range cat.TenantTables() {
		tr := TableReport{Table: t.Name, Tenants: map[int64]int64{}}
		ot := obs.Tables[t.Name]
		if ot != nil {
			_, tr.ColumnPresent = ot.Columns[catalog.AdminColumn]
			tr.FKPresent = ot.HasFK(catalog.AdminColumn, catalog.TenantTable)
			tr.IndexPresent = ot.HasIndexOn(catalog.AdminColumn)
		}
		if tr.ColumnPresent {
			if err := countRows(ctx, db, &tr); err != nil {
				return nil, err
			}
		}
		if !tr.Healthy() {
			rep.OK = false
		}
		rep.Tables = append(rep.Tables, tr)
	}
	return rep, nil
}

// countRowsSQL — гистограмма владения; NULL попадает в корзину 0
// (id арендаторов — положительные identity-значения, коллизии нет).
func countRowsSQL(table string) string {
	adm := pg.Ident(catalog.AdminColumn)
	return fmt.Sprintf(`select coalesce(%s, 0), count(*) from %s group by %s`,
		adm, pg.Ident(table), adm)
}

func countRows(ctx context.Context, db *sql.DB, tr *TableReport) error {
	rows, err := db.QueryContext(ctx, countRowsSQL(tr.Table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tenant, n int64
		if err := rows.Scan(&tenant, &n); err != nil {
			return err
		}
		tr.RowCount += n
		if tenant == 0 {
			tr.NullCount += n
			continue
		}
		tr.Tenants[tenant] += n
	}
	return rows.Err()
}

// Render — текстовый отчёт для CI-логов и команды probe.
func (r *Report) Render() string {
	var b strings.Builder
	for _, t := range r.Tables {
		status := "healthy"
		if !t.Healthy() {
			status = "UNHEALTHY"
		}
		fmt.Fprintf(&b, "%-24s %s  column=%v fk=%v index=%v rows=%d nulls=%d tenants=%s\n",
			t.Table, status, t.ColumnPresent, t.FKPresent, t.IndexPresent,
			t.RowCount, t.NullCount, renderTenants(t.Tenants))
	}
	if r.OK {
		b.WriteString("probe: ok\n")
	} else {
		b.WriteString("probe: FAILED\n")
	}
	return b.String()
}

func renderTenants(m map[int64]int64) string {
	if len(m) == 0 {
		return "{}"
	}
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d:%d", id, m[id]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
