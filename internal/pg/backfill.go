package pg

import (
	"fmt"
	"strings"

	"sige/internal/catalog"
)

// ViaJoinUpdateSQL — коррелированный UPDATE по объявленному пути:
//
//	UPDATE t SET admin_id = hN.admin_id
//	FROM h1 JOIN h2 ON ... WHERE t.fk = h1.id AND t.admin_id IS NULL
//
// Заполняет только строки без владельца; нерезолвящиеся остаются NULL —
// дальше либо default-tenant, либо падение на TightenNotNull.
func ViaJoinUpdateSQL(table string, hops []catalog.JoinHop) string {
	if len(hops) == 0 {
		return ""
	}
	aliases := make([]string, len(hops))
	var from strings.Builder
	for i, h := range hops {
		aliases[i] = fmt.Sprintf("h%d", i+1)
		if i == 0 {
			fmt.Fprintf(&from, "%s %s", Ident(h.RefTable), aliases[i])
			continue
		}
		refCol := h.RefColumn
		if refCol == "" {
			refCol = "id"
		}
		fmt.Fprintf(&from, " join %s %s on %s.%s = %s.%s",
			Ident(h.RefTable), aliases[i],
			aliases[i-1], Ident(h.FKColumn),
			aliases[i], Ident(refCol))
	}
	firstRef := hops[0].RefColumn
	if firstRef == "" {
		firstRef = "id"
	}
	last := aliases[len(aliases)-1]
	return fmt.Sprintf("update %s t set %s = %s.%s from %s where t.%s = h1.%s and t.%s is null",
		Ident(table), Ident(catalog.AdminColumn), last, Ident(catalog.AdminColumn),
		from.String(), Ident(hops[0].FKColumn), Ident(firstRef), Ident(catalog.AdminColumn))
}

// DefaultTenantUpdateSQL добивает оставшиеся NULL конкретным арендатором ($1).
func DefaultTenantUpdateSQL(table string) string {
	return fmt.Sprintf("update %s set %s = $1 where %s is null",
		Ident(table), Ident(catalog.AdminColumn), Ident(catalog.AdminColumn))
}

// NullCountSQL — сколько строк всё ещё без владельца.
func NullCountSQL(table string) string {
	return fmt.Sprintf("select count(*) from %s where %s is null",
		Ident(table), Ident(catalog.AdminColumn))
}

// TenantExistsSQL — проверка, что id из MIGRATION_DEFAULT_TENANT_ID вообще существует.
func TenantExistsSQL() string {
	return fmt.Sprintf("select exists(select 1 from %s where %s = $1)",
		Ident(catalog.TenantTable), Ident("id"))
}
