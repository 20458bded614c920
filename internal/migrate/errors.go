package migrate

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrAdvisoryLockTimeout — другая реплика держала лок дольше дедлайна бутстрапа.
var ErrAdvisoryLockTimeout = errors.New("advisory lock timeout: another replica is still migrating")

// TenantMissingError — default-tenant ссылается на несуществующего арендатора.
type TenantMissingError struct {
	ID int64
}

func (e *TenantMissingError) Error() string {
	return fmt.Sprintf("tenant %d does not exist in %s", e.ID, "usuario")
}

// UnownedRowsError — после backfill'а остались строки без владельца.
type UnownedRowsError struct {
	Table string
	Count int64
}

func (e *UnownedRowsError) Error() string {
	return fmt.Sprintf("%d unowned rows found in table %s", e.Count, e.Table)
}

// DdlFailedError — база отвергла DDL-шаг; несём обрезанный текст драйвера.
type DdlFailedError struct {
	Step string
	Err  error
}

func (e *DdlFailedError) Error() string {
	return fmt.Sprintf("ddl failed at step %q: %v", e.Step, e.Err)
}

func (e *DdlFailedError) Unwrap() error { return e.Err }

// excerpt ограничивает текст ошибки для migration_history.error_excerpt.
// Срез по границе руны: сообщения драйвера бывают не-ASCII.
const excerptLimit = 500

func excerpt(err error) string {
	s := err.Error()
	if len(s) <= excerptLimit {
		return s
	}
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
