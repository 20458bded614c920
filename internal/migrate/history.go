package migrate

import (
	"context"
	"database/sql"
)

// История миграций. Строки append-only: упавшая попытка остаётся как есть,
// следующая загрузка пишет новую строку. Применённость определяется парой
// (number, name): рост каталога может сдвинуть номера, и новая таблица не
// должна унаследовать success-строку чужого номера. Уникальность пары — только
// среди success, поэтому частичный индекс.
const historyDDL = `
create table if not exists migration_history (
  id integer generated by default as identity primary key,
  number integer not null,
  name varchar(100) not null,
  started_at timestamp with time zone not null default now(),
  finished_at timestamp with time zone,
  status varchar(10) not null default 'running',
  error_excerpt text,
  steps_applied integer not null default 0,
  rows_affected integer not null default 0
)`

const historyIndexDDL = `
create unique index if not exists uq_migration_history_success
  on migration_history(number, name) where status = 'success'`

func ensureHistory(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, historyDDL); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, historyIndexDDL)
	return err
}

// alreadyApplied — есть ли успешная запись с этой парой номер+имя.
// Совпадение только по номеру — признак перенумерованного каталога, юнит
// выполняется заново (для сошедшейся таблицы это пустой юнит).
func alreadyApplied(ctx context.Context, db *sql.DB, number int, name string) (bool, error) {
	var ok bool
	err := db.QueryRowContext(ctx,
		`select exists(select 1 from migration_history where number = $1 and name = $2 and status = 'success')`,
		number, name).Scan(&ok)
	return ok, err
}

// beginAttempt пишет running-строку вне транзакции юнита: она должна
// пережить откат шагов.
func beginAttempt(ctx context.Context, db *sql.DB, number int, name string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		`insert into migration_history (number, name, status) values ($1, $2, 'running') returning id`,
		number, name).Scan(&id)
	return id, err
}

func finishSuccess(ctx context.Context, db *sql.DB, id int64, steps int, rows int64) error {
	_, err := db.ExecContext(ctx,
		`update migration_history
		    set status = 'success', finished_at = now(), steps_applied = $2, rows_affected = $3
		  where id = $1`,
		id, steps, rows)
	return err
}

// finishFailed выполняется в свежем autocommit-соединении — транзакция юнита
// к этому моменту уже откатилась.
func finishFailed(ctx context.Context, db *sql.DB, id int64, steps int, cause error) error {
	_, err := db.ExecContext(ctx,
		`update migration_history
		    set status = 'failed', finished_at = now(), steps_applied = $2, error_excerpt = $3
		  where id = $1`,
		id, steps, excerpt(cause))
	return err
}
