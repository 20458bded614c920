package migrate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"sige/internal/catalog"
	"sige/internal/pg"
	"sige/internal/plan"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sige_test"),
		tcpostgres.WithUsername("sige"),
		tcpostgres.WithPassword("sige"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := pg.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	return cat
}

func buildPlan(t *testing.T, ctx context.Context, db *sql.DB, cat *catalog.Catalog, tenantID int64) *plan.Plan {
	t.Helper()
	obs, err := pg.Inspect(ctx, db)
	require.NoError(t, err)
	p, err := plan.Build(cat, obs, plan.Options{DefaultTenantID: tenantID})
	require.NoError(t, err)
	return p
}

func execAll(t *testing.T, ctx context.Context, db *sql.DB, stmts []string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

// Висячий FK: путь join'а не резолвится, fallback'а нет — юнит падает
// UnownedRows, его failed-строка остаётся, а повторный прогон после починки
// данных пишет новую success-строку рядом.
func TestRunUnresolvedJoinFailsThenRetries(t *testing.T) {
	db := startPostgres(t)
	cat := loadCatalog(t)
	ctx := context.Background()

	execAll(t, ctx, db, []string{
		`create table usuario (
			id integer generated by default as identity primary key,
			username varchar(64) not null,
			email varchar(120) not null,
			password_hash varchar(256),
			nome varchar(100) not null,
			admin boolean not null default false,
			ativo boolean not null default true,
			created_at timestamptz not null default now()
		)`,
		`insert into usuario (id, username, email, nome, admin)
		 values (7, 'matriz', 'matriz@example.com', 'Matriz', true)`,
		`create table funcionario (
			id integer generated by default as identity primary key,
			codigo varchar(10) not null,
			nome varchar(100) not null,
			cpf varchar(14) not null,
			data_admissao date not null,
			salario numeric(18,2) not null default 0,
			ativo boolean not null default true,
			created_at timestamptz not null default now()
		)`,
		`insert into funcionario (id, codigo, nome, cpf, data_admissao)
		 values (10, 'F010', 'João', '111.111.111-11', '2020-01-06')`,
		// legacy-таблица без FK: funcionario_id указывает в никуда
		`create table registro_alimentacao (
			id integer generated by default as identity primary key,
			funcionario_id integer not null,
			data date not null,
			tipo varchar(20) not null,
			valor numeric(18,2) not null
		)`,
		`insert into registro_alimentacao (id, funcionario_id, data, tipo, valor)
		 values (1, 999, '2026-08-03', 'almoco', 25.00)`,
	})

	runner := NewRunner(db, zap.NewNop(), Config{StepTimeout: 60 * time.Second, DefaultTenantID: 7})

	report, err := runner.Run(ctx, buildPlan(t, ctx, db, cat, 7))
	require.Error(t, err)
	var ue *UnownedRowsError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "registro_alimentacao", ue.Table)
	assert.Equal(t, int64(1), ue.Count)
	require.True(t, report.Failed())
	last := report.Units[len(report.Units)-1]
	assert.Equal(t, UnitFailed, last.Status)
	assert.Equal(t, "registro_alimentacao", last.Name)

	var status, excerptTxt string
	require.NoError(t, db.QueryRowContext(ctx,
		`select status, coalesce(error_excerpt, '')
		   from migration_history where name = 'registro_alimentacao'`).Scan(&status, &excerptTxt))
	assert.Equal(t, "failed", status)
	assert.Contains(t, excerptTxt, "unowned rows")

	// откат юнита откатил и add column
	var hasAdmin bool
	require.NoError(t, db.QueryRowContext(ctx,
		`select exists(select 1 from information_schema.columns
		  where table_name = 'registro_alimentacao' and column_name = 'admin_id')`).Scan(&hasAdmin))
	assert.False(t, hasAdmin)

	// чиним данные и переигрываем: упавший юнит идёт заново, остальные — AlreadyApplied
	_, err = db.ExecContext(ctx, `update registro_alimentacao set funcionario_id = 10 where id = 1`)
	require.NoError(t, err)

	report2, err := runner.Run(ctx, buildPlan(t, ctx, db, cat, 7))
	require.NoError(t, err)
	for _, u := range report2.Units {
		switch u.Name {
		case "registro_alimentacao":
			assert.Equal(t, UnitSuccess, u.Status)
		default:
			assert.Contains(t, []UnitStatus{UnitAlreadyApplied, UnitSuccess}, u.Status, u.Name)
		}
	}

	var owner int64
	require.NoError(t, db.QueryRowContext(ctx,
		`select admin_id from registro_alimentacao where id = 1`).Scan(&owner))
	assert.Equal(t, int64(7), owner)

	// failed-строка осталась как была, success добавилась рядом
	var failed, success int
	require.NoError(t, db.QueryRowContext(ctx,
		`select count(*) filter (where status = 'failed'),
		        count(*) filter (where status = 'success')
		   from migration_history where name = 'registro_alimentacao'`).Scan(&failed, &success))
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, success)
}

func TestRunDefaultTenantMissing(t *testing.T) {
	db := startPostgres(t)
	cat := loadCatalog(t)
	ctx := context.Background()

	execAll(t, ctx, db, []string{
		`create table usuario (
			id integer generated by default as identity primary key,
			username varchar(64) not null,
			email varchar(120) not null,
			password_hash varchar(256),
			nome varchar(100) not null,
			admin boolean not null default false,
			ativo boolean not null default true,
			created_at timestamptz not null default now()
		)`,
		`create table departamento (
			id integer generated by default as identity primary key,
			nome varchar(100) not null,
			created_at timestamptz not null default now()
		)`,
		`insert into departamento (nome) values ('Engenharia')`,
	})

	// tenant 42 в usuario не существует
	runner := NewRunner(db, zap.NewNop(), Config{StepTimeout: 60 * time.Second, DefaultTenantID: 42})
	_, err := runner.Run(ctx, buildPlan(t, ctx, db, cat, 42))
	require.Error(t, err)
	var tm *TenantMissingError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, int64(42), tm.ID)
}

func TestRunAdvisoryLockTimeout(t *testing.T) {
	db := startPostgres(t)
	cat := loadCatalog(t)
	ctx := context.Background()
	const lockKey = int64(421700)

	// чужая "реплика" держит лок на своём соединении
	holder, err := db.Conn(ctx)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey)
	require.NoError(t, err)

	runner := NewRunner(db, zap.NewNop(), Config{
		StepTimeout: 60 * time.Second,
		LockKey:     lockKey,
		LockTimeout: 700 * time.Millisecond,
	})
	p := buildPlan(t, ctx, db, cat, 0)
	_, err = runner.Run(ctx, p)
	require.ErrorIs(t, err, ErrAdvisoryLockTimeout)

	// лок отпущен — тот же прогон проходит
	_, err = holder.ExecContext(ctx, `select pg_advisory_unlock($1)`, lockKey)
	require.NoError(t, err)
	report, err := runner.Run(ctx, p)
	require.NoError(t, err)
	assert.False(t, report.Failed())
}

// Рост каталога сдвигает номера юнитов: success-строка с тем же номером, но
// другим именем не должна считаться применённой.
func TestRunNumberReuseAcrossRenumbering(t *testing.T) {
	db := startPostgres(t)
	cat := loadCatalog(t)
	ctx := context.Background()

	require.NoError(t, ensureHistory(ctx, db))
	_, err := db.ExecContext(ctx,
		`insert into migration_history (number, name, status, finished_at)
		 values (1, 'tabela_da_versao_anterior', 'success', now())`)
	require.NoError(t, err)

	runner := NewRunner(db, zap.NewNop(), Config{StepTimeout: 60 * time.Second})
	report, err := runner.Run(ctx, buildPlan(t, ctx, db, cat, 0))
	require.NoError(t, err)

	// юнит 1 выполнился, а не унаследовал чужую запись
	assert.Equal(t, UnitSuccess, report.Units[0].Status)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`select count(*) from migration_history where number = 1 and status = 'success'`).Scan(&n))
	assert.Equal(t, 2, n, "старая и новая записи номера 1 сосуществуют")

	report2, err := runner.Run(ctx, buildPlan(t, ctx, db, cat, 0))
	require.NoError(t, err)
	assert.Equal(t, UnitAlreadyApplied, report2.Units[0].Status)
}
