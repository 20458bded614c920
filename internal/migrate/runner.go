// Package migrate — транзакционный исполнитель плана ремонтов схемы.
// Работает строго до того, как приложение начнёт слушать сокет.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"sige/internal/catalog"
	"sige/internal/pg"
	"sige/internal/plan"
)

// Config — параметры раннера (см. MIGRATION_* в конфиге процесса).
type Config struct {
	StepTimeout     time.Duration // дедлайн одного шага; снимается statement_timeout'ом
	LockKey         int64         // ключ pg_advisory_lock; 0 = без лока (тесты)
	LockTimeout     time.Duration // сколько ждать чужую реплику
	DefaultTenantID int64         // MIGRATION_DEFAULT_TENANT_ID
}

// UnitStatus — исход юнита в отчёте.
type UnitStatus string

const (
	UnitSuccess        UnitStatus = "success"
	UnitAlreadyApplied UnitStatus = "already_applied"
	UnitFailed         UnitStatus = "failed"
)

type UnitResult struct {
	Number       int
	Name         string
	Status       UnitStatus
	StepsApplied int
	RowsAffected int64
	Err          error
}

// RunReport — итог одного вызова Run.
type RunReport struct {
	RunID string
	Units []UnitResult
}

// Failed — хотя бы один юнит упал.
func (r *RunReport) Failed() bool {
	for _, u := range r.Units {
		if u.Status == UnitFailed {
			return true
		}
	}
	return false
}

type Runner struct {
	db  *sql.DB
	log *zap.Logger
	cfg Config
}

func NewRunner(db *sql.DB, log *zap.Logger, cfg Config) *Runner {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 120 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Minute
	}
	return &Runner{db: db, log: log, cfg: cfg}
}

// Run применяет план юнит за юнитом. Первый упавший юнит останавливает
// прогон; его номер будет переигран на следующей загрузке.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*RunReport, error) {
	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano()))).String()
	log := r.log.With(zap.String("run_id", runID))
	report := &RunReport{RunID: runID}

	unlock, err := r.acquireLock(ctx, log)
	if err != nil {
		return report, err
	}
	defer unlock()

	if err := ensureHistory(ctx, r.db); err != nil {
		return report, &DdlFailedError{Step: "ensure migration_history", Err: err}
	}

	// одно выделенное соединение на весь прогон, со statement_timeout
	conn, err := pg.RunnerConn(ctx, r.db, r.cfg.StepTimeout)
	if err != nil {
		return report, err
	}
	defer conn.Close()

	for _, u := range p.Units {
		res := r.runUnit(ctx, conn, log, u)
		report.Units = append(report.Units, res)
		if res.Status == UnitFailed {
			return report, res.Err
		}
	}
	return report, nil
}

// acquireLock сериализует реплики через pg_try_advisory_lock на отдельном
// соединении; лок живёт до конца прогона.
func (r *Runner) acquireLock(ctx context.Context, log *zap.Logger) (func(), error) {
	if r.cfg.LockKey == 0 {
		return func() {}, nil
	}
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(r.cfg.LockTimeout)
	for {
		var got bool
		if err := conn.QueryRowContext(ctx, `select pg_try_advisory_lock($1)`, r.cfg.LockKey).Scan(&got); err != nil {
			_ = conn.Close()
			return nil, err
		}
		if got {
			break
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return nil, ErrAdvisoryLockTimeout
		}
		log.Info("waiting for advisory lock", zap.Int64("key", r.cfg.LockKey))
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, r.cfg.LockKey)
		_ = conn.Close()
	}, nil
}

func (r *Runner) runUnit(ctx context.Context, conn *sql.Conn, log *zap.Logger, u plan.Unit) UnitResult {
	res := UnitResult{Number: u.Number, Name: u.Name}

	done, err := alreadyApplied(ctx, r.db, u.Number, u.Name)
	if err != nil {
		res.Status = UnitFailed
		res.Err = err
		return res
	}
	if done {
		res.Status = UnitAlreadyApplied
		log.Info("unit already applied", zap.Int("unit", u.Number), zap.String("name", u.Name))
		return res
	}

	attemptID, err := beginAttempt(ctx, r.db, u.Number, u.Name)
	if err != nil {
		res.Status = UnitFailed
		res.Err = err
		return res
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		res.Status = UnitFailed
		res.Err = err
		return res
	}

	for _, s := range u.Steps {
		started := time.Now()
		rows, err := r.execStep(ctx, tx, s)
		dur := time.Since(started)
		if err != nil {
			_ = tx.Rollback()
			// история обновляется свежим autocommit-запросом, не в откатанной tx
			_ = finishFailed(context.WithoutCancel(ctx), r.db, attemptID, res.StepsApplied, err)
			log.Error("step failed",
				zap.Int("unit", u.Number),
				zap.String("step_kind", string(s.Kind)),
				zap.String("table", s.Table),
				zap.Int64("duration_ms", dur.Milliseconds()),
				zap.Error(err))
			res.Status = UnitFailed
			res.Err = err
			return res
		}
		res.StepsApplied++
		res.RowsAffected += rows
		log.Info("step applied",
			zap.Int("unit", u.Number),
			zap.String("step_kind", string(s.Kind)),
			zap.String("table", s.Table),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.Int64("rows_affected", rows),
			zap.String("result", "ok"))
	}

	if err := tx.Commit(); err != nil {
		_ = finishFailed(context.WithoutCancel(ctx), r.db, attemptID, res.StepsApplied, err)
		res.Status = UnitFailed
		res.Err = err
		return res
	}
	if err := finishSuccess(ctx, r.db, attemptID, res.StepsApplied, res.RowsAffected); err != nil {
		res.Status = UnitFailed
		res.Err = err
		return res
	}
	res.Status = UnitSuccess
	return res
}

// execStep — один шаг: DDL одним стейтментом, backfill — ограниченным
// набором UPDATE'ов с подсчётом строк.
func (r *Runner) execStep(ctx context.Context, tx *sql.Tx, s plan.Step) (int64, error) {
	switch s.Kind {
	case plan.StepCreateTable:
		sqlText, err := pg.CreateTableSQL(s.TableSpec)
		if err != nil {
			return 0, err
		}
		return 0, r.ddl(ctx, tx, s, sqlText)

	case plan.StepAddColumn:
		sqlText, err := pg.AddColumnSQL(s.Table, *s.ColumnSpec)
		if err != nil {
			return 0, err
		}
		return 0, r.ddl(ctx, tx, s, sqlText)

	case plan.StepBackfill:
		return r.execBackfill(ctx, tx, s)

	case plan.StepTightenNotNull:
		// для admin_id даём осмысленную ошибку вместо нарушения NOT NULL
		if s.Column == catalog.AdminColumn {
			n, err := nullCount(ctx, tx, s.Table)
			if err != nil {
				return 0, err
			}
			if n > 0 {
				return 0, &UnownedRowsError{Table: s.Table, Count: n}
			}
		}
		return 0, r.ddl(ctx, tx, s, pg.TightenNotNullSQL(s.Table, s.Column))

	case plan.StepAddForeignKey:
		return 0, r.ddl(ctx, tx, s, pg.AddForeignKeySQL(s.Table, *s.ForeignKey))

	case plan.StepAddIndex:
		return 0, r.ddl(ctx, tx, s, pg.AddIndexSQL(s.Table, *s.Index))

	case plan.StepDropColumn:
		return 0, r.ddl(ctx, tx, s, pg.DropColumnSQL(s.Table, s.Column))
	}
	return 0, fmt.Errorf("unknown step kind %q", s.Kind)
}

func (r *Runner) ddl(ctx context.Context, tx *sql.Tx, s plan.Step, sqlText string) error {
	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		return &DdlFailedError{Step: s.String(), Err: err}
	}
	return nil
}

func (r *Runner) execBackfill(ctx context.Context, tx *sql.Tx, s plan.Step) (int64, error) {
	b := s.Backfill
	var total int64

	if b.RejectIfNull {
		n, err := nullCount(ctx, tx, s.Table)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return 0, &UnownedRowsError{Table: s.Table, Count: n}
		}
		return 0, nil
	}

	if len(b.ViaJoin) > 0 {
		res, err := tx.ExecContext(ctx, pg.ViaJoinUpdateSQL(s.Table, b.ViaJoin))
		if err != nil {
			return total, &DdlFailedError{Step: s.String(), Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	if b.DefaultTenant {
		// fallback применяется только к строкам, оставшимся NULL после пути
		n, err := nullCount(ctx, tx, s.Table)
		if err != nil {
			return total, err
		}
		if n > 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, pg.TenantExistsSQL(), r.cfg.DefaultTenantID).Scan(&exists); err != nil {
				return total, err
			}
			if !exists {
				return total, &TenantMissingError{ID: r.cfg.DefaultTenantID}
			}
			res, err := tx.ExecContext(ctx, pg.DefaultTenantUpdateSQL(s.Table), r.cfg.DefaultTenantID)
			if err != nil {
				return total, &DdlFailedError{Step: s.String(), Err: err}
			}
			if n, err := res.RowsAffected(); err == nil {
				total += n
			}
		}
	}
	return total, nil
}

func nullCount(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, pg.NullCountSQL(table)).Scan(&n)
	return n, err
}
