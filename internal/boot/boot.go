// Package boot — оркестратор загрузки: inspect → plan → run → probe.
// Либо база сходится к каталогу и процесс идёт дальше, либо fail closed.
package boot

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"sige/internal/catalog"
	"sige/internal/config"
	"sige/internal/migrate"
	"sige/internal/pg"
	"sige/internal/plan"
	"sige/internal/probe"
)

// ErrUnhealthy — финальный probe не сошёлся, а MIGRATION_FAIL_CLOSED=true.
var ErrUnhealthy = errors.New("post-migration probe reported unhealthy tables")

type Result struct {
	Run   *migrate.RunReport
	Probe *probe.Report
}

// Bootstrap выполняется до bind'а любого слушающего сокета.
// Любая ошибка здесь — не-нулевой exit процесса.
func Bootstrap(ctx context.Context, db *sql.DB, cat *catalog.Catalog, cfg config.Config, log *zap.Logger) (*Result, error) {
	if err := pg.CheckDialect(ctx, db); err != nil {
		return nil, err
	}

	obs, err := pg.Inspect(ctx, db)
	if err != nil {
		return nil, err
	}

	p, err := plan.Build(cat, obs, plan.Options{DefaultTenantID: cfg.DefaultTenantID})
	if err != nil {
		return nil, err
	}

	runner := migrate.NewRunner(db, log, migrate.Config{
		StepTimeout:     time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		LockKey:         cfg.AdvisoryLockKey,
		DefaultTenantID: cfg.DefaultTenantID,
	})
	report, err := runner.Run(ctx, p)
	if err != nil {
		return &Result{Run: report}, err
	}

	pr, err := probe.Run(ctx, db, cat)
	if err != nil {
		return &Result{Run: report}, err
	}
	res := &Result{Run: report, Probe: pr}
	if !pr.OK {
		log.Error("probe failed after migration", zap.Bool("fail_closed", cfg.FailClosed))
		if cfg.FailClosed {
			return res, ErrUnhealthy
		}
	}
	log.Info("bootstrap complete",
		zap.String("run_id", report.RunID),
		zap.Int("units", len(report.Units)),
		zap.Bool("probe_ok", pr.OK))
	return res, nil
}
