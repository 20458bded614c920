package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
)

// Open открывает пул для прикладного слоя (Guard, probe, API).
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RunnerConn выделяет раннеру отдельное соединение вне пула и ставит на нём
// statement_timeout: шаг, не уложившийся в дедлайн, снимает сам сервер.
func RunnerConn(ctx context.Context, db *sql.DB, stepTimeout time.Duration) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	ms := stepTimeout.Milliseconds()
	if ms <= 0 {
		ms = 120_000
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
