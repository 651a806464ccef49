/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

// cycleLockKey guards scheduled cycles when several replicas share a database.
const cycleLockKey int64 = 7340111

const schema = `
CREATE TABLE IF NOT EXISTS report_runs (
    id          text PRIMARY KEY,
    started_at  timestamptz NOT NULL,
    finished_at timestamptz,
    trigger     text NOT NULL DEFAULT '',
    projects    int NOT NULL DEFAULT 0,
    findings    int NOT NULL DEFAULT 0,
    failures    int NOT NULL DEFAULT 0,
    sent        boolean NOT NULL DEFAULT false,
    success     boolean NOT NULL DEFAULT false,
    error       text NOT NULL DEFAULT ''
)`

type Postgres struct {
    pool *pgxpool.Pool
    log  zerolog.Logger
    conn *pgxpool.Conn
}

// Open connects, pings and makes sure the run table exists. A failure is a
// connectivity fault.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Postgres, error) {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { return nil, domain.NewStartupError(domain.FaultConfig, "db open", err) }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil {
        pool.Close()
        return nil, domain.NewStartupError(domain.FaultConnectivity, "db ping", err)
    }
    if _, err := pool.Exec(ctx2, schema); err != nil {
        pool.Close()
        return nil, domain.NewStartupError(domain.FaultConnectivity, "db schema", err)
    }
    return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) StartRun(ctx context.Context, rec domain.RunRecord) error {
    const q = `INSERT INTO report_runs(id, started_at, trigger) VALUES($1,$2,$3)`
    _, err := p.pool.Exec(ctx, q, rec.ID, rec.StartedAt, rec.Trigger)
    if err != nil { return fmt.Errorf("start run: %w", err) }
    return nil
}

func (p *Postgres) FinishRun(ctx context.Context, rec domain.RunRecord) error {
    const q = `INSERT INTO report_runs(id, started_at, finished_at, trigger, projects, findings, failures, sent, success, error)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET
            finished_at=EXCLUDED.finished_at,
            projects=EXCLUDED.projects,
            findings=EXCLUDED.findings,
            failures=EXCLUDED.failures,
            sent=EXCLUDED.sent,
            success=EXCLUDED.success,
            error=EXCLUDED.error`
    _, err := p.pool.Exec(ctx, q, rec.ID, rec.StartedAt, rec.FinishedAt, rec.Trigger,
        rec.Projects, rec.Findings, rec.Failures, rec.Sent, rec.Success, rec.Error)
    if err != nil { return fmt.Errorf("finish run: %w", err) }
    return nil
}

func (p *Postgres) LastRun(ctx context.Context) (*domain.RunRecord, error) {
    const q = `SELECT id, started_at, finished_at, trigger, projects, findings, failures, sent, success, error
        FROM report_runs ORDER BY started_at DESC LIMIT 1`
    rec := &domain.RunRecord{}
    err := p.pool.QueryRow(ctx, q).Scan(&rec.ID, &rec.StartedAt, &rec.FinishedAt, &rec.Trigger,
        &rec.Projects, &rec.Findings, &rec.Failures, &rec.Sent, &rec.Success, &rec.Error)
    if errors.Is(err, pgx.ErrNoRows) { return nil, ErrNoRuns }
    if err != nil { return nil, err }
    return rec, nil
}

// TryLock takes a session advisory lock on a dedicated connection, which is
// held until Unlock.
func (p *Postgres) TryLock(ctx context.Context) (bool, error) {
    conn, err := p.pool.Acquire(ctx)
    if err != nil { return false, err }
    var ok bool
    if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", cycleLockKey).Scan(&ok); err != nil {
        conn.Release()
        return false, err
    }
    if !ok { conn.Release(); return false, nil }
    p.conn = conn
    return true, nil
}

func (p *Postgres) Unlock(ctx context.Context) error {
    conn := p.conn
    if conn == nil { return nil }
    p.conn = nil
    defer conn.Release()
    var ok bool
    err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", cycleLockKey).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}
