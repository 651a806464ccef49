/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package repo keeps the history of report cycles.
package repo

import (
    "context"
    "errors"
    "sync"

    "github.com/HamedShams/jira-pulse/internal/domain"
)

var ErrNoRuns = errors.New("no runs recorded")

type RunStore interface {
    StartRun(ctx context.Context, rec domain.RunRecord) error
    FinishRun(ctx context.Context, rec domain.RunRecord) error
    LastRun(ctx context.Context) (*domain.RunRecord, error)
}

// Locker serialises scheduled cycles across replicas.
type Locker interface {
    TryLock(ctx context.Context) (bool, error)
    Unlock(ctx context.Context) error
}

// Memory is the RunStore used when no database is configured. It keeps the
// most recent runs only.
type Memory struct {
    mu   sync.RWMutex
    runs []domain.RunRecord
    max  int
}

func NewMemory(max int) *Memory {
    if max <= 0 { max = 50 }
    return &Memory{max: max}
}

func (m *Memory) StartRun(_ context.Context, rec domain.RunRecord) error {
    if rec.ID == "" { return errors.New("run id is required") }
    m.mu.Lock(); defer m.mu.Unlock()
    m.runs = append(m.runs, rec)
    if len(m.runs) > m.max { m.runs = m.runs[len(m.runs)-m.max:] }
    return nil
}

func (m *Memory) FinishRun(_ context.Context, rec domain.RunRecord) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for i := len(m.runs) - 1; i >= 0; i-- {
        if m.runs[i].ID == rec.ID { m.runs[i] = rec; return nil }
    }
    m.runs = append(m.runs, rec)
    if len(m.runs) > m.max { m.runs = m.runs[len(m.runs)-m.max:] }
    return nil
}

func (m *Memory) LastRun(_ context.Context) (*domain.RunRecord, error) {
    m.mu.RLock(); defer m.mu.RUnlock()
    if len(m.runs) == 0 { return nil, ErrNoRuns }
    rec := m.runs[len(m.runs)-1]
    return &rec, nil
}
