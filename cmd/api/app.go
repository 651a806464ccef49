package main

import (
    "context"
    "time"

    "github.com/HamedShams/jira-pulse/internal/adapters/jira"
    "github.com/HamedShams/jira-pulse/internal/adapters/telegram"
    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/HamedShams/jira-pulse/internal/logger"
    "github.com/HamedShams/jira-pulse/internal/repo"
    "github.com/HamedShams/jira-pulse/internal/services"
    "github.com/rs/zerolog"
)

// app holds the collaborators shared by every command.
type app struct {
    cfg   config.Config
    log   zerolog.Logger
    mon   *config.Monitoring
    jira  *jira.Client
    tg    *telegram.Client
    store repo.RunStore
    pg    *repo.Postgres
    gen   *services.Service
}

// newApp loads the monitoring document and checks Jira. Any failure comes back
// as a *domain.StartupError so the caller can abort before anything starts.
func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
    mon, err := config.LoadMonitoring(cfg.MonitoringFile)
    if err != nil { return nil, err }
    log.Info().Str("file", cfg.MonitoringFile).Int("projects", len(mon.Projects())).Msg("monitoring rules loaded")

    a := &app{cfg: cfg, log: log, mon: mon, store: repo.NewMemory(0)}
    a.jira = jira.NewClient(cfg, log)
    ctx2, cancel := context.WithTimeout(ctx, 20*time.Second); defer cancel()
    if err := a.jira.Myself(ctx2); err != nil { return nil, err }
    if _, err := a.jira.SprintField(ctx2); err != nil {
        log.Warn().Err(err).Msg("jira sprint field discovery failed; sprint rules will see no sprints")
    }
    a.tg = telegram.NewClient(cfg, log)
    a.gen = services.New(cfg, mon, a.jira, log)
    return a, nil
}

// openStore switches run history to Postgres when DB_DSN is set.
func (a *app) openStore(ctx context.Context) error {
    if a.cfg.DBDSN == "" { return nil }
    pg, err := repo.Open(ctx, a.cfg, a.log)
    if err != nil { return err }
    a.pg, a.store = pg, pg
    return nil
}

func (a *app) close() {
    if a.pg != nil { a.pg.Close() }
}

func fatalStartup(log zerolog.Logger, err error) {
    ev := log.Fatal().Err(err)
    if kind, ok := domain.FaultOf(err); ok { ev = ev.Str("fault", string(kind)) }
    ev.Msg("startup aborted")
}

func setupLogger(cfg config.Config) zerolog.Logger {
    log, err := logger.New(cfg)
    if err != nil {
        log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
        log.Error().Err(err).Msg("logger setup failed; writing to console")
    }
    return log
}
