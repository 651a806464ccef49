package logger

import (
    "fmt"
    "io"
    "os"
    "strings"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// New builds the process logger. Output goes to LogFile when set, stdout
// otherwise; dev mode uses the console writer.
func New(cfg config.Config) (zerolog.Logger, error) {
    var out io.Writer = os.Stdout
    if cfg.LogFile != "" {
        f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
        if err != nil { return zerolog.Nop(), fmt.Errorf("open log file: %w", err) }
        out = f
    }
    level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
    if err != nil || cfg.LogLevel == "" { level = zerolog.WarnLevel }
    if strings.EqualFold(cfg.LogLevel, "critical") { level = zerolog.FatalLevel }

    if cfg.AppEnv == "dev" {
        output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.LogFile != ""}
        logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
        log.Logger = logger
        return logger, nil
    }
    zerolog.TimeFieldFormat = time.RFC3339
    logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
    log.Logger = logger
    return logger, nil
}

// CronLogger adapts zerolog to the logger interface of robfig/cron job
// wrappers.
type CronLogger struct {
    Log zerolog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...any) {
    l.Log.Info().Fields(keysAndValues).Msg(msg)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...any) {
    l.Log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
