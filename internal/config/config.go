/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
    "log"
    "os"
    "strconv"
    "strings"
    "time"
)

type Config struct {
    AppEnv   string
    TZ       string
    HTTPAddr string
    LogLevel string
    LogFile  string

    // MonitoringFile points at the rules/frequency/adhoc_request document.
    MonitoringFile string

    // DBDSN is optional; run history falls back to memory when empty.
    DBDSN string

    JiraBaseURL    string
    JiraPAT        string
    JiraUsername   string
    JiraPassword   string
    JiraAPIVersion string
    JiraSprintField string

    JiraRetries   int
    JiraRateLimit float64
    JiraBurst     int

    TelegramToken         string
    TelegramChatIDs       []int64
    TelegramChatUsernames []string

    MaxConcurrency int
    HTTPTimeout    time.Duration
    RunTimeout     time.Duration
}

func getenv(key, def string) string {
    v := os.Getenv(key)
    if v == "" { return def }
    return v
}

func atoi(key string, def int) int {
    v := os.Getenv(key)
    if v == "" { return def }
    i, err := strconv.Atoi(v)
    if err != nil { return def }
    return i
}

func atof(key string, def float64) float64 {
    v := os.Getenv(key)
    if v == "" { return def }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil { return def }
    return f
}

func dur(key string, def time.Duration) time.Duration {
    v := os.Getenv(key)
    if v == "" { return def }
    d, err := time.ParseDuration(v)
    if err != nil { return def }
    return d
}

func parseInt64s(csv string) []int64 {
    if csv == "" { return nil }
    parts := strings.Split(csv, ",")
    out := make([]int64, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p == "" { continue }
        n, err := strconv.ParseInt(p, 10, 64)
        if err == nil { out = append(out, n) }
    }
    return out
}

func parseStrings(csv string) []string {
    if csv == "" { return nil }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p == "" { continue }
        out = append(out, p)
    }
    return out
}

func Load() Config {
    cfg := Config{
        AppEnv:   getenv("APP_ENV", "dev"),
        TZ:       getenv("APP_TZ", "Local"),
        HTTPAddr: getenv("HTTP_ADDR", ":8080"),
        LogLevel: getenv("LOG_LEVEL", "warn"),
        LogFile:  getenv("LOG_FILE", ""),

        MonitoringFile: getenv("MONITORING_FILE", "./config/monitoring.yaml"),

        DBDSN: getenv("DB_DSN", ""),

        JiraBaseURL:     getenv("JIRA_BASE_URL", ""),
        JiraPAT:         getenv("JIRA_PAT", ""),
        JiraUsername:    getenv("JIRA_USERNAME", ""),
        JiraPassword:    getenv("JIRA_PASSWORD", ""),
        JiraAPIVersion:  getenv("JIRA_API_VERSION", "2"),
        JiraSprintField: getenv("JIRA_SPRINT_FIELD", ""),

        JiraRetries:   atoi("JIRA_RETRIES", 3),
        JiraRateLimit: atof("JIRA_RATE_LIMIT", 5),
        JiraBurst:     atoi("JIRA_RATE_BURST", 5),

        TelegramToken:         getenv("TELEGRAM_BOT_TOKEN", ""),
        TelegramChatIDs:       parseInt64s(getenv("TELEGRAM_CHAT_IDS", "")),
        TelegramChatUsernames: parseStrings(getenv("TELEGRAM_CHAT_USERNAMES", "")),

        MaxConcurrency: atoi("MAX_CONCURRENCY", 8),
        HTTPTimeout:    dur("HTTP_TIMEOUT", 15*time.Second),
        RunTimeout:     dur("RUN_TIMEOUT", 5*time.Minute),
    }

    // Fallback: if TELEGRAM_CHAT_IDS provided but non-numeric, treat as usernames
    if len(cfg.TelegramChatIDs) == 0 {
        raw := strings.TrimSpace(getenv("TELEGRAM_CHAT_IDS", ""))
        if raw != "" {
            for _, r := range raw {
                if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '@' || r == '_' {
                    cfg.TelegramChatUsernames = parseStrings(raw)
                    break
                }
            }
        }
    }

    // set global timezone if available
    if cfg.TZ != "" && cfg.TZ != "Local" {
        if loc, err := time.LoadLocation(cfg.TZ); err == nil {
            time.Local = loc
        } else {
            log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
        }
    }
    return cfg
}
