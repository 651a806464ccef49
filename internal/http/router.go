/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/repo"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, mon *config.Monitoring, log zerolog.Logger, gen reportGenerator, runs repo.RunStore) (*gin.Engine, error) {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    h, err := NewHandlers(mon.AdhocRequest, log, gen, runs)
    if err != nil { return nil, err }

    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context){
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    r.GET("/healthz", h.Healthz)
    r.GET("/admin/last-run", h.LastRun)
    r.POST("/report/jira", h.RequireAPIKey, h.ReportJira)
    return r, nil
}
