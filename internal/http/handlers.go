/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "bytes"
    "context"
    "crypto/subtle"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "mime"
    "net/http"
    "strings"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/HamedShams/jira-pulse/internal/repo"
    "github.com/HamedShams/jira-pulse/internal/services"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
    "github.com/xeipuuv/gojsonschema"
)

const (
    msgNotJSON   = "Come on! Give me JSON payload!"
    msgBadAPIKey = "invalid or missing api key"
    msgReportErr = "report generation failed"
    maxBodyBytes = 1 << 20
)

type reportGenerator interface {
    Generate(ctx context.Context, projectID string) (services.Report, error)
}

type Handlers struct {
    log    zerolog.Logger
    gen    reportGenerator
    runs   repo.RunStore
    header string
    key    []byte
    schema *gojsonschema.Schema
}

// NewHandlers decodes the api key and compiles the request schema once; a
// bad value in either is a configuration fault.
func NewHandlers(adhoc config.AdhocRequest, log zerolog.Logger, gen reportGenerator, runs repo.RunStore) (*Handlers, error) {
    h := &Handlers{log: log, gen: gen, runs: runs, header: adhoc.APIKey.Header}
    key, err := adhoc.DecodedAPIKey()
    if err != nil { return nil, domain.NewStartupError(domain.FaultConfig, "adhoc api key", err) }
    h.key = []byte(key)
    if len(adhoc.RequestSchema) > 0 {
        s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(adhoc.RequestSchema))
        if err != nil { return nil, domain.NewStartupError(domain.FaultConfig, "adhoc request schema", err) }
        h.schema = s
    }
    return h, nil
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
    if h.runs == nil {
        c.JSON(http.StatusNotFound, gin.H{"error": repo.ErrNoRuns.Error()})
        return
    }
    lr, err := h.runs.LastRun(c.Request.Context())
    if errors.Is(err, repo.ErrNoRuns) {
        c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
        return
    }
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, lr)
}

// RequireAPIKey is a no-op when no key is configured.
func (h *Handlers) RequireAPIKey(c *gin.Context) {
    if len(h.key) == 0 { c.Next(); return }
    got := []byte(c.GetHeader(h.header))
    if subtle.ConstantTimeCompare(got, h.key) != 1 {
        h.log.Info().Str("ip", c.ClientIP()).Msg("report request rejected: api key")
        c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": http.StatusUnauthorized, "message": msgBadAPIKey})
        return
    }
    c.Next()
}

func (h *Handlers) ReportJira(c *gin.Context) {
    body, req, ok := h.readJSON(c)
    if !ok {
        c.JSON(http.StatusUnsupportedMediaType, gin.H{"status": http.StatusUnsupportedMediaType, "message": msgNotJSON})
        return
    }
    if h.schema != nil {
        res, err := h.schema.Validate(gojsonschema.NewBytesLoader(body))
        if err != nil {
            c.JSON(http.StatusUnsupportedMediaType, gin.H{"status": http.StatusUnsupportedMediaType, "message": msgNotJSON})
            return
        }
        if !res.Valid() {
            errs := make([]string, 0, len(res.Errors()))
            for _, desc := range res.Errors() { errs = append(errs, desc.String()) }
            h.log.Info().Strs("errors", errs).Msg("report request rejected: schema")
            c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "message": "request does not match schema", "errors": errs})
            return
        }
    }

    project, err := projectID(req["project"])
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"status": http.StatusBadRequest, "message": err.Error()})
        return
    }
    rep, err := h.gen.Generate(c.Request.Context(), project)
    if err != nil {
        h.log.Error().Err(err).Str("project", project).Msg("report request failed")
        // detail stays in the log; it can carry Jira URLs and upstream bodies
        c.JSON(http.StatusInternalServerError, gin.H{"status": http.StatusInternalServerError, "message": msgReportErr})
        return
    }
    if rep.Empty() {
        msg := "no report"
        if project != "" { msg = "no report for project " + project }
        c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "message": msg})
        return
    }
    c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "report": rep.Text})
}

// readJSON accepts application/json (and +json) bodies holding an object.
func (h *Handlers) readJSON(c *gin.Context) ([]byte, map[string]any, bool) {
    mt, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
    if err != nil || (mt != "application/json" && !strings.HasSuffix(mt, "+json")) {
        h.log.Info().Str("content_type", c.GetHeader("Content-Type")).Msg("report request rejected: not json")
        return nil, nil, false
    }
    body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
    if err != nil { return nil, nil, false }
    dec := json.NewDecoder(bytes.NewReader(body))
    dec.UseNumber()
    var req map[string]any
    if err := dec.Decode(&req); err != nil || req == nil {
        h.log.Info().Msg("report request rejected: malformed json")
        return nil, nil, false
    }
    return body, req, true
}

func projectID(v any) (string, error) {
    switch p := v.(type) {
    case nil:
        return "", nil
    case string:
        return strings.TrimSpace(p), nil
    case json.Number:
        return p.String(), nil
    default:
        return "", fmt.Errorf("project must be a number or a string, got %T", v)
    }
}
