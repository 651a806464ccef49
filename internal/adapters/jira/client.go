/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "os"
    "strings"
    "sync"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/felixgeelhaar/fortify/retry"
    "github.com/felixgeelhaar/fortify/timeout"
    "github.com/rs/zerolog"
    "golang.org/x/sync/semaphore"
    "golang.org/x/time/rate"
)

const (
    FieldSprint    = domain.FieldSprint
    FieldIssueType = domain.FieldIssueType
    FieldSummary   = domain.FieldSummary
    FieldStatus    = domain.FieldStatus
    FieldCreated   = domain.FieldCreated
)

// StatusError is a non-2xx answer from Jira.
type StatusError struct {
    Code int
    Body string
}

func (e *StatusError) Error() string {
    return fmt.Sprintf("jira api status=%d body=%s", e.Code, e.Body)
}

func (e *StatusError) Retryable() bool { return e.Code == http.StatusTooManyRequests || e.Code >= 500 }

type Client struct {
    baseURL string
    token   string
    basic   string
    user    string
    pass    string
    http    *http.Client
    log     zerolog.Logger
    apiVer  string

    callTimeout time.Duration
    attempts    int
    limiter     *rate.Limiter
    sem         *semaphore.Weighted

    mu          sync.Mutex
    sprintField string
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    attempts := cfg.JiraRetries
    if attempts <= 0 { attempts = 1 }
    limit := rate.Inf
    if cfg.JiraRateLimit > 0 { limit = rate.Limit(cfg.JiraRateLimit) }
    burst := cfg.JiraBurst
    if burst <= 0 { burst = 1 }
    conc := cfg.MaxConcurrency
    if conc <= 0 { conc = 8 }
    callTimeout := cfg.HTTPTimeout
    if callTimeout <= 0 { callTimeout = 15 * time.Second }
    return &Client{
        baseURL: strings.TrimRight(cfg.JiraBaseURL, "/"),
        token:   cfg.JiraPAT,
        basic:   getenvBasic(),
        user:    cfg.JiraUsername,
        pass:    cfg.JiraPassword,
        http:    &http.Client{},
        log:     log,
        apiVer:  cfg.JiraAPIVersion,

        callTimeout: callTimeout,
        attempts:    attempts,
        limiter:     rate.NewLimiter(limit, burst),
        sem:         semaphore.NewWeighted(int64(conc)),

        sprintField: strings.TrimSpace(cfg.JiraSprintField),
    }
}

// getenvBasic reads JIRA_BASIC_AUTH from environment if present (format: user:pass base64), optional
func getenvBasic() string {
    v := ""
    if s := strings.TrimSpace(os.Getenv("JIRA_BASIC_AUTH")); s != "" { v = s }
    return v
}

func (c *Client) apiURL(path string, q url.Values) string {
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := c.baseURL + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

func (c *Client) apiPath(rest string) string {
    if c.apiVer == "3" { return "/rest/api/3/" + rest }
    return "/rest/api/2/" + rest
}

// do runs one bounded call: rate limited, concurrency capped, retried on
// 429/5xx and network errors, each attempt under the call timeout.
func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, error) {
    if c.baseURL == "" { return nil, errors.New("jira: empty baseURL") }
    var payload []byte
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return nil, err }
        payload = b
    }
    if err := c.sem.Acquire(ctx, 1); err != nil { return nil, err }
    defer c.sem.Release(1)

    r := retry.New[[]byte](retry.Config{
        MaxAttempts:   c.attempts,
        InitialDelay:  300 * time.Millisecond,
        BackoffPolicy: retry.BackoffExponential,
    })
    t := timeout.New[[]byte](timeout.Config{DefaultTimeout: c.callTimeout})

    // 4xx answers are final; they leave the retry loop through permanent.
    var permanent error
    out, err := r.Do(ctx, func(ctx context.Context) ([]byte, error) {
        if err := c.limiter.Wait(ctx); err != nil { return nil, err }
        b, err := t.Execute(ctx, c.callTimeout, func(ctx context.Context) ([]byte, error) {
            return c.once(ctx, method, u, payload)
        })
        var se *StatusError
        if errors.As(err, &se) && !se.Retryable() {
            permanent = err
            return nil, nil
        }
        return b, err
    })
    if permanent != nil { return nil, permanent }
    if err != nil { return nil, err }
    return out, nil
}

func (c *Client) once(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
    var r io.Reader
    if payload != nil { r = strings.NewReader(string(payload)) }
    req, err := http.NewRequestWithContext(ctx, method, u, r)
    if err != nil { return nil, err }
    req.Header.Set("Accept", "application/json")
    if payload != nil { req.Header.Set("Content-Type", "application/json") }
    if c.token != "" {
        req.Header.Set("Authorization", "Bearer "+c.token)
    } else if c.user != "" && c.pass != "" {
        req.SetBasicAuth(c.user, c.pass)
    } else if c.basic != "" {
        req.Header.Set("Authorization", "Basic "+c.basic)
    }
    resp, err := c.http.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return nil, err }
    if resp.StatusCode >= 300 {
        return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
    }
    return b, nil
}

// Search runs a JQL query and returns the total match count plus at most max
// issues. Field names are logical (see Field* constants).
func (c *Client) Search(ctx context.Context, jql string, max int, fields ...string) (domain.SearchResult, error) {
    if strings.TrimSpace(jql) == "" { return domain.SearchResult{}, errors.New("jira: empty jql") }
    sprintField := ""
    wire := make([]string, 0, len(fields)+1)
    for _, f := range fields {
        f = strings.TrimSpace(f)
        if f == "" { continue }
        if f == FieldSprint {
            id, err := c.SprintField(ctx)
            if err != nil { return domain.SearchResult{}, err }
            sprintField = id
            f = id
        }
        wire = append(wire, f)
    }
    if len(wire) == 0 { wire = append(wire, "key") }

    var (
        raw []byte
        err error
    )
    if c.apiVer == "3" {
        body := map[string]any{"jql": jql, "startAt": 0, "maxResults": max, "fields": wire}
        raw, err = c.do(ctx, http.MethodPost, c.apiURL(c.apiPath("search"), nil), body)
    } else {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("maxResults", fmt.Sprint(max))
        q.Set("fields", strings.Join(wire, ","))
        raw, err = c.do(ctx, http.MethodGet, c.apiURL(c.apiPath("search"), q), nil)
    }
    if err != nil { return domain.SearchResult{}, fmt.Errorf("jira search: %w", err) }
    res, err := decodeSearch(raw, sprintField)
    if err != nil { return domain.SearchResult{}, fmt.Errorf("jira search: decode: %w", err) }
    c.log.Debug().Str("jql", jql).Int("total", res.Total).Int("returned", len(res.Issues)).Msg("jira search")
    return res, nil
}

// SprintField returns the custom field id holding sprint membership,
// discovering it through the field list on first use.
func (c *Client) SprintField(ctx context.Context) (string, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.sprintField != "" { return c.sprintField, nil }
    raw, err := c.do(ctx, http.MethodGet, c.apiURL(c.apiPath("field"), nil), nil)
    if err != nil { return "", fmt.Errorf("jira fields: %w", err) }
    var defs []struct {
        ID     string `json:"id"`
        Name   string `json:"name"`
        Schema struct {
            Custom string `json:"custom"`
        } `json:"schema"`
    }
    if err := json.Unmarshal(raw, &defs); err != nil { return "", fmt.Errorf("jira fields: decode: %w", err) }
    for _, d := range defs {
        if d.Schema.Custom == "com.pyxis.greenhopper.jira:gh-sprint" || d.Name == FieldSprint {
            c.sprintField = d.ID
            c.log.Info().Str("field", d.ID).Msg("jira sprint field discovered")
            return d.ID, nil
        }
    }
    return "", errors.New("jira fields: no Sprint field on this instance")
}

// Myself checks reachability and credentials.
func (c *Client) Myself(ctx context.Context) error {
    _, err := c.do(ctx, http.MethodGet, c.apiURL(c.apiPath("myself"), nil), nil)
    if err == nil { return nil }
    var se *StatusError
    if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
        return domain.NewStartupError(domain.FaultCredential, "jira myself", err)
    }
    return domain.NewStartupError(domain.FaultConnectivity, "jira myself", err)
}

// SprintLink points at the issue navigator filtered to one sprint.
func (c *Client) SprintLink(sprintID int64) string {
    return c.baseURL + "/issues/?jql=" + url.QueryEscape(fmt.Sprintf("sprint = %d", sprintID))
}

// IssuesLink points at the issue navigator listing the given keys.
func (c *Client) IssuesLink(keys []string) string {
    if len(keys) == 0 { return c.baseURL + "/issues/" }
    return c.baseURL + "/issues/?jql=" + url.QueryEscape("key in ("+strings.Join(keys, ",")+")")
}
