/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/HamedShams/jira-pulse/internal/rules"
    "github.com/rs/zerolog"
    "golang.org/x/sync/errgroup"
)

const (
    reportTitle = "JIRA REPORT"
    reportRule  = "====================="
    allClear    = "Everything looks good."
)

// Report is one rendered run. Text is empty when no project produced a
// section.
type Report struct {
    Text      string
    Projects  int
    Findings  int
    Failures  int
    Evaluated int
}

func (r Report) Empty() bool { return r.Text == "" }

type Service struct {
    mon   *config.Monitoring
    gw    rules.Gateway
    log   zerolog.Logger
    limit int
    now   func() time.Time
}

func New(cfg config.Config, mon *config.Monitoring, gw rules.Gateway, log zerolog.Logger) *Service {
    limit := cfg.MaxConcurrency
    if limit <= 0 { limit = 1 }
    return &Service{mon: mon, gw: gw, log: log, limit: limit, now: time.Now}
}

// WithClock replaces the clock used for the report date.
func (s *Service) WithClock(now func() time.Time) *Service { s.now = now; return s }

type outcome struct {
    finding *domain.Finding
    err     error
}

// Generate renders the report for every configured project, or only for
// projectID when it is not empty. A failing rule is reported in place and the
// others still run; when every evaluated rule failed the joined error is
// returned instead.
func (s *Service) Generate(ctx context.Context, projectID string) (Report, error) {
    projectID = strings.TrimSpace(projectID)
    var (
        rep  Report
        body strings.Builder
        errs []error
    )
    for _, p := range s.mon.Projects() {
        if projectID != "" && p.ID != projectID { continue }
        if len(p.Rules) == 0 { continue }

        results := s.evaluate(ctx, p.Rules)
        rep.Projects++
        rep.Evaluated += len(results)
        body.WriteString("\n*" + p.Name + "*\n")
        lines := 0
        for i, o := range results {
            switch {
            case o.err != nil:
                rep.Failures++
                errs = append(errs, fmt.Errorf("project %s: %w", p.ID, o.err))
                s.log.Error().Err(o.err).Str("project", p.ID).Str("rule", p.Rules[i].ID.String()).Msg("rule evaluation failed")
                fmt.Fprintf(&body, "- ⚠ %s check failed: %s\n", p.Rules[i].ID, redactFailure(o.err))
                lines++
            case o.finding != nil:
                rep.Findings++
                body.WriteString("- " + o.finding.Text + "\n")
                lines++
            }
        }
        if lines == 0 { body.WriteString(allClear + "\n") }
    }

    if rep.Evaluated > 0 && rep.Failures == rep.Evaluated {
        return Report{Projects: rep.Projects, Failures: rep.Failures, Evaluated: rep.Evaluated}, errors.Join(errs...)
    }
    if rep.Projects == 0 { return rep, nil }
    rep.Text = fmt.Sprintf("%s _(%s)_\n%s\n", reportTitle, s.now().Format("02/01/2006"), reportRule) + body.String()
    s.log.Debug().Int("projects", rep.Projects).Int("findings", rep.Findings).Int("failures", rep.Failures).Msg("report generated")
    return rep, nil
}

// evaluate runs the rules of one project with bounded parallelism; results
// keep the configured order.
func (s *Service) evaluate(ctx context.Context, rcs []config.RuleConfig) []outcome {
    out := make([]outcome, len(rcs))
    var g errgroup.Group
    g.SetLimit(s.limit)
    for i, rc := range rcs {
        g.Go(func() error {
            f, err := rules.Evaluate(ctx, rc, s.gw)
            out[i] = outcome{finding: f, err: err}
            return nil
        })
    }
    _ = g.Wait()
    return out
}
