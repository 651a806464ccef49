/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package rules evaluates the Jira health checks. Every check is a pure
// function of its configuration and the gateway's answers.
package rules

import (
    "context"
    "fmt"
    "strings"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
)

// Gateway is the query side of the Jira client.
type Gateway interface {
    Search(ctx context.Context, jql string, max int, fields ...string) (domain.SearchResult, error)
    SprintLink(sprintID int64) string
    IssuesLink(keys []string) string
}

type Rule interface {
    Kind() config.RuleKind
    Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error)
}

// registry is indexed by rule kind; its length is tied to the closed set.
var registry = [config.NumRuleKinds]Rule{
    config.RuleAddedActiveSprint: SprintGrowth{},
    config.RuleEnquirySLA:        AgingSLA{},
    config.RuleSprintRollover:    SprintRollover{},
    config.RuleKeywordSLA:        KeywordSLA{},
}

func For(kind config.RuleKind) (Rule, error) {
    if kind < 0 || int(kind) >= len(registry) || registry[kind] == nil {
        return nil, fmt.Errorf("no rule registered for %s", kind)
    }
    return registry[kind], nil
}

// Evaluate dispatches rc to its rule. Gateway failures are returned, never
// read as zero matches.
func Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error) {
    r, err := For(rc.ID)
    if err != nil { return nil, err }
    f, err := r.Evaluate(ctx, rc, gw)
    if err != nil { return nil, fmt.Errorf("%s: %w", rc.ID, err) }
    if f != nil && strings.TrimSpace(f.Text) == "" { return nil, nil }
    return f, nil
}

func found(kind config.RuleKind, format string, args ...any) *domain.Finding {
    return &domain.Finding{Rule: kind.String(), Text: fmt.Sprintf(format, args...)}
}

func quote(s string) string {
    return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// baseJQL is the saved filter plus the status exclusions shared by all rules.
func baseJQL(rc config.RuleConfig) string {
    var b strings.Builder
    b.WriteString("filter = " + quote(rc.Filter))
    statuses := make([]string, 0, len(rc.ExcludeStatus))
    for _, s := range rc.ExcludeStatus {
        if s = strings.TrimSpace(s); s != "" { statuses = append(statuses, quote(s)) }
    }
    if len(statuses) > 0 {
        b.WriteString(" and status not in (" + strings.Join(statuses, ",") + ")")
    }
    return b.String()
}

func days(threshold float64) int { return int(threshold) }
