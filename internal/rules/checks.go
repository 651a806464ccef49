/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package rules

import (
    "context"
    "fmt"
    "math"
    "sort"
    "strconv"
    "strings"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
)

const (
    sprintSamplePage = 1
    addedPage        = 200
    listPage         = 100
)

// SprintGrowth flags an open sprint whose scope grew by at least threshold
// (a fraction) after it started.
type SprintGrowth struct{}

func (SprintGrowth) Kind() config.RuleKind { return config.RuleAddedActiveSprint }

func (r SprintGrowth) Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error) {
    jql := baseJQL(rc) + " and sprint in openSprints()"
    sample, err := gw.Search(ctx, jql, sprintSamplePage, domain.FieldSprint)
    if err != nil { return nil, err }
    if len(sample.Issues) == 0 { return nil, nil }

    // The first returned issue decides which sprint is reported on.
    sprint, ok := activeSprint(sample.Issues[0].Sprints)
    if !ok || sprint.StartDate == nil { return nil, nil }
    total := sample.Total
    if total <= 0 { return nil, nil }

    start := sprint.StartDate.Format("2006-01-02")
    added, err := gw.Search(ctx, jql+" and createdDate > "+quote(start), addedPage, domain.FieldIssueType)
    if err != nil { return nil, err }
    if float64(added.Total)/float64(total) < rc.Threshold { return nil, nil }

    perType := map[string]int{}
    for _, is := range added.Issues { perType[is.Type]++ }
    types := make([]string, 0, len(perType))
    for t := range perType { types = append(types, t) }
    sort.Strings(types)
    parts := make([]string, 0, len(types))
    for _, t := range types { parts = append(parts, fmt.Sprintf("%d %s", perType[t], t)) }

    breakdown := "."
    if len(parts) > 0 { breakdown = ", which comprise of " + strings.Join(parts, ", ") + "." }
    return found(r.Kind(),
        "Number of newly added tickets after the start of sprint [%s](%s) has reached %s%%. Total tickets at start of the sprint: %d. Total newly added tickets: %d%s",
        sprint.Name, gw.SprintLink(sprint.ID), percent(rc.Threshold), total-added.Total, added.Total, breakdown), nil
}

func activeSprint(sprints []domain.Sprint) (domain.Sprint, bool) {
    for _, s := range sprints {
        if strings.EqualFold(s.State, "active") { return s, true }
    }
    if len(sprints) == 0 { return domain.Sprint{}, false }
    return sprints[0], true
}

func percent(f float64) string { return strconv.FormatFloat(math.Round(f*10000)/100, 'f', -1, 64) }

// AgingSLA flags unresolved issues older than threshold days.
type AgingSLA struct{}

func (AgingSLA) Kind() config.RuleKind { return config.RuleEnquirySLA }

func (r AgingSLA) Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error) {
    n := days(rc.Threshold)
    jql := fmt.Sprintf("%s and resolution = Unresolved and createdDate < startOfDay(-%d)", baseJQL(rc), n)
    res, err := gw.Search(ctx, jql, listPage)
    if err != nil { return nil, err }
    if res.Total == 0 { return nil, nil }
    return found(r.Kind(), "There are total %d [BAU enquiries](%s) aged more than %d days.",
        res.Total, gw.IssuesLink(res.Keys()), n), nil
}

// SprintRollover flags unresolved issues carried over into threshold or more
// sprints.
type SprintRollover struct{}

func (SprintRollover) Kind() config.RuleKind { return config.RuleSprintRollover }

func (r SprintRollover) Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error) {
    n := days(rc.Threshold)
    jql := baseJQL(rc) + " and resolution = Unresolved and sprint in openSprints() and sprint in closedSprints()"
    res, err := gw.Search(ctx, jql, listPage, domain.FieldSprint)
    if err != nil { return nil, err }
    var offenders []string
    for _, is := range res.Issues {
        if len(is.Sprints) >= n { offenders = append(offenders, is.Key) }
    }
    if len(offenders) == 0 { return nil, nil }
    return found(r.Kind(), "There are total %d unresolved [issues](%s) that have been rolling over for %d or more sprints.",
        len(offenders), gw.IssuesLink(offenders), n), nil
}

// KeywordSLA flags unresolved issues whose summary matches a keyword and that
// are older than threshold days.
type KeywordSLA struct{}

func (KeywordSLA) Kind() config.RuleKind { return config.RuleKeywordSLA }

func (r KeywordSLA) Evaluate(ctx context.Context, rc config.RuleConfig, gw Gateway) (*domain.Finding, error) {
    n := days(rc.Threshold)
    jql := fmt.Sprintf("%s and resolution = Unresolved and summary ~ %s and createdDate < startOfDay(-%d)",
        baseJQL(rc), quote(rc.Keyword), n)
    res, err := gw.Search(ctx, jql, listPage)
    if err != nil { return nil, err }
    if res.Total == 0 { return nil, nil }
    return found(r.Kind(), "There are total %d [issues](%s) containing keyword '%s' not yet closed for more than %d days.",
        res.Total, gw.IssuesLink(res.Keys()), rc.Keyword, n), nil
}
