/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "encoding/json"
    "fmt"
    "regexp"
    "strconv"
    "strings"
    "time"

    "github.com/HamedShams/jira-pulse/internal/domain"
)

type searchPage struct {
    Total  int `json:"total"`
    Issues []struct {
        Key    string                     `json:"key"`
        Fields map[string]json.RawMessage `json:"fields"`
    } `json:"issues"`
}

func decodeSearch(raw []byte, sprintField string) (domain.SearchResult, error) {
    var page searchPage
    if err := json.Unmarshal(raw, &page); err != nil { return domain.SearchResult{}, err }
    out := domain.SearchResult{Total: page.Total, Issues: make([]domain.Issue, 0, len(page.Issues))}
    for _, it := range page.Issues {
        is := domain.Issue{Key: it.Key}
        f := it.Fields
        if v, ok := f[FieldIssueType]; ok {
            var t struct{ Name string `json:"name"` }
            if json.Unmarshal(v, &t) == nil { is.Type = t.Name }
        }
        if v, ok := f[FieldStatus]; ok {
            var s struct{ Name string `json:"name"` }
            if json.Unmarshal(v, &s) == nil { is.Status = s.Name }
        }
        if v, ok := f[FieldSummary]; ok { _ = json.Unmarshal(v, &is.Summary) }
        if v, ok := f[FieldCreated]; ok {
            var s string
            if json.Unmarshal(v, &s) == nil { is.Created = parseJiraTime(s) }
        }
        if sprintField != "" {
            if v, ok := f[sprintField]; ok {
                sprints, err := decodeSprints(v)
                if err != nil { return domain.SearchResult{}, fmt.Errorf("issue %s: %w", it.Key, err) }
                is.Sprints = sprints
            }
        }
        out.Issues = append(out.Issues, is)
    }
    return out, nil
}

// decodeSprints accepts both the object form of Jira Cloud and the legacy
// "com.atlassian.greenhopper...Sprint@x[id=1,name=...,startDate=...]" strings
// of older Server instances.
func decodeSprints(raw json.RawMessage) ([]domain.Sprint, error) {
    if len(raw) == 0 || string(raw) == "null" { return nil, nil }
    var items []json.RawMessage
    if err := json.Unmarshal(raw, &items); err != nil { return nil, fmt.Errorf("sprint field: %w", err) }
    out := make([]domain.Sprint, 0, len(items))
    for _, item := range items {
        var legacy string
        if json.Unmarshal(item, &legacy) == nil {
            out = append(out, parseLegacySprint(legacy))
            continue
        }
        var obj struct {
            ID        int64  `json:"id"`
            Name      string `json:"name"`
            State     string `json:"state"`
            StartDate string `json:"startDate"`
        }
        if err := json.Unmarshal(item, &obj); err != nil { return nil, fmt.Errorf("sprint field: %w", err) }
        out = append(out, domain.Sprint{ID: obj.ID, Name: obj.Name, State: obj.State, StartDate: parseJiraTime(obj.StartDate)})
    }
    return out, nil
}

// legacySprintKey matches the attribute boundaries of the greenhopper
// toString form. Only known keys count, so a sprint name or goal holding a
// comma stays in one piece.
var legacySprintKey = regexp.MustCompile(`(?:^|,)(id|rapidViewId|state|name|goal|startDate|endDate|completeDate|activatedDate|sequence|autoStartStop|synced|incompleteIssuesDestinationId)=`)

func parseLegacySprint(s string) domain.Sprint {
    var sp domain.Sprint
    open := strings.Index(s, "[")
    if open < 0 || !strings.HasSuffix(s, "]") { return sp }
    body := s[open+1 : len(s)-1]
    locs := legacySprintKey.FindAllStringSubmatchIndex(body, -1)
    for i, loc := range locs {
        end := len(body)
        if i+1 < len(locs) { end = locs[i+1][0] }
        k, v := body[loc[2]:loc[3]], body[loc[1]:end]
        switch k {
        case "id":
            sp.ID, _ = strconv.ParseInt(v, 10, 64)
        case "name":
            sp.Name = v
        case "state":
            sp.State = v
        case "startDate":
            if v != "<null>" { sp.StartDate = parseJiraTime(v) }
        }
    }
    return sp
}

// parseJiraTime keeps the offset Jira reported so calendar dates stay in the
// sprint's own zone.
func parseJiraTime(s string) *time.Time {
    if s == "" { return nil }
    layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
    for _, l := range layouts {
        if t, err := time.Parse(l, s); err == nil { return &t }
    }
    return nil
}
