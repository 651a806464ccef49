package domain

import "time"

// Logical issue fields understood by the query gateway. FieldSprint maps to
// an instance specific custom field.
const (
    FieldSprint    = "Sprint"
    FieldIssueType = "issuetype"
    FieldSummary   = "summary"
    FieldStatus    = "status"
    FieldCreated   = "created"
)

type Sprint struct {
    ID        int64
    Name      string
    State     string
    StartDate *time.Time
}

type Issue struct {
    Key       string
    Type      string
    Summary   string
    Status    string
    Created   *time.Time
    Sprints   []Sprint
}

// SearchResult is one page of a JQL search. Total counts every match, Issues
// holds at most the requested page size.
type SearchResult struct {
    Total  int
    Issues []Issue
}

func (r SearchResult) Keys() []string {
    out := make([]string, 0, len(r.Issues))
    for _, is := range r.Issues { out = append(out, is.Key) }
    return out
}

// Finding is a positive detection of one rule. A nil *Finding means the rule
// is satisfied.
type Finding struct {
    Rule string
    Text string
}

type RunRecord struct {
    ID         string     `json:"id"`
    StartedAt  time.Time  `json:"started_at"`
    FinishedAt *time.Time `json:"finished_at"`
    Trigger    string     `json:"trigger"`
    Projects   int        `json:"projects"`
    Findings   int        `json:"findings"`
    Failures   int        `json:"failures"`
    Sent       bool       `json:"sent"`
    Success    bool       `json:"success"`
    Error      string     `json:"error"`
}
