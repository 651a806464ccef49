package rules

import (
    "context"
    "errors"
    "strconv"
    "strings"
    "testing"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type call struct {
    JQL    string
    Max    int
    Fields []string
}

// fakeGateway answers the first matcher whose substring appears in the JQL.
type fakeGateway struct {
    answers []answer
    calls   []call
}

type answer struct {
    contains string
    res      domain.SearchResult
    err      error
}

func (g *fakeGateway) on(contains string, res domain.SearchResult, err error) *fakeGateway {
    g.answers = append(g.answers, answer{contains: contains, res: res, err: err})
    return g
}

func (g *fakeGateway) Search(_ context.Context, jql string, max int, fields ...string) (domain.SearchResult, error) {
    g.calls = append(g.calls, call{JQL: jql, Max: max, Fields: fields})
    for _, a := range g.answers {
        if strings.Contains(jql, a.contains) { return a.res, a.err }
    }
    return domain.SearchResult{}, nil
}

func (g *fakeGateway) SprintLink(id int64) string { return "https://jira/sprint/" + strconv.FormatInt(id, 10) }

func (g *fakeGateway) IssuesLink(keys []string) string { return "https://jira/issues/" + strings.Join(keys, ",") }

func issues(keys ...string) []domain.Issue {
    out := make([]domain.Issue, 0, len(keys))
    for _, k := range keys { out = append(out, domain.Issue{Key: k}) }
    return out
}

func sprintStart() *time.Time {
    t := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
    return &t
}

func growthRule(threshold float64) config.RuleConfig {
    return config.RuleConfig{ID: config.RuleAddedActiveSprint, Filter: "Core board", ExcludeStatus: []string{"Done", "Won't Do"}, Threshold: threshold}
}

func TestRegistry_CoversEveryKind(t *testing.T) {
    for i := int(config.RuleAddedActiveSprint); i < config.NumRuleKinds; i++ {
        r, err := For(config.RuleKind(i))
        require.NoError(t, err)
        assert.Equal(t, config.RuleKind(i), r.Kind())
    }
    _, err := For(config.RuleUnset)
    assert.Error(t, err)
    _, err = For(config.RuleKind(config.NumRuleKinds))
    assert.Error(t, err)
}

func TestBaseJQL(t *testing.T) {
    assert.Equal(t, `filter = "Core board"`, baseJQL(config.RuleConfig{Filter: "Core board"}))
    assert.Equal(t, `filter = "My \"quoted\" filter" and status not in ("Done","In Review")`,
        baseJQL(config.RuleConfig{Filter: `My "quoted" filter`, ExcludeStatus: []string{"Done", " ", "In Review"}}))
}

func TestSprintGrowth_TriggersAtExactThreshold(t *testing.T) {
    gw := (&fakeGateway{}).
        on("createdDate >", domain.SearchResult{Total: 2, Issues: []domain.Issue{{Key: "C-9", Type: "Story"}, {Key: "C-8", Type: "Bug"}}}, nil).
        on("openSprints()", domain.SearchResult{Total: 10, Issues: []domain.Issue{{Key: "C-1", Sprints: []domain.Sprint{
            {ID: 3, Name: "Sprint 3", State: "closed", StartDate: sprintStart()},
            {ID: 4, Name: "Sprint 4", State: "active", StartDate: sprintStart()},
        }}}}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.2), gw)
    require.NoError(t, err)
    require.NotNil(t, f)
    assert.Equal(t, "added_active_sprint", f.Rule)
    assert.Equal(t, "Number of newly added tickets after the start of sprint [Sprint 4](https://jira/sprint/4) has reached 20%. Total tickets at start of the sprint: 8. Total newly added tickets: 2, which comprise of 1 Bug, 1 Story.", f.Text)

    require.Len(t, gw.calls, 2)
    assert.Equal(t, `filter = "Core board" and status not in ("Done","Won't Do") and sprint in openSprints()`, gw.calls[0].JQL)
    assert.Equal(t, 1, gw.calls[0].Max)
    assert.Equal(t, []string{domain.FieldSprint}, gw.calls[0].Fields)
    assert.Equal(t, gw.calls[0].JQL+` and createdDate > "2026-10-05"`, gw.calls[1].JQL)
    assert.Equal(t, 200, gw.calls[1].Max)
}

func TestSprintGrowth_BelowThreshold(t *testing.T) {
    gw := (&fakeGateway{}).
        on("createdDate >", domain.SearchResult{Total: 3, Issues: issues("a", "b", "c")}, nil).
        on("openSprints()", domain.SearchResult{Total: 10, Issues: []domain.Issue{{Key: "C-1", Sprints: []domain.Sprint{{ID: 4, Name: "S4", State: "active", StartDate: sprintStart()}}}}}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.31), gw)
    require.NoError(t, err)
    assert.Nil(t, f)
}

func TestSprintGrowth_FractionBoundaryIsInclusive(t *testing.T) {
    gw := (&fakeGateway{}).
        on("createdDate >", domain.SearchResult{Total: 3, Issues: issues("a", "b", "c")}, nil).
        on("openSprints()", domain.SearchResult{Total: 10, Issues: []domain.Issue{{Key: "C-1", Sprints: []domain.Sprint{{ID: 4, Name: "S4", State: "active", StartDate: sprintStart()}}}}}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.3), gw)
    require.NoError(t, err)
    require.NotNil(t, f)
    assert.Contains(t, f.Text, "has reached 30%")
}

func TestSprintGrowth_NoActiveSprint(t *testing.T) {
    gw := (&fakeGateway{}).on("openSprints()", domain.SearchResult{}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.1), gw)
    require.NoError(t, err)
    assert.Nil(t, f)
    assert.Len(t, gw.calls, 1)
}

func TestSprintGrowth_SprintWithoutStartDate(t *testing.T) {
    gw := (&fakeGateway{}).on("openSprints()", domain.SearchResult{Total: 4, Issues: []domain.Issue{{Key: "C-1", Sprints: []domain.Sprint{{ID: 4, Name: "S4", State: "future"}}}}}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.1), gw)
    require.NoError(t, err)
    assert.Nil(t, f)
}

func TestSprintGrowth_SecondQueryFailurePropagates(t *testing.T) {
    boom := errors.New("jira down")
    gw := (&fakeGateway{}).
        on("createdDate >", domain.SearchResult{}, boom).
        on("openSprints()", domain.SearchResult{Total: 10, Issues: []domain.Issue{{Key: "C-1", Sprints: []domain.Sprint{{ID: 4, Name: "S4", State: "active", StartDate: sprintStart()}}}}}, nil)

    f, err := Evaluate(context.Background(), growthRule(0.1), gw)
    require.ErrorIs(t, err, boom)
    assert.Nil(t, f)
    assert.Contains(t, err.Error(), "added_active_sprint")
}

func TestAgingSLA(t *testing.T) {
    rc := config.RuleConfig{ID: config.RuleEnquirySLA, Filter: "BAU", Threshold: 5}

    gw := (&fakeGateway{}).on("startOfDay(-5)", domain.SearchResult{Total: 2, Issues: issues("B-1", "B-2")}, nil)
    f, err := Evaluate(context.Background(), rc, gw)
    require.NoError(t, err)
    require.NotNil(t, f)
    assert.Equal(t, "There are total 2 [BAU enquiries](https://jira/issues/B-1,B-2) aged more than 5 days.", f.Text)
    assert.Equal(t, `filter = "BAU" and resolution = Unresolved and createdDate < startOfDay(-5)`, gw.calls[0].JQL)

    f, err = Evaluate(context.Background(), rc, &fakeGateway{})
    require.NoError(t, err)
    assert.Nil(t, f)
}

func TestSprintRollover_CountsIssuesAtThreshold(t *testing.T) {
    rc := config.RuleConfig{ID: config.RuleSprintRollover, Filter: "Core", Threshold: 2}
    gw := (&fakeGateway{}).on("closedSprints()", domain.SearchResult{Total: 2, Issues: []domain.Issue{
        {Key: "C-1", Sprints: []domain.Sprint{{ID: 1}, {ID: 2}}},
        {Key: "C-2", Sprints: []domain.Sprint{{ID: 2}}},
    }}, nil)

    f, err := Evaluate(context.Background(), rc, gw)
    require.NoError(t, err)
    require.NotNil(t, f)
    assert.Equal(t, "There are total 1 unresolved [issues](https://jira/issues/C-1) that have been rolling over for 2 or more sprints.", f.Text)
    assert.Equal(t, []string{domain.FieldSprint}, gw.calls[0].Fields)
}

func TestSprintRollover_NoOffenders(t *testing.T) {
    rc := config.RuleConfig{ID: config.RuleSprintRollover, Filter: "Core", Threshold: 3}
    gw := (&fakeGateway{}).on("closedSprints()", domain.SearchResult{Total: 1, Issues: []domain.Issue{
        {Key: "C-1", Sprints: []domain.Sprint{{ID: 1}, {ID: 2}}},
    }}, nil)

    f, err := Evaluate(context.Background(), rc, gw)
    require.NoError(t, err)
    assert.Nil(t, f)
}

func TestKeywordSLA(t *testing.T) {
    rc := config.RuleConfig{ID: config.RuleKeywordSLA, Filter: "Ops", Keyword: "outage", Threshold: 2}
    gw := (&fakeGateway{}).on(`summary ~ "outage"`, domain.SearchResult{Total: 1, Issues: issues("O-7")}, nil)

    f, err := Evaluate(context.Background(), rc, gw)
    require.NoError(t, err)
    require.NotNil(t, f)
    assert.Equal(t, "There are total 1 [issues](https://jira/issues/O-7) containing keyword 'outage' not yet closed for more than 2 days.", f.Text)
    assert.Equal(t, `filter = "Ops" and resolution = Unresolved and summary ~ "outage" and createdDate < startOfDay(-2)`, gw.calls[0].JQL)
}

func TestEvaluate_GatewayErrorIsNotZeroMatches(t *testing.T) {
    boom := errors.New("timeout")
    for i := int(config.RuleAddedActiveSprint); i < config.NumRuleKinds; i++ {
        rc := config.RuleConfig{ID: config.RuleKind(i), Filter: "X", Keyword: "k", Threshold: 1}
        f, err := Evaluate(context.Background(), rc, (&fakeGateway{}).on("filter", domain.SearchResult{}, boom))
        assert.ErrorIs(t, err, boom, rc.ID.String())
        assert.Nil(t, f)
    }
}
