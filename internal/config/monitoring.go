/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
    "bufio"
    "bytes"
    "encoding/base64"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"

    "github.com/HamedShams/jira-pulse/internal/domain"
    "gopkg.in/yaml.v3"
)

// RuleKind is the closed set of rule checks. Unknown ids are rejected while
// decoding the document. The zero value is reserved so a rule without an id
// never passes for one of the real checks.
type RuleKind int

const (
    RuleUnset RuleKind = iota
    RuleAddedActiveSprint
    RuleEnquirySLA
    RuleSprintRollover
    RuleKeywordSLA

    NumRuleKinds = iota
)

var ruleKindNames = [NumRuleKinds]string{
    RuleAddedActiveSprint: "added_active_sprint",
    RuleEnquirySLA:        "enquiry_sla",
    RuleSprintRollover:    "sprint_rollover",
    RuleKeywordSLA:        "keyword_sla",
}

func (k RuleKind) String() string {
    if k == RuleUnset { return "unset" }
    if k < 0 || int(k) >= NumRuleKinds { return fmt.Sprintf("RuleKind(%d)", int(k)) }
    return ruleKindNames[k]
}

func ParseRuleKind(s string) (RuleKind, error) {
    s = strings.TrimSpace(s)
    if s == "" { return RuleUnset, errors.New("rule id is required") }
    for i, n := range ruleKindNames {
        if n != "" && n == s { return RuleKind(i), nil }
    }
    return RuleUnset, fmt.Errorf("unknown rule id %q", s)
}

func (k *RuleKind) UnmarshalYAML(value *yaml.Node) error {
    var s string
    if err := value.Decode(&s); err != nil { return err }
    kind, err := ParseRuleKind(s)
    if err != nil { return fmt.Errorf("line %d: %w", value.Line, err) }
    *k = kind
    return nil
}

func (k RuleKind) MarshalYAML() (any, error) { return k.String(), nil }

type RuleConfig struct {
    ID            RuleKind `yaml:"id"`
    Filter        string   `yaml:"filter"`
    ExcludeStatus []string `yaml:"exclude_status"`
    Threshold     float64  `yaml:"threshold"`
    Keyword       string   `yaml:"keyword"`
}

// UnmarshalYAML requires an explicit threshold. A missing key would
// otherwise decode as 0 and turn every rule into "report anything".
func (r *RuleConfig) UnmarshalYAML(value *yaml.Node) error {
    type plain RuleConfig
    var p plain
    if err := value.Decode(&p); err != nil { return err }
    if value.Kind == yaml.MappingNode && !hasKey(value, "threshold") {
        return fmt.Errorf("line %d: %s: threshold is required", value.Line, p.ID)
    }
    *r = RuleConfig(p)
    return nil
}

func hasKey(m *yaml.Node, key string) bool {
    for i := 0; i+1 < len(m.Content); i += 2 {
        if m.Content[i].Value == key { return true }
    }
    return false
}

type ProjectConfig struct {
    ID    string       `yaml:"id"`
    Name  string       `yaml:"name"`
    Rules []RuleConfig `yaml:"rules"`
}

// Frequency lists the weekdays (0 = Sunday) and hours at which the scheduled
// report fires.
type Frequency struct {
    DayOfWeek []int `yaml:"day_of_week"`
    HourOfDay []int `yaml:"hour_of_day"`
}

type APIKey struct {
    Key    string `yaml:"key"`
    Header string `yaml:"header"`
}

type AdhocRequest struct {
    APIKey        APIKey         `yaml:"api_key"`
    RequestSchema map[string]any `yaml:"request_schema"`
}

type RulesSection struct {
    Projects []ProjectConfig `yaml:"projects"`
}

type Monitoring struct {
    Rules        RulesSection `yaml:"rules"`
    Frequency    Frequency    `yaml:"frequency"`
    AdhocRequest AdhocRequest `yaml:"adhoc_request"`
}

func (m *Monitoring) Projects() []ProjectConfig { return m.Rules.Projects }

// DecodedAPIKey returns the configured API key in clear text. An empty string
// means the report endpoint is not key protected.
func (a AdhocRequest) DecodedAPIKey() (string, error) {
    if strings.TrimSpace(a.APIKey.Key) == "" { return "", nil }
    b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.APIKey.Key))
    if err != nil { return "", fmt.Errorf("adhoc_request.api_key.key: %w", err) }
    return string(b), nil
}

const (
    iniSection = "MONITORING-RULES"
    iniKey     = "CONFIG"
)

// LoadMonitoring reads and validates the monitoring document. YAML and JSON
// are accepted directly; .ini/.properties files carry the JSON document under
// [MONITORING-RULES] CONFIG.
func LoadMonitoring(path string) (*Monitoring, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, domain.NewStartupError(domain.FaultConfig, "read "+path, err)
    }
    switch strings.ToLower(filepath.Ext(path)) {
    case ".ini", ".properties":
        data, err = extractINI(data)
        if err != nil {
            return nil, domain.NewStartupError(domain.FaultConfig, "parse "+path, err)
        }
    }
    m, err := ParseMonitoring(data)
    if err != nil {
        return nil, domain.NewStartupError(domain.FaultConfig, "load "+path, err)
    }
    return m, nil
}

func ParseMonitoring(data []byte) (*Monitoring, error) {
    if len(bytes.TrimSpace(data)) == 0 { return nil, errors.New("empty monitoring document") }
    var m Monitoring
    if err := yaml.Unmarshal(data, &m); err != nil { return nil, fmt.Errorf("decode: %w", err) }
    if err := m.Validate(); err != nil { return nil, err }
    sort.Ints(m.Frequency.DayOfWeek)
    sort.Ints(m.Frequency.HourOfDay)
    return &m, nil
}

func (m *Monitoring) Validate() error {
    var errs []error
    if len(m.Rules.Projects) == 0 { errs = append(errs, errors.New("rules.projects: at least one project is required")) }
    seen := map[string]bool{}
    for i, p := range m.Rules.Projects {
        where := fmt.Sprintf("rules.projects[%d]", i)
        if strings.TrimSpace(p.ID) == "" { errs = append(errs, fmt.Errorf("%s.id: required", where)) }
        if seen[p.ID] { errs = append(errs, fmt.Errorf("%s.id: duplicate %q", where, p.ID)) }
        seen[p.ID] = true
        if strings.TrimSpace(p.Name) == "" { errs = append(errs, fmt.Errorf("%s.name: required", where)) }
        for j, r := range p.Rules {
            if err := r.Validate(); err != nil { errs = append(errs, fmt.Errorf("%s.rules[%d]: %w", where, j, err)) }
        }
    }
    if err := m.Frequency.Validate(); err != nil { errs = append(errs, err) }
    if _, err := m.AdhocRequest.DecodedAPIKey(); err != nil { errs = append(errs, err) }
    if m.AdhocRequest.APIKey.Key != "" && strings.TrimSpace(m.AdhocRequest.APIKey.Header) == "" {
        errs = append(errs, errors.New("adhoc_request.api_key.header: required when a key is set"))
    }
    return errors.Join(errs...)
}

func (r RuleConfig) Validate() error {
    if r.ID == RuleUnset { return errors.New("id is required") }
    if strings.TrimSpace(r.Filter) == "" { return fmt.Errorf("%s: filter is required", r.ID) }
    switch r.ID {
    case RuleAddedActiveSprint:
        if r.Threshold < 0 || r.Threshold > 1 { return fmt.Errorf("%s: threshold %v must be a fraction in [0,1]", r.ID, r.Threshold) }
    case RuleEnquirySLA, RuleSprintRollover, RuleKeywordSLA:
        if r.Threshold < 0 || r.Threshold != float64(int(r.Threshold)) {
            return fmt.Errorf("%s: threshold %v must be a non-negative whole number", r.ID, r.Threshold)
        }
        if r.ID == RuleKeywordSLA && strings.TrimSpace(r.Keyword) == "" { return fmt.Errorf("%s: keyword is required", r.ID) }
    default:
        return fmt.Errorf("unknown rule kind %d", int(r.ID))
    }
    return nil
}

func (f Frequency) Validate() error {
    var errs []error
    if len(f.DayOfWeek) == 0 { errs = append(errs, errors.New("frequency.day_of_week: at least one day is required")) }
    if len(f.HourOfDay) == 0 { errs = append(errs, errors.New("frequency.hour_of_day: at least one hour is required")) }
    for _, d := range f.DayOfWeek {
        if d < 0 || d > 6 { errs = append(errs, fmt.Errorf("frequency.day_of_week: %d out of range 0-6", d)) }
    }
    for _, h := range f.HourOfDay {
        if h < 0 || h > 23 { errs = append(errs, fmt.Errorf("frequency.hour_of_day: %d out of range 0-23", h)) }
    }
    return errors.Join(errs...)
}

// extractINI pulls the CONFIG value out of the [MONITORING-RULES] section,
// joining indented continuation lines.
func extractINI(data []byte) ([]byte, error) {
    sc := bufio.NewScanner(bytes.NewReader(data))
    sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
    inSection, inValue := false, false
    var b strings.Builder
    for sc.Scan() {
        line := sc.Text()
        trimmed := strings.TrimSpace(line)
        if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
            if inValue { break }
            inSection = strings.EqualFold(strings.Trim(trimmed, "[]"), iniSection)
            continue
        }
        if !inSection { continue }
        if inValue {
            if trimmed == "" || line[0] == ' ' || line[0] == '\t' {
                b.WriteString("\n " + trimmed)
                continue
            }
            break
        }
        if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") { continue }
        idx := strings.IndexAny(trimmed, "=:")
        if idx < 0 { continue }
        if strings.EqualFold(strings.TrimSpace(trimmed[:idx]), iniKey) {
            b.WriteString(strings.TrimSpace(trimmed[idx+1:]))
            inValue = true
        }
    }
    if err := sc.Err(); err != nil { return nil, err }
    if !inValue { return nil, fmt.Errorf("%s is not found under %s section", iniKey, iniSection) }
    return []byte(b.String()), nil
}
