package audit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field match modes for SeverityRules.
const (
	MatchSubstring = "substring"
	MatchExact     = "exact"
)

// SeverityRules classifies data changes. Rules run in order and the first
// match wins:
//
//  1. a changed field matches CriticalFields: Critical
//  2. the resource type is in HighImpactResources: High
//  3. more than ManyChangesThreshold fields changed: Medium
//  4. otherwise Low
//
// The outcome is then raised to Floor when it ranks below it. The default
// table sets Floor to Medium, so rule 4 never yields Low and rules 3 and 4
// produce the same result; set floor: LOW to get Low for small changes.
type SeverityRules struct {
	CriticalFields       []string `yaml:"critical_fields"`
	FieldMatch           string   `yaml:"field_match"`
	HighImpactResources  []string `yaml:"high_impact_resources"`
	ManyChangesThreshold int      `yaml:"many_changes_threshold"`
	Floor                Severity `yaml:"floor"`
}

// DefaultSeverityRules returns the stock rule table.
func DefaultSeverityRules() SeverityRules {
	return SeverityRules{
		CriticalFields:       []string{"role", "permissions", "isActive", "password", "email"},
		FieldMatch:           MatchSubstring,
		HighImpactResources:  []string{"USER", "ADMIN", "SYSTEM"},
		ManyChangesThreshold: 5,
		Floor:                SeverityMedium,
	}
}

// ParseSeverityRules reads a YAML rule table. Omitted keys keep their
// default values.
func ParseSeverityRules(data []byte) (SeverityRules, error) {
	rules := DefaultSeverityRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return SeverityRules{}, fmt.Errorf("audit: parse severity rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return SeverityRules{}, err
	}
	return rules, nil
}

// LoadSeverityRules reads a YAML rule table from path.
func LoadSeverityRules(path string) (SeverityRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeverityRules{}, fmt.Errorf("audit: read severity rules: %w", err)
	}
	return ParseSeverityRules(data)
}

// Validate checks the table for values Classify cannot honour.
func (r SeverityRules) Validate() error {
	switch r.FieldMatch {
	case MatchSubstring, MatchExact:
	default:
		return fmt.Errorf("audit: unknown field_match %q", r.FieldMatch)
	}
	if r.ManyChangesThreshold < 0 {
		return fmt.Errorf("audit: many_changes_threshold must not be negative")
	}
	if r.Floor != "" && !r.Floor.Valid() {
		return fmt.Errorf("audit: unknown floor %q", r.Floor)
	}
	return nil
}

// Classify grades a change to resourceType.
func (r SeverityRules) Classify(resourceType string, changes ChangeSet) Severity {
	severity := r.classify(resourceType, changes)
	if r.Floor.Rank() > severity.Rank() {
		return r.Floor
	}
	return severity
}

func (r SeverityRules) classify(resourceType string, changes ChangeSet) Severity {
	for field := range changes {
		if r.isCriticalField(field) {
			return SeverityCritical
		}
	}
	upper := strings.ToUpper(resourceType)
	for _, res := range r.HighImpactResources {
		if strings.ToUpper(res) == upper {
			return SeverityHigh
		}
	}
	if len(changes) > r.ManyChangesThreshold {
		return SeverityMedium
	}
	return SeverityLow
}

func (r SeverityRules) isCriticalField(field string) bool {
	lower := strings.ToLower(field)
	for _, critical := range r.CriticalFields {
		c := strings.ToLower(critical)
		if r.FieldMatch == MatchExact {
			if lower == c {
				return true
			}
			continue
		}
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
