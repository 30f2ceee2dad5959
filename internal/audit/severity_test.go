package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeSetOf(fields ...string) ChangeSet {
	cs := ChangeSet{}
	for _, f := range fields {
		cs[f] = Change{Before: "a", After: "b"}
	}
	return cs
}

func TestClassifyDefaultRules(t *testing.T) {
	rules := DefaultSeverityRules()
	cases := []struct {
		name     string
		resource string
		changes  ChangeSet
		want     Severity
	}{
		{"critical field wins over count", "ORDER", changeSetOf("role", "a", "b", "c", "d", "e", "f"), SeverityCritical},
		{"password", "CUSTOMER", changeSetOf("password"), SeverityCritical},
		{"substring match", "ORDER", changeSetOf("primaryEmail"), SeverityCritical},
		{"case insensitive", "ORDER", changeSetOf("ISACTIVE"), SeverityCritical},
		{"high impact resource", "user", changeSetOf("name"), SeverityHigh},
		{"system resource", "SYSTEM", changeSetOf("theme"), SeverityHigh},
		{"many changes", "ORDER", changeSetOf("a", "b", "c", "d", "e", "f"), SeverityMedium},
		{"single change raised to floor", "ORDER", changeSetOf("status"), SeverityMedium},
		{"empty change set", "ORDER", ChangeSet{}, SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rules.Classify(tc.resource, tc.changes))
		})
	}
}

func TestClassifyLiteralFloor(t *testing.T) {
	rules, err := ParseSeverityRules([]byte("floor: low\n"))
	require.NoError(t, err)
	assert.Equal(t, SeverityLow, rules.Classify("ORDER", changeSetOf("status")))
	assert.Equal(t, SeverityMedium, rules.Classify("ORDER", changeSetOf("a", "b", "c", "d", "e", "f")))
}

func TestClassifyExactMatch(t *testing.T) {
	rules, err := ParseSeverityRules([]byte("field_match: exact\n"))
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, rules.Classify("ORDER", changeSetOf("primaryEmail")))
	assert.Equal(t, SeverityCritical, rules.Classify("ORDER", changeSetOf("Email")))
}

func TestLoadSeverityRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "critical_fields: [role, mfa]\nhigh_impact_resources: [BILLING]\nmany_changes_threshold: 2\nfloor: LOW\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadSeverityRules(path)
	require.NoError(t, err)
	assert.Equal(t, MatchSubstring, rules.FieldMatch)
	assert.Equal(t, SeverityCritical, rules.Classify("ORDER", changeSetOf("mfaEnabled")))
	assert.Equal(t, SeverityHigh, rules.Classify("billing", changeSetOf("plan")))
	assert.Equal(t, SeverityMedium, rules.Classify("ORDER", changeSetOf("a", "b", "c")))
	assert.Equal(t, SeverityLow, rules.Classify("USER", changeSetOf("name")))
}

func TestParseSeverityRulesRejectsBadValues(t *testing.T) {
	_, err := ParseSeverityRules([]byte("floor: urgent\n"))
	assert.Error(t, err)
	_, err = ParseSeverityRules([]byte("field_match: regex\n"))
	assert.Error(t, err)
	_, err = ParseSeverityRules([]byte("many_changes_threshold: -1\n"))
	assert.Error(t, err)
}
