package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaDeclaresTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{"users", "role_records", "audit_events"} {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, ddl, "BEFORE UPDATE OR DELETE ON audit_events")
	assert.Equal(t, 4, strings.Count(ddl, "CREATE INDEX IF NOT EXISTS audit_events_"))
}
