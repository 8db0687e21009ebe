package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The Postgres stores hardcode column names in their SQL. These tests pin the
// bootstrap DDL to those names and to the nullability the stores rely on, so
// a schema edit cannot silently break the production path.

func tableDDL(t *testing.T, table string) string {
	t.Helper()
	prefix := "CREATE TABLE IF NOT EXISTS " + table + " ("
	for _, stmt := range schemaStatements {
		if strings.HasPrefix(strings.TrimSpace(stmt), prefix) {
			return stmt
		}
	}
	t.Fatalf("no CREATE TABLE statement for %s", table)
	return ""
}

func columnLine(t *testing.T, ddl, column string) string {
	t.Helper()
	for _, line := range strings.Split(ddl, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) > 1 && fields[0] == column {
			return line
		}
	}
	t.Fatalf("column %s not declared:\n%s", column, ddl)
	return ""
}

func TestSessionsSchemaMatchesStore(t *testing.T) {
	ddl := tableDDL(t, "sessions")

	for _, col := range []string{
		"tenant_id", "channel_id", "thread_id", "step", "pending_action",
		"pending_payload", "ui_version", "default_intent",
		"default_intent_expiry", "last_event_id", "last_event_type",
		"created_at", "updated_at",
	} {
		columnLine(t, ddl, col)
	}

	// The store writes NULL into these via nullIfEmpty/nullIfZeroTime.
	for _, col := range []string{"default_intent", "default_intent_expiry", "last_event_id", "last_event_type"} {
		require.NotContains(t, columnLine(t, ddl, col), "NOT NULL",
			"store saves NULL into %s", col)
	}

	require.Contains(t, ddl, "PRIMARY KEY (tenant_id, thread_id)")
}

func TestFactsSchemaMatchesStore(t *testing.T) {
	ddl := tableDDL(t, "facts")

	for _, col := range []string{
		"tenant_id", "canonical_id", "fact_type", "scope", "scope_id",
		"text", "confidence", "source_ts", "created_at", "updated_at",
	} {
		columnLine(t, ddl, col)
	}

	// Upsert conflicts on (tenant_id, canonical_id); the merge semantics
	// depend on that pair being the row identity.
	require.Contains(t, ddl, "PRIMARY KEY (tenant_id, canonical_id)")
}

func TestPendingBatchesSchemaMatchesStore(t *testing.T) {
	ddl := tableDDL(t, "pending_batches")

	for _, col := range []string{"tenant_id", "thread_id", "payload", "updated_at"} {
		columnLine(t, ddl, col)
	}
	require.Contains(t, ddl, "PRIMARY KEY (tenant_id, thread_id)")
}

func TestRemainingSchemasMatchStores(t *testing.T) {
	cases := map[string][]string{
		"processed_events": {"tenant_id", "event_id", "processed_at"},
		"reviews":          {"tenant_id", "thread_id", "kind", "state", "version", "summary", "patches", "created_at", "updated_at"},
		"review_artifacts": {"id", "tenant_id", "source_thread_id", "kind", "summary", "version", "frozen_at"},
	}
	for table, cols := range cases {
		ddl := tableDDL(t, table)
		for _, col := range cols {
			columnLine(t, ddl, col)
		}
	}
}
