package db

import (
	"strings"
	"testing"
)

func TestMigrateCreatesBrokerTables(t *testing.T) {
	conn := OpenTest(t)

	for _, table := range []string{"tokens", "batch_jobs", "telemetry_samples", "settings"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
	for _, column := range []string{"provisional_cost", "final_cost", "final_charged", "owner_token"} {
		if !conn.Migrator().HasColumn("batch_jobs", column) {
			t.Fatalf("batch_jobs missing column %s", column)
		}
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
}

func TestDetectDialectFromDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/broker":     DialectPostgres,
		"host=localhost user=broker dbname=broker": DialectPostgres,
		"file:data/broker.db":                      DialectSQLite,
		"sqlite://data/broker.db":                  DialectSQLite,
		"broker.db":                                DialectSQLite,
	}
	for dsn, want := range cases {
		got, err := detectDialectFromDSN(dsn)
		if err != nil {
			t.Fatalf("detect %q: %v", dsn, err)
		}
		if got != want {
			t.Fatalf("detect %q: expected %s, got %s", dsn, want, got)
		}
	}
	if _, err := detectDialectFromDSN("mysql://localhost/broker"); err == nil {
		t.Fatalf("expected error for unsupported dsn")
	}
}

func TestEnsureSQLiteParamsKeepsExplicitValues(t *testing.T) {
	got := ensureSQLiteParams("file:broker.db?_pragma=busy_timeout(100)")
	if strings.Count(got, "busy_timeout") != 1 {
		t.Fatalf("expected explicit busy_timeout kept once, got %q", got)
	}
	for _, want := range []string{"journal_mode(WAL)", "_txlock=immediate", "&"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestSQLitePathFromDSN(t *testing.T) {
	if got := sqlitePathFromDSN("file:data/broker.db?_txlock=immediate"); got != "data/broker.db" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := sqlitePathFromDSN("file:mem?mode=memory&cache=shared"); got != "" {
		t.Fatalf("expected no path for memory dsn, got %q", got)
	}
	if got := sqlitePathFromDSN("/var/lib/broker/broker.db?_txlock=immediate"); got != "/var/lib/broker/broker.db" {
		t.Fatalf("unexpected path %q", got)
	}
}
