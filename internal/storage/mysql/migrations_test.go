package mysql

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	source := fstest.MapFS{
		"0002_indexes.sql": {Data: []byte("CREATE INDEX a ON t (a);\n\nCREATE INDEX b ON t (b);")},
		"0001_init.sql":    {Data: []byte("CREATE TABLE t (a INT, b INT);")},
		"0003_empty.sql":   {Data: []byte("  ;  ")},
		"README.md":        {Data: []byte("not a migration")},
	}

	files, err := loadMigrationFiles(source)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(files))
	}
	if files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected order: %s, %s", files[0].version, files[1].version)
	}
	if len(files[1].statements) != 2 {
		t.Fatalf("expected two statements, got %v", files[1].statements)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_trade_jobs.sql": "0001",
		"0007.sql":            "0007",
		"plain":               "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestEmbeddedMigrationsCreateTradeJobs(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no embedded migrations")
	}
	if !strings.Contains(files[0].statements[0], "trade_jobs") {
		t.Fatalf("first migration does not create trade_jobs: %s", files[0].statements[0])
	}
}

func TestSplitSQLStatementsSkipsComments(t *testing.T) {
	content := "-- trade jobs\nCREATE TABLE a (x INT);\n  -- index\nCREATE INDEX i ON a (x); INSERT INTO a VALUES (1);\n"
	got := splitSQLStatements(content)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %q", got)
	}
	for _, stmt := range got {
		if strings.Contains(stmt, "--") {
			t.Fatalf("comment leaked into %q", stmt)
		}
	}
}

func TestMigrationChecksumTracksContent(t *testing.T) {
	a, _ := loadMigrationFiles(fstest.MapFS{"0001_a.sql": {Data: []byte("CREATE TABLE t (a INT);")}})
	b, _ := loadMigrationFiles(fstest.MapFS{"0001_a.sql": {Data: []byte("CREATE TABLE t (a BIGINT);")}})
	if len(a) != 1 || len(b) != 1 || a[0].checksum == b[0].checksum || len(a[0].checksum) != 64 {
		t.Fatalf("checksums should differ per content: %+v %+v", a, b)
	}
}
