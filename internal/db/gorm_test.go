package db

import (
	"log"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state", "genaibots.db")

	gdb, err := Open("sqlite", dbPath, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected parent dir to be created: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mssql", "x", nil); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open("postgres", "", nil); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestSQLiteFilePath(t *testing.T) {
	cases := []struct {
		dsn    string
		path   string
		isFile bool
	}{
		{dsn: ":memory:", isFile: false},
		{dsn: "file::memory:?cache=shared", isFile: false},
		{dsn: "file:test.db?mode=memory", isFile: false},
		{dsn: "data/bot.db?_pragma=busy_timeout(5000)", path: "data/bot.db", isFile: true},
		{dsn: "file:/var/lib/bot.db?cache=shared", path: "/var/lib/bot.db", isFile: true},
	}
	for _, tc := range cases {
		path, ok := sqliteFilePath(tc.dsn)
		if ok != tc.isFile || path != tc.path {
			t.Fatalf("sqliteFilePath(%q) = (%q, %v), want (%q, %v)", tc.dsn, path, ok, tc.path, tc.isFile)
		}
	}
}

func TestCloseNil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
