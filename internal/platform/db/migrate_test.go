package db

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_payroll.sql": {Data: []byte("CREATE TABLE b();")},
		"0001_init.sql":    {Data: []byte("CREATE TABLE a();")},
		"README.md":        {Data: []byte("notes")},
		"old/0000.sql":     {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].Version != "0001_init" || got[1].Version != "0002_payroll" {
		t.Fatalf("unexpected order %v", got)
	}
	if got[0].SQL != "CREATE TABLE a();" {
		t.Fatalf("unexpected sql %q", got[0].SQL)
	}
}
