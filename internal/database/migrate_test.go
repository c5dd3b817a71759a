package database

import "testing"

func TestMigrationNamesUniqueAndOrdered(t *testing.T) {
	names := MigrationNames()
	if len(names) == 0 {
		t.Fatal("no migrations registered")
	}
	seen := make(map[string]bool, len(names))
	prev := ""
	for _, name := range names {
		if seen[name] {
			t.Errorf("duplicate migration name %q", name)
		}
		seen[name] = true
		if name <= prev {
			t.Errorf("migration %q out of order after %q", name, prev)
		}
		prev = name
	}
}

func TestMigrationsHaveStatements(t *testing.T) {
	for _, m := range migrations {
		if len(m.stmts) == 0 {
			t.Errorf("migration %q has no statements", m.name)
		}
	}
}
