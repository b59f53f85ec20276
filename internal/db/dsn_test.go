package db

import (
	"strings"
	"testing"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		dsn, name, want string
	}{
		{"postgres://u:p@localhost:5432/google_maps?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/postgres?sslmode=disable"},
		{"postgresql://u@db/x", "/y", "postgresql://u@db/y"},
		{"u@localhost/x", "z", "postgres://u@localhost/z"},
	}
	for _, tt := range tests {
		got, err := WithDBName(tt.dsn, tt.name)
		if err != nil {
			t.Errorf("WithDBName(%q): %v", tt.dsn, err)
			continue
		}
		if got != tt.want {
			t.Errorf("WithDBName(%q, %q) = %q, want %q", tt.dsn, tt.name, got, tt.want)
		}
	}
}

func TestWithDBNameRejects(t *testing.T) {
	for _, dsn := range []string{"", "mysql://u@h/db"} {
		if _, err := WithDBName(dsn, "x"); err == nil {
			t.Errorf("WithDBName(%q) should fail", dsn)
		}
	}
}

func TestDBName(t *testing.T) {
	name, err := DBName("postgres://google_user@127.0.0.1:5432/google_maps?sslmode=disable")
	if err != nil || name != "google_maps" {
		t.Errorf("DBName = %q, %v", name, err)
	}
	if _, err := DBName("postgres://google_user@127.0.0.1:5432"); err == nil {
		t.Error("DBName without a path should fail")
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		in, name, driver string
	}{
		{"", Postgres, "pgx"},
		{"postgresql", Postgres, "pgx"},
		{"SQLite3", SQLite, "sqlite"},
		{"mariadb", MySQL, "mysql"},
	}
	for _, tt := range tests {
		d, err := DialectFor(tt.in)
		if err != nil {
			t.Errorf("DialectFor(%q): %v", tt.in, err)
			continue
		}
		if d.Name != tt.name || d.DriverName != tt.driver {
			t.Errorf("DialectFor(%q) = %s/%s", tt.in, d.Name, d.DriverName)
		}
	}
	if _, err := DialectFor("clickhouse"); err == nil {
		t.Error("DialectFor(clickhouse) should fail")
	}
}

func TestInsertIgnore(t *testing.T) {
	pg, _ := DialectFor(Postgres)
	my, _ := DialectFor(MySQL)

	got := pg.InsertIgnore("locations", "location_id", "latitude")
	if want := "INSERT INTO locations (location_id, latitude) VALUES (:location_id, :latitude) ON CONFLICT DO NOTHING"; got != want {
		t.Errorf("postgres = %q", got)
	}
	got = my.InsertIgnore("locations", "location_id")
	if want := "INSERT IGNORE INTO locations (location_id) VALUES (:location_id)"; got != want {
		t.Errorf("mysql = %q", got)
	}
}

func TestSchemaStatementsOrder(t *testing.T) {
	for _, name := range []string{Postgres, SQLite, MySQL} {
		d, _ := DialectFor(name)
		drops := d.dropStatements()
		if !strings.Contains(drops[0], "VIEW") {
			t.Errorf("%s: view must be dropped first, got %q", name, drops[0])
		}
		if !strings.HasSuffix(drops[len(drops)-1], " time") {
			t.Errorf("%s: time must be dropped last, got %q", name, drops[len(drops)-1])
		}
		creates := d.createTableStatements()
		for i, table := range Tables {
			if !strings.Contains(creates[i], "EXISTS "+table+" (") {
				t.Errorf("%s: statement %d does not create %s", name, i, table)
			}
		}
	}
}

func TestSqliteDSN(t *testing.T) {
	tests := map[string]string{
		"google_maps.db":               "google_maps.db?_pragma=foreign_keys(1)",
		"file:x.db?cache=shared":       "file:x.db?cache=shared&_pragma=foreign_keys(1)",
		"x.db?_pragma=foreign_keys(0)": "x.db?_pragma=foreign_keys(0)",
	}
	for in, want := range tests {
		if got := sqliteDSN(in); got != want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
