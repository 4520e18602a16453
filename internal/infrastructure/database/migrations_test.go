package database

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useMigrations swaps the shipped migrations for one test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = fsys, dir
}

func useTestMigrations(t *testing.T) {
	t.Helper()
	useMigrations(t, testMigrationsFS, "testdata")
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"test_rundowns", "test_parts"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	status, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if !status.UpToDate() || len(status.Applied) != 2 || status.Version != "20261002_080000" {
		t.Errorf("status = %+v", status)
	}
	if a := status.Applied[0]; a.AppliedAt.IsZero() || a.Name != "create_test_rundowns" {
		t.Errorf("first applied = %+v", a)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestSchemaStatus_Fresh(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	status, err := db.SchemaStatus(context.Background())
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if status.Version != "" || len(status.Applied) != 0 || len(status.Pending) != 2 {
		t.Fatalf("status = %+v", status)
	}
	first := status.Pending[0]
	if first.Version != "20261001_080000" || first.Name != "create_test_rundowns" || first.Up == "" || first.Down == "" {
		t.Errorf("first pending = %+v", first)
	}
}

func TestRollback(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	reverted, err := db.Rollback(ctx, 1)
	if err != nil {
		t.Fatalf("Rollback(1) error = %v", err)
	}
	if len(reverted) != 1 || reverted[0] != "20261002_080000" {
		t.Errorf("reverted = %v", reverted)
	}
	if tableExists(t, db, "test_parts") || !tableExists(t, db, "test_rundowns") {
		t.Error("rollback of one step touched the wrong tables")
	}

	// More steps than applied stops at an empty schema.
	reverted, err = db.Rollback(ctx, 5)
	if err != nil {
		t.Fatalf("Rollback(5) error = %v", err)
	}
	if len(reverted) != 1 || tableExists(t, db, "test_rundowns") {
		t.Errorf("reverted = %v", reverted)
	}
	status, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if len(status.Applied) != 0 || len(status.Pending) != 2 {
		t.Errorf("status after rollback = %+v", status)
	}

	if _, err := db.Rollback(ctx, 0); err == nil {
		t.Error("Rollback(0) succeeded")
	}
}

func TestRollback_NoDownFile(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_080000_one_way.up.sql": {Data: []byte("CREATE TABLE one_way (id TEXT PRIMARY KEY);")},
	}, ".")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	reverted, err := db.Rollback(ctx, 1)
	if !errors.Is(err, ErrNoDownMigration) || len(reverted) != 0 {
		t.Errorf("Rollback() = %v, %v, want ErrNoDownMigration", reverted, err)
	}
	if !tableExists(t, db, "one_way") {
		t.Error("table dropped without a down file")
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_080000_good.up.sql": {Data: []byte("CREATE TABLE good (id TEXT PRIMARY KEY);")},
		"20261001_090000_bad.up.sql":  {Data: []byte("CREATE TABLE nonsense (")},
	}, ".")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() succeeded with broken SQL")
	}
	status, err := db.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus() error = %v", err)
	}
	if status.Version != "20261001_080000" || len(status.Pending) != 1 || status.Pending[0].Name != "bad" {
		t.Errorf("status = %+v", status)
	}
}

func TestReadMigrations(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []string
		wantErr bool
	}{
		{
			name:  "none configured",
			files: nil,
		},
		{
			name: "sorted, foreign files ignored",
			files: fstest.MapFS{
				"20261003_000000_third.up.sql":  {Data: []byte("SELECT 3;")},
				"20261001_000000_first.up.sql":  {Data: []byte("SELECT 1;")},
				"20261002_000000_second.up.sql": {Data: []byte("SELECT 2;")},
				"README.md":                     {Data: []byte("notes")},
				"20261004_000000_no_dir.sql":    {Data: []byte("SELECT 4;")},
				"invalid.up.sql":                {Data: []byte("SELECT 5;")},
			},
			want: []string{"first", "second", "third"},
		},
		{
			name: "down without up",
			files: fstest.MapFS{
				"20261001_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fsys fs.FS
			if tt.files != nil {
				fsys = tt.files
			}
			useMigrations(t, fsys, ".")

			got, err := readMigrations()
			if (err != nil) != tt.wantErr {
				t.Fatalf("readMigrations() error = %v, wantErr %v", err, tt.wantErr)
			}
			var names []string
			for _, m := range got {
				names = append(names, m.Name)
			}
			if len(names) != len(tt.want) {
				t.Fatalf("names = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("names = %v, want %v", names, tt.want)
				}
			}
		})
	}
}
