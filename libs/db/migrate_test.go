package db

import (
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestValidateMigrationsRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"m/001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"m/20260101000000_init.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"duplicate version": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"m/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateMigrations(fsys, "m"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateMigrationsIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/README.md":                {Data: []byte("notes")},
		"m/20260101000000_init.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\n")},
	}
	if err := ValidateMigrations(fsys, "m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
