package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		t.Fatalf("Expected embedded sql dir, got %v", err)
	}

	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("Expected paired up/down migrations, got %d up and %d down", up, down)
	}
}

func TestSource_FirstVersion(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("Expected first version, got %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1, got %d", version)
	}
}

func TestCreateProductsMigration(t *testing.T) {
	b, err := fs.ReadFile(files, "sql/000001_create_products.up.sql")
	if err != nil {
		t.Fatal(err)
	}

	sql := string(b)
	for _, want := range []string{"product_name TEXT PRIMARY KEY", "images       TEXT[]"} {
		if !strings.Contains(sql, want) {
			t.Errorf("Expected migration to contain %q", want)
		}
	}
}
