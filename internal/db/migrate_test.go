package db

import (
	"testing"
	"testing/fstest"
)

func TestUpFilesSortedUpOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_more.up.sql":   {Data: []byte("SELECT 2")},
		"migrations/0001_init.up.sql":   {Data: []byte("SELECT 1")},
		"migrations/0001_init.down.sql": {Data: []byte("SELECT 0")},
	}

	files, err := UpFiles(fsys)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"0001_init.up.sql", "0002_more.up.sql"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := UpFiles(Migrations)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 || files[0] != "0001_init.up.sql" {
		t.Errorf("unexpected embedded migrations %v", files)
	}
}
