package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanBatchDir(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"S-2/b.jpg",
		"S-2/a.PNG",
		"S-2/notes.txt",
		"S-1/front.jpeg",
		"empty/readme.md",
		"loose.jpg",
	}
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := scanBatchDir(dir)
	if err != nil {
		t.Fatalf("scanBatchDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 identity directories, got %+v", entries)
	}
	if entries[0].ref != "S-1" || len(entries[0].paths) != 1 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].ref != "S-2" || len(entries[1].paths) != 2 {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if filepath.Base(entries[1].paths[0]) != "a.PNG" {
		t.Errorf("expected name order, got %v", entries[1].paths)
	}

	if _, err := scanBatchDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
