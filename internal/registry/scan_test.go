package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanDirFindsGGUFFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"tiny.gguf", "big.GGUF", "notes.txt", "weights.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	models, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d: %+v", len(models), models)
	}
	byID := map[string]bool{}
	for _, m := range models {
		byID[m.ID] = true
		if m.Path != filepath.Join(dir, m.ID) {
			t.Fatalf("path mismatch: %+v", m)
		}
		if m.SizeBytes != 1 || m.ModifiedUnix == 0 {
			t.Fatalf("file metadata missing: %+v", m)
		}
	}
	if !byID["tiny.gguf"] || !byID["big.GGUF"] {
		t.Fatalf("unexpected ids: %v", byID)
	}
}

func TestScanDirEmpty(t *testing.T) {
	models, err := ScanDir(t.TempDir())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("expected no models, got %v", models)
	}
}

func TestScanDirMissing(t *testing.T) {
	if _, err := ScanDir("/no/such/dir"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestScanDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	sub := filepath.Join(home, "models")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "m.gguf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	models, err := ScanDir("~/models")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 1 || models[0].Path != filepath.Join(sub, "m.gguf") {
		t.Fatalf("home not expanded: %+v", models)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cases := map[string]string{
		"":             "",
		"/abs/path":    "/abs/path",
		"relative/dir": "relative/dir",
		"~":            home,
		"~/models/llm": filepath.Join(home, "models", "llm"),
	}
	for in, want := range cases {
		got, err := expandHome(in)
		if err != nil {
			t.Fatalf("expand %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("expand %q: got %q want %q", in, got, want)
		}
	}
}
