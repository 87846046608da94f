package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/mikro-registry/internal/storage"
)

func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestSaveGetRemove(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src := writeBundle(t, map[string]string{
		"package.json":     `{"name":"greeter","version":"1.0.0"}`,
		"template.js":      "export default 1",
		"assets/style.css": "body{}",
	})
	if err := store.Save(ctx, src, "greeter/1.0.0"); err != nil {
		t.Fatalf("Save() err=%v", err)
	}

	got, err := store.Get(ctx, "greeter/1.0.0/assets/style.css")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if string(got) != "body{}" {
		t.Fatalf("Get()=%q, want body{}", got)
	}

	if err := store.Save(ctx, src, "greeter/1.0.0"); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("second Save() err=%v, want ErrExists", err)
	}

	if err := store.Remove(ctx, "greeter/1.0.0"); err != nil {
		t.Fatalf("Remove() err=%v", err)
	}
	if _, err := store.Get(ctx, "greeter/1.0.0/template.js"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() after Remove err=%v, want ErrNotFound", err)
	}
}

func TestSaveLeavesNoStagingResidue(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src := writeBundle(t, map[string]string{"template.js": "x"})
	if err := store.Save(context.Background(), src, "a/1.0.0"); err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, stagingDir))
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging entries=%d, want 0", len(entries))
	}
}

func TestGetMissingAndDirectory(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "missing/1.0.0/package.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() err=%v, want ErrNotFound", err)
	}
	src := writeBundle(t, map[string]string{"template.js": "x"})
	if err := store.Save(ctx, src, "a/1.0.0"); err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	if _, err := store.Get(ctx, "a/1.0.0"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(dir) err=%v, want ErrNotFound", err)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(context.Background(), "../outside"); err == nil {
		t.Fatalf("Get() expected error for traversal")
	}
}

func TestURLIsFileScheme(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u := store.URL("greeter/1.0.0/template.js")
	if u.Scheme != "file" {
		t.Fatalf("URL().Scheme=%q, want file", u.Scheme)
	}
	if filepath.FromSlash(u.Path) != filepath.Join(store.root, "greeter", "1.0.0", "template.js") {
		t.Fatalf("URL().Path=%q", u.Path)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() err=%v", err)
	}
}
