package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/coachgraph/knowledge"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileLoaderMissingFiles(t *testing.T) {
	loader := knowledge.NewFileLoader(t.TempDir())

	texts, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if texts.Principles != "Knowledge file model_principles.txt not found." {
		t.Errorf("Principles = %q", texts.Principles)
	}
	if texts.Archetypes != "Knowledge file archetypes.txt not found." {
		t.Errorf("Archetypes = %q", texts.Archetypes)
	}
}

func TestFileLoaderCachesUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, knowledge.PrinciplesFile, "be kind")
	writeFile(t, dir, knowledge.ArchetypesFile, "the explorer")
	loader := knowledge.NewFileLoader(dir)

	texts, err := loader.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if texts.Principles != "be kind" || texts.Archetypes != "the explorer" {
		t.Fatalf("texts = %+v", texts)
	}

	writeFile(t, dir, knowledge.PrinciplesFile, "be curious")
	if texts, _ = loader.Load(context.Background()); texts.Principles != "be kind" {
		t.Errorf("cached Principles = %q, want the old text", texts.Principles)
	}

	loader.Invalidate()
	if texts, _ = loader.Load(context.Background()); texts.Principles != "be curious" {
		t.Errorf("Principles after Invalidate = %q", texts.Principles)
	}
}

func TestFileLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, knowledge.ArchetypesFile, "v1")
	loader := knowledge.NewFileLoader(dir)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx, ready) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never became ready")
	}

	if texts, _ := loader.Load(ctx); texts.Archetypes != "v1" {
		t.Fatalf("Archetypes = %q", texts.Archetypes)
	}
	writeFile(t, dir, knowledge.ArchetypesFile, "v2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if texts, _ := loader.Load(ctx); texts.Archetypes == "v2" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("cache was not invalidated after the file changed")
}

func TestWatchMissingDirectory(t *testing.T) {
	loader := knowledge.NewFileLoader(filepath.Join(t.TempDir(), "absent"))
	if err := loader.Watch(context.Background(), nil); err == nil {
		t.Error("expected error watching a missing directory")
	}
}

func TestStatic(t *testing.T) {
	texts, err := knowledge.Static{Principles: "p", Archetypes: "a"}.Load(context.Background())
	if err != nil || texts.Principles != "p" || texts.Archetypes != "a" {
		t.Errorf("Static.Load = (%+v, %v)", texts, err)
	}
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := knowledge.NewFileLoader(t.TempDir()).Load(ctx); err == nil {
		t.Error("expected context error")
	}
}
