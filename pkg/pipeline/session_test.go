package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReplaceAtomicSameFilesystemRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mkv")
	temp := filepath.Join(dir, "source_compressed.mkv")

	if err := os.WriteFile(src, []byte("original"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	if err := os.WriteFile(temp, []byte("compressed"), 0o644); err != nil {
		t.Fatalf("writing temp output: %v", err)
	}

	if err := replaceAtomic(temp, src); err != nil {
		t.Fatalf("replaceAtomic: %v", err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("reading replaced file: %v", err)
	}
	if string(data) != "compressed" {
		t.Fatalf("expected source replaced with compressed content, got %q", data)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("expected temp output consumed by rename, stat err=%v", err)
	}
}

// Both temp directories sit on the same filesystem, so this exercises the
// rename path with source and temp output in different directories.
func TestReplaceAtomicAcrossDirectories(t *testing.T) {
	srcDir := t.TempDir()
	tempDir := t.TempDir()
	src := filepath.Join(srcDir, "source.mkv")
	temp := filepath.Join(tempDir, "source_compressed.mkv")

	if err := os.WriteFile(src, []byte("original"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	if err := os.WriteFile(temp, []byte("compressed"), 0o644); err != nil {
		t.Fatalf("writing temp output: %v", err)
	}

	if err := replaceAtomic(temp, src); err != nil {
		t.Fatalf("replaceAtomic: %v", err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("reading replaced file: %v", err)
	}
	if string(data) != "compressed" {
		t.Fatalf("expected source replaced with compressed content, got %q", data)
	}
	// The source must never be briefly absent: after the call it must exist,
	// and the staging file must not be left behind.
	if _, err := os.Stat(src + ".new"); !os.IsNotExist(err) {
		t.Fatalf("expected staging file cleaned up, stat err=%v", err)
	}
}

func TestCopyFileContentsCreatesDestinationDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	dst := filepath.Join(dir, "nested", "deep", "dst.bin")

	if err := copyFileContents(src, dst); err != nil {
		t.Fatalf("copyFileContents: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected copied content, got %q", data)
	}
}
