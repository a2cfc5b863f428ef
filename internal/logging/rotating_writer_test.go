package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_WritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(dir, "gateway.log"), 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	want := filepath.Join(dir, "gateway-"+today+".log")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %s: %v", want, err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}
}

func TestRotatingWriter_SizeRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(dir, "gateway.log"), 10)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	// Two writes; the second would push past 10 bytes and rotates first.
	if _, err := w.Write([]byte("12345678\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("overflow\n")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("files = %v, want 2 after rotation", names)
	}

	today := time.Now().UTC().Format("2006-01-02")
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), today+"-2.log") {
			found = true
		}
	}
	if !found {
		t.Error("second file missing the rotation index suffix")
	}
}

func TestRotatingWriter_Discard(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if _, err := w.Write([]byte("dropped")); err != nil {
		t.Errorf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
