package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// PatternBytes returns n bytes whose values depend on their absolute offset
// in the logical file. Upload tests use it to verify chunks landed at the
// right byte positions after reassembly.
func PatternBytes(offset, n int64) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte((offset + int64(i)) % 251)
	}
	return buf
}

// WriteFile fills the target path with size bytes of PatternBytes content.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, PatternBytes(0, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
