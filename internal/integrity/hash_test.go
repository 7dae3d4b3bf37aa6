package integrity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestComputeBlake3Hash(t *testing.T) {
	p := writeFile(t, t.TempDir(), "empty", "")

	got, err := ComputeBlake3Hash(p)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}

	// BLAKE3 of the empty input.
	const want = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got != want {
		t.Fatalf("ComputeBlake3Hash() = %s, want %s", got, want)
	}
}

func TestVerifyFileHash(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "threaded_jarm.py", "print('jarm')\n")

	hash, err := ComputeBlake3Hash(p)
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifyFileHash(p, hash); err != nil {
		t.Fatalf("VerifyFileHash() with matching hash failed: %v", err)
	}
	if err := VerifyFileHash(p, "  "+strings.ToUpper(hash)+"\n"); err != nil {
		t.Fatalf("VerifyFileHash() should ignore case and whitespace: %v", err)
	}

	writeFile(t, dir, "threaded_jarm.py", "print('tampered')\n")
	err = VerifyFileHash(p, hash)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("VerifyFileHash() error = %v, want ErrHashMismatch", err)
	}

	err = VerifyFileHash(filepath.Join(dir, "missing.py"), hash)
	if err == nil || errors.Is(err, ErrHashMismatch) {
		t.Fatalf("VerifyFileHash() on missing file error = %v, want read error", err)
	}
}

func TestHashFiles(t *testing.T) {
	dir := t.TempDir()
	present := writeFile(t, dir, "tool.py", "x")
	missing := filepath.Join(dir, "nope.py")

	got, err := HashFiles([]string{present, missing})
	if err != nil {
		t.Fatalf("HashFiles() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(HashFiles()) = %d, want 2", len(got))
	}
	if !got[0].Exists || got[0].Hash == "" {
		t.Fatal("tool.py should exist with computed hash")
	}
	if got[1].Exists || got[1].Hash != "" {
		t.Fatal("nope.py should be reported as missing without hash")
	}
}
