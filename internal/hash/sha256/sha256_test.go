// Package sha256 includes tests for the SHA-256 helpers.
package sha256

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestSumDeterministic ensures repeated hashing yields the same digest.
func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	got := Sum([]byte("hello world"))
	if got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
	if again := Sum([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestWriterMatchesSum checks that chunked writes hash like a single buffer.
func TestWriterMatchesSum(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	for _, chunk := range []string{"hel", "lo ", "world"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if w.Sum() != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, w.Sum())
	}
	if w.Size() != 11 {
		t.Fatalf("expected size 11, got %d", w.Size())
	}
}

// TestCopyHashesWhatWasWritten confirms Copy tees into the destination.
func TestCopyHashesWhatWasWritten(t *testing.T) {
	t.Parallel()

	var dst bytes.Buffer
	n, digest, err := Copy(&dst, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if n != 11 || digest != helloDigest || dst.String() != "hello world" {
		t.Fatalf("unexpected copy result n=%d digest=%s dst=%q", n, digest, dst.String())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

// TestCopyPropagatesReadErrors ensures partial reads are reported.
func TestCopyPropagatesReadErrors(t *testing.T) {
	t.Parallel()

	_, digest, err := Copy(io.Discard, failingReader{})
	if err == nil {
		t.Fatal("expected error")
	}
	if digest != "" {
		t.Fatalf("expected empty digest on failure, got %s", digest)
	}
}
