// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Writer hashes everything written through it and counts the bytes.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

// Sum returns the hex digest of the bytes written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.n
}

// Copy streams src into dst while hashing. The digest covers exactly the
// bytes that reached dst.
func Copy(dst io.Writer, src io.Reader) (int64, string, error) {
	w := NewWriter()
	n, err := io.Copy(io.MultiWriter(dst, w), src)
	if err != nil {
		return n, "", fmt.Errorf("hash copy: %w", err)
	}
	return n, w.Sum(), nil
}
