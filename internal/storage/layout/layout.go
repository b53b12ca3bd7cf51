// Package layout derives content-addressed artifact keys shared by every
// storage backend.
package layout

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/hash/sha256"
)

// DigestPrefixLen is the number of hex digits of the digest kept in a name.
const DigestPrefixLen = 16

const unknownHost = "unknown-host"

// Dir returns the directory part of a key for sourceURL: the host followed
// by at most the first two path segments. Dot segments are dropped so a key
// never escapes its root.
func Dir(sourceURL string) []string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return []string{unknownHost}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		host = unknownHost
	}
	out := []string{host}
	for _, seg := range strings.Split(u.Path, "/") {
		if len(out) == 3 {
			break
		}
		seg = strings.Map(func(r rune) rune {
			if r == '\\' || r == 0 {
				return '_'
			}
			return r
		}, seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// Name returns the file name for digest and typ.
func Name(digest string, typ crawler.CanonicalType) string {
	if len(digest) > DigestPrefixLen {
		digest = digest[:DigestPrefixLen]
	}
	return digest + crawler.Extension(typ)
}

// Key returns the slash-separated key host/seg1/seg2/<digest prefix><ext>.
func Key(sourceURL, digest string, typ crawler.CanonicalType) string {
	return path.Join(append(Dir(sourceURL), Name(digest, typ))...)
}

// Join prefixes key with prefix, ignoring empty and surrounding slashes.
func Join(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Copy streams src into dst while hashing. A failure reading src is
// returned wrapped as is so callers can retry it; a failure writing dst
// wraps crawler.ErrStorageWrite.
func Copy(dst io.Writer, src io.Reader) (int64, string, error) {
	tr := &trackedReader{r: src}
	n, digest, err := sha256.Copy(dst, tr)
	if err == nil {
		return n, digest, nil
	}
	if tr.err != nil && !errors.Is(tr.err, io.EOF) {
		return n, "", fmt.Errorf("read source: %w", tr.err)
	}
	return n, "", fmt.Errorf("%w: %v", crawler.ErrStorageWrite, err)
}

type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil {
		t.err = err
	}
	return n, err
}
