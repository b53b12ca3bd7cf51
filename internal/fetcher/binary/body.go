package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// byteRange is an inclusive byte interval.
type byteRange struct {
	start, end int64
}

func (r byteRange) header() string {
	return fmt.Sprintf("bytes=%d-%d", r.start, r.end)
}

func (r byteRange) size() int64 {
	return r.end - r.start + 1
}

// planRanges partitions [0, length) into chunk-sized ranges when the server
// supports ranges and length reaches threshold. It returns nil when a single
// GET should be used.
func planRanges(length int64, acceptRanges bool, threshold, chunk int64) []byteRange {
	if !acceptRanges || length <= 0 || threshold <= 0 || chunk <= 0 || length < threshold {
		return nil
	}
	out := make([]byteRange, 0, (length+chunk-1)/chunk)
	for start := int64(0); start < length; start += chunk {
		out = append(out, byteRange{start: start, end: min(start+chunk, length) - 1})
	}
	return out
}

// lazyBody issues its GET requests only when read. Parts are requested and
// returned strictly in ascending offset order, one at a time.
type lazyBody struct {
	ctx    context.Context
	f      *Fetcher
	url    string
	ranges []byteRange

	cur    io.ReadCloser
	next   int
	want   int64
	got    int64
	done   bool
	closed bool
}

func (b *lazyBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	for {
		if b.cur == nil {
			if b.done {
				return 0, io.EOF
			}
			if err := b.open(); err != nil {
				return 0, err
			}
		}
		n, err := b.cur.Read(p)
		b.got += int64(n)
		if b.want >= 0 && b.got > b.want {
			return n, fmt.Errorf("range %d of %s overran: got %d of %d bytes", b.next+1, b.url, b.got, b.want)
		}
		if errors.Is(err, io.EOF) {
			if cerr := b.finishPart(); cerr != nil {
				return n, cerr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (b *lazyBody) open() error {
	if len(b.ranges) == 0 {
		rc, err := b.f.get(b.ctx, b.url, nil)
		if err != nil {
			return err
		}
		b.cur, b.want, b.got = rc, -1, 0
		return nil
	}
	rng := b.ranges[b.next]
	rc, err := b.f.get(b.ctx, b.url, &rng)
	if err != nil {
		return fmt.Errorf("range %d/%d: %w", b.next+1, len(b.ranges), err)
	}
	b.cur, b.want, b.got = rc, rng.size(), 0
	return nil
}

func (b *lazyBody) finishPart() error {
	_ = b.cur.Close()
	b.cur = nil
	if b.want >= 0 && b.got != b.want {
		return fmt.Errorf("range %d of %s: %w (got %d of %d bytes)", b.next+1, b.url, io.ErrUnexpectedEOF, b.got, b.want)
	}
	if len(b.ranges) == 0 {
		b.done = true
		return nil
	}
	b.next++
	b.done = b.next >= len(b.ranges)
	return nil
}

// Close releases any open response body. Unread parts are never requested.
func (b *lazyBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.cur != nil {
		err := b.cur.Close()
		b.cur = nil
		return err
	}
	return nil
}
