package crawler

import (
	"context"
	"io"
	"net"
	"time"
)

// HTMLFetcher retrieves a page's markup. Implementations retry internally
// and only surface the final failure.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (HTMLPage, error)
}

// BinaryResponse is handed to the consumer of a binary fetch. Body is lazy:
// no GET is issued until it is first read, and it can be read exactly once.
type BinaryResponse struct {
	URL         string
	ContentType string
	// Length is the declared content length, or -1 when unknown.
	Length    int64
	Multipart bool
	Body      io.ReadCloser
}

// ConsumeFunc processes a BinaryResponse. Returning a permanent error (see
// IsPermanent) ends the fetch without further attempts.
type ConsumeFunc func(ctx context.Context, resp *BinaryResponse) error

// BinaryFetcher checks a URL with HEAD and streams its body to consume. The HEAD,
// the body transfer and consume run as one retryable unit.
type BinaryFetcher interface {
	FetchBinary(ctx context.Context, rawURL string, consume ConsumeFunc) error
}

// LinkExtractor returns absolute http(s) links found in an HTML document.
// Malformed markup yields an empty slice rather than an error.
type LinkExtractor interface {
	Extract(baseURL string, html []byte) []string
}

// Renderer produces a JavaScript-rendered DOM for pages whose static
// markup yields no links.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (HTMLPage, error)
}

// Storage persists artifacts under content-addressed locations.
type Storage interface {
	SaveBytes(ctx context.Context, content []byte, sourceURL string, typ CanonicalType) (Artifact, error)
	SaveStream(ctx context.Context, r io.Reader, sourceURL string, typ CanonicalType, sizeHint int64) (Artifact, error)
}

// Transformer rewrites a stored artifact into another representation.
type Transformer interface {
	Transform(ctx context.Context, path string, target string) (string, error)
}

// Resolver looks up the addresses for a host.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Recorder receives crawl metrics. The engine uses a no-op when nil.
type Recorder interface {
	ObserveItem(typ, status string, size int64)
	ObserveRetry(kind string)
	ObserveFetch(kind string, d time.Duration)
	FetchStarted(pool string)
	FetchFinished(pool string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveItem(string, string, int64) {}
func (nopRecorder) ObserveRetry(string) {}
func (nopRecorder) ObserveFetch(string, time.Duration) {}
func (nopRecorder) FetchStarted(string) {}
func (nopRecorder) FetchFinished(string) {}
