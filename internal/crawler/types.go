package crawler

import (
	"strings"
	"time"
)

// CanonicalType is the normalized document class of a fetched artifact.
type CanonicalType string

// Canonical document types. TypeNone means "unknown or unwanted".
const (
	TypeNone CanonicalType = ""
	TypeHTML CanonicalType = "html"
	TypePDF  CanonicalType = "pdf"
	TypeDOCX CanonicalType = "docx"
	TypePPTX CanonicalType = "pptx"
)

// DefaultFileTypes are requested when a crawl does not name any.
var DefaultFileTypes = []CanonicalType{TypeHTML, TypePDF, TypeDOCX, TypePPTX}

// ParseCanonicalType maps a user-facing name (case-insensitive) to a CanonicalType.
func ParseCanonicalType(raw string) (CanonicalType, bool) {
	switch CanonicalType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeHTML:
		return TypeHTML, true
	case TypePDF:
		return TypePDF, true
	case TypeDOCX:
		return TypeDOCX, true
	case TypePPTX:
		return TypePPTX, true
	default:
		return TypeNone, false
	}
}

// ItemStatus records the outcome for a processed URL.
type ItemStatus string

// Item status values.
const (
	StatusSuccess ItemStatus = "success"
	StatusSkipped ItemStatus = "skipped"
	StatusFailed  ItemStatus = "failed"
)

// Timeouts bounds every network call made on behalf of a crawl.
type Timeouts struct {
	Connect time.Duration `mapstructure:"connect"`
	Read    time.Duration `mapstructure:"read"`
	Total   time.Duration `mapstructure:"total"`
}

// DefaultTimeouts mirrors the stock crawl deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Read:    60 * time.Second,
		Total:   90 * time.Second,
	}
}

// RetryPolicy configures the exponential backoff used by network adapters.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// DefaultRetryPolicy returns 4 attempts with 0.5s base, 8s cap, and 0.2s jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
		Jitter:      200 * time.Millisecond,
	}
}

// Limits caps the resources a single crawl may consume.
type Limits struct {
	MaxFiles             int     `mapstructure:"max_files"`
	MaxPages             int     `mapstructure:"max_pages"`
	MaxTotalBytes        int64   `mapstructure:"max_total_bytes"`
	MaxItemBytes         int64   `mapstructure:"max_item_bytes"`
	MaxConcurrencyHTML   int     `mapstructure:"max_concurrency_html"`
	MaxConcurrencyBinary int     `mapstructure:"max_concurrency_binary"`
	MultipartThreshold   int64   `mapstructure:"multipart_threshold"`
	MultipartChunkSize   int64   `mapstructure:"multipart_chunk_size"`
	PerHostRPS           float64 `mapstructure:"per_host_rps"`
}

// DefaultLimits returns the stock crawl budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:             100,
		MaxPages:             500,
		MaxTotalBytes:        200 << 20,
		MaxItemBytes:         50 << 20,
		MaxConcurrencyHTML:   8,
		MaxConcurrencyBinary: 8,
		MultipartThreshold:   8 << 20,
		MultipartChunkSize:   4 << 20,
	}
}

// CrawlRequest describes one crawl invocation. Treat it as immutable: the
// With* helpers return modified copies.
type CrawlRequest struct {
	URL            string
	Depth          int
	FileTypes      []CanonicalType
	StorageRoot    string
	SameDomainOnly bool
	UnderPathOnly  bool
	Transform      string
	RenderFallback bool
	Timeouts       Timeouts
	Retry          RetryPolicy
	Limits         Limits
}

// NewCrawlRequest builds a request for seed with stock parameters.
func NewCrawlRequest(seed string) CrawlRequest {
	return CrawlRequest{
		URL:            seed,
		Depth:          1,
		FileTypes:      append([]CanonicalType(nil), DefaultFileTypes...),
		StorageRoot:    "./downloads",
		SameDomainOnly: true,
		UnderPathOnly:  true,
		Timeouts:       DefaultTimeouts(),
		Retry:          DefaultRetryPolicy(),
		Limits:         DefaultLimits(),
	}
}

// WithLimits returns a copy of r using limits.
func (r CrawlRequest) WithLimits(limits Limits) CrawlRequest {
	out := r.clone()
	out.Limits = limits
	return out
}

// WithDepth returns a copy of r with a different maximum depth.
func (r CrawlRequest) WithDepth(depth int) CrawlRequest {
	out := r.clone()
	out.Depth = depth
	return out
}

// WithStorageRoot returns a copy of r writing under root.
func (r CrawlRequest) WithStorageRoot(root string) CrawlRequest {
	out := r.clone()
	out.StorageRoot = root
	return out
}

// WithFileTypes returns a copy of r requesting only types.
func (r CrawlRequest) WithFileTypes(types []CanonicalType) CrawlRequest {
	out := r.clone()
	out.FileTypes = append([]CanonicalType(nil), types...)
	return out
}

// Wants reports whether typ is among the requested file types.
func (r CrawlRequest) Wants(typ CanonicalType) bool {
	if typ == TypeNone {
		return false
	}
	for _, t := range r.FileTypes {
		if t == typ {
			return true
		}
	}
	return false
}

func (r CrawlRequest) clone() CrawlRequest {
	out := r
	out.FileTypes = append([]CanonicalType(nil), r.FileTypes...)
	return out
}

// SavedItem is the immutable record emitted for every processed URL.
type SavedItem struct {
	URL         string         `json:"url"`
	Path        string         `json:"path"`
	ContentType CanonicalType  `json:"content_type"`
	Size        int64          `json:"size"`
	SHA256      string         `json:"sha256"`
	Status      ItemStatus     `json:"status"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Artifact describes bytes committed by a Storage backend.
type Artifact struct {
	Locator string
	SHA256  string
	Size    int64
}

// HTMLPage is returned by an HTMLFetcher.
type HTMLPage struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// frontierEntry is a queued URL awaiting processing.
type frontierEntry struct {
	url   string
	depth int
}
