package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy. Adapters wrap these so callers can use errors.Is.
var (
	ErrInvalidURL             = errors.New("invalid url")
	ErrSSRFBlocked            = errors.New("ssrf blocked")
	ErrFetchTimeout           = errors.New("fetch timeout")
	ErrFetchHTTP              = errors.New("fetch http error")
	ErrOversizedContent       = errors.New("oversized content")
	ErrStorageWrite           = errors.New("storage write error")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrByteBudgetExhausted    = errors.New("total byte budget exhausted")
)

// HTTPStatusError reports a non-2xx response after redirects.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is(err, ErrFetchHTTP) match any status error.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrFetchHTTP
}

// SSRFError names the host and the private address it resolved to.
type SSRFError struct {
	Host string
	IP   net.IP
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("blocked private/link-local address %s for host %s", e.IP, e.Host)
}

// Is lets errors.Is(err, ErrSSRFBlocked) match.
func (e *SSRFError) Is(target error) bool {
	return target == ErrSSRFBlocked
}

// OversizeError reports a declared or observed size above the per-item cap.
type OversizeError struct {
	Size  int64
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("size %d exceeds per-item cap %d", e.Size, e.Limit)
}

// Is lets errors.Is(err, ErrOversizedContent) match.
func (e *OversizeError) Is(target error) bool {
	return target == ErrOversizedContent
}

// IsPermanent reports whether retrying err cannot change the outcome. A
// deadline is not permanent: each attempt carries its own total timeout.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrInvalidURL),
		errors.Is(err, ErrSSRFBlocked),
		errors.Is(err, ErrOversizedContent),
		errors.Is(err, ErrUnsupportedContentType),
		errors.Is(err, ErrByteBudgetExhausted),
		errors.Is(err, ErrStorageWrite):
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err stems from a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// reasonFor maps an error to the stable reason code recorded on items.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrSSRFBlocked):
		return "ssrf_blocked"
	case errors.Is(err, ErrOversizedContent):
		return "too_large"
	case errors.Is(err, ErrUnsupportedContentType):
		return "unsupported_type"
	case errors.Is(err, ErrByteBudgetExhausted):
		return "bytes_cap"
	case errors.Is(err, ErrStorageWrite):
		return "store_failed"
	case IsTimeout(err):
		return "fetch_timeout"
	default:
		return "fetch_failed"
	}
}
