package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool names used for metrics and logs.
const (
	poolHTML   = "html"
	poolBinary = "binary"
)

// Dependencies are the collaborators an Engine sequences. HTML, Binary,
// Links and Storage are required; the rest fall back to defaults.
type Dependencies struct {
	HTML        HTMLFetcher
	Binary      BinaryFetcher
	Links       LinkExtractor
	Storage     Storage
	Renderer    Renderer
	Transformer Transformer
	Limiter     HostLimiter
	Guard       *SSRFGuard
	Clock       Clock
	IDs         IDGenerator
	Recorder    Recorder
	Logger      *zap.Logger
}

// Engine runs bounded breadth-first crawls.
type Engine struct {
	deps Dependencies
}

// NewEngine validates deps and fills in defaults.
func NewEngine(deps Dependencies) (*Engine, error) {
	switch {
	case deps.HTML == nil:
		return nil, errors.New("engine: html fetcher is required")
	case deps.Binary == nil:
		return nil, errors.New("engine: binary fetcher is required")
	case deps.Links == nil:
		return nil, errors.New("engine: link extractor is required")
	case deps.Storage == nil:
		return nil, errors.New("engine: storage is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Guard == nil {
		deps.Guard = NewSSRFGuard(nil, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Engine{deps: deps}, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Run crawls from req.URL and returns one SavedItem per processed URL, in
// completion order. Per-URL failures are reported as items; an error is
// returned only for an unusable seed or a canceled context, in which case
// the items gathered so far are returned with it.
func (e *Engine) Run(ctx context.Context, req CrawlRequest) ([]SavedItem, error) {
	root, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if err := e.deps.Guard.CheckURL(ctx, root); err != nil {
		e.deps.Logger.Warn("ssrf_blocked", zap.String("url", root), zap.Error(err))
		return nil, fmt.Errorf("seed: %w", err)
	}

	runID := ""
	if e.deps.IDs != nil {
		if id, idErr := e.deps.IDs.NewID(); idErr == nil {
			runID = id
		}
	}
	logger := e.deps.Logger.With(zap.String("run_id", runID))

	run := &crawlRun{
		Engine:   e,
		req:      req,
		root:     root,
		runID:    runID,
		logger:   logger,
		budget:   newBudget(req.Limits),
		visited:  newConcurrentVisitTracker(),
		htmlPool: semaphore.NewWeighted(poolSize(req.Limits.MaxConcurrencyHTML)),
		binPool:  semaphore.NewWeighted(poolSize(req.Limits.MaxConcurrencyBinary)),
		results:  make(chan fetchResult),
	}

	start := e.deps.Clock.Now()
	logger.Info("crawl_start",
		zap.String("root", root),
		zap.Int("depth", req.Depth),
		zap.Int("max_files", req.Limits.MaxFiles),
		zap.Int64("max_total_bytes", req.Limits.MaxTotalBytes),
	)

	run.visited.MarkIfNew(root)
	run.frontier.push(frontierEntry{url: root, depth: 0})
	run.drain(ctx)

	if req.Transform != "" && e.deps.Transformer != nil {
		run.transform(ctx)
	}

	files, _, totalBytes := run.budget.snapshot()
	logger.Info("crawl_done",
		zap.Int("files", files),
		zap.Int("skipped", run.count(StatusSkipped)),
		zap.Int("failed", run.count(StatusFailed)),
		zap.Int64("total_bytes", totalBytes),
		zap.Int("visited", run.visited.Len()),
		zap.Duration("duration", e.deps.Clock.Now().Sub(start)),
	)

	if err := ctx.Err(); err != nil {
		return run.items, fmt.Errorf("crawl %s: %w", root, err)
	}
	return run.items, nil
}

func poolSize(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

// crawlRun is the state of one crawl. The frontier, the item list and the
// in-flight count are owned by the drain loop; the visited set and budget
// are safe for concurrent use.
type crawlRun struct {
	*Engine
	req      CrawlRequest
	root     string
	runID    string
	logger   *zap.Logger
	budget   *budget
	visited  visitTracker
	frontier fifoFrontier
	htmlPool *semaphore.Weighted
	binPool  *semaphore.Weighted
	results  chan fetchResult
	items    []SavedItem
	capsHit  bool
}

type fetchResult struct {
	entry   frontierEntry
	page    bool
	saved   bool
	claimed int64
	item    SavedItem
	links   []string
}

// drain dispatches frontier entries until the frontier is empty or a global
// cap is reached, then waits for every in-flight fetch.
func (r *crawlRun) drain(ctx context.Context) {
	var g errgroup.Group
	inflight := 0
	for {
		r.dispatch(ctx, &g, &inflight)
		if inflight == 0 {
			break
		}
		res := <-r.results
		inflight--
		r.collect(res)
	}
	_ = g.Wait()
}

func (r *crawlRun) dispatch(ctx context.Context, g *errgroup.Group, inflight *int) {
	for ctx.Err() == nil && !r.capsHit {
		entry, ok := r.frontier.peek()
		if !ok {
			return
		}
		if r.budget.exhausted() {
			files, _, totalBytes := r.budget.snapshot()
			r.logger.Info("caps_reached",
				zap.Int("files", files),
				zap.Int64("total_bytes", totalBytes),
				zap.Int("abandoned", r.frontier.len()),
			)
			r.capsHit = true
			return
		}
		if r.budget.bytesCovered() {
			// In-flight claims cover the byte cap; wait for them to settle.
			return
		}
		if entry.depth > r.req.Depth {
			r.frontier.pop()
			continue
		}
		page := entry.depth == 0 || CanonicalTypeOf("", entry.url) == TypeHTML
		if page && !r.budget.pagesAvailable() {
			r.frontier.pop()
			r.record(SavedItem{
				URL:    entry.url,
				Size:   -1,
				Status: StatusSkipped,
				Meta:   r.meta(entry, map[string]any{"reason": "pages_cap"}),
			})
			continue
		}
		if !r.budget.reserve(page) {
			// Saved plus in-flight items already cover MaxFiles.
			return
		}
		r.frontier.pop()
		*inflight++
		g.Go(func() error {
			var res fetchResult
			if page {
				res = r.fetchPage(ctx, entry)
			} else {
				res = r.fetchBinary(ctx, entry)
			}
			r.results <- res
			return nil
		})
	}
}

// collect settles the budget for a finished fetch and enqueues its links.
func (r *crawlRun) collect(res fetchResult) {
	if res.saved {
		r.budget.commit(res.page, res.item.Size, res.claimed)
	} else {
		r.budget.release(res.page, res.claimed)
	}
	r.record(res.item)

	for _, link := range res.links {
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if !SameScope(r.root, normalized, r.req.SameDomainOnly, r.req.UnderPathOnly) {
			r.logger.Debug("skip_out_of_scope", zap.String("url", normalized))
			continue
		}
		if r.visited.MarkIfNew(normalized) {
			r.frontier.push(frontierEntry{url: normalized, depth: res.entry.depth + 1})
		}
	}
}

func (r *crawlRun) record(item SavedItem) {
	r.items = append(r.items, item)
	r.deps.Recorder.ObserveItem(string(item.ContentType), string(item.Status), max(item.Size, 0))
}

func (r *crawlRun) count(status ItemStatus) int {
	n := 0
	for _, it := range r.items {
		if it.Status == status {
			n++
		}
	}
	return n
}

func (r *crawlRun) meta(entry frontierEntry, extra map[string]any) map[string]any {
	m := map[string]any{"depth": entry.depth}
	if r.runID != "" {
		m["run_id"] = r.runID
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// preflight runs the per-URL SSRF guard and politeness wait. The seed was
// guarded by Run moments earlier, so depth 0 only waits.
func (r *crawlRun) preflight(ctx context.Context, entry frontierEntry) error {
	if entry.depth > 0 {
		if err := r.deps.Guard.CheckURL(ctx, entry.url); err != nil {
			return err
		}
	}
	if r.deps.Limiter != nil {
		if err := r.deps.Limiter.Wait(ctx, entry.url); err != nil {
			return err
		}
	}
	return nil
}

func (r *crawlRun) fetchPage(ctx context.Context, entry frontierEntry) fetchResult {
	res := fetchResult{entry: entry, page: true}
	if err := r.preflight(ctx, entry); err != nil {
		res.item = r.unsaved(entry, TypeHTML, err)
		return res
	}

	started := time.Now()
	page, err := r.acquireAndFetch(ctx, entry.url)
	r.deps.Recorder.ObserveFetch(poolHTML, time.Since(started))
	if err != nil {
		res.item = r.unsaved(entry, TypeHTML, err)
		return res
	}

	size := int64(len(page.Body))
	if limit := r.req.Limits.MaxItemBytes; limit > 0 && size > limit {
		r.logger.Info("skip_too_large_html", zap.String("url", entry.url), zap.Int64("size", size), zap.Int64("limit", limit))
		res.item = r.unsaved(entry, TypeHTML, &OversizeError{Size: size, Limit: limit})
		return res
	}

	typ := TypeHTML
	if entry.depth > 0 {
		if declared := CanonicalTypeOf(page.ContentType, entry.url); declared != TypeNone {
			typ = declared
		}
	}
	if typ != TypeHTML && !r.req.Wants(typ) {
		res.item = r.unsaved(entry, typ, fmt.Errorf("%w: %s", ErrUnsupportedContentType, page.ContentType))
		return res
	}

	claimed, ok := r.budget.claimBytes(size)
	if !ok {
		res.item = r.unsaved(entry, typ, fmt.Errorf("%w: %d bytes", ErrByteBudgetExhausted, size))
		return res
	}
	res.claimed = claimed

	art, err := r.deps.Storage.SaveBytes(ctx, page.Body, entry.url, typ)
	if err != nil {
		res.item = r.unsaved(entry, typ, err)
		return res
	}
	res.saved = true
	res.item = SavedItem{
		URL:         entry.url,
		Path:        art.Locator,
		ContentType: typ,
		Size:        art.Size,
		SHA256:      art.SHA256,
		Status:      StatusSuccess,
		Meta: r.meta(entry, map[string]any{
			"final_url":   page.FinalURL,
			"status_code": page.StatusCode,
			"fetched_at":  r.deps.Clock.Now().Format(time.RFC3339),
		}),
	}

	if typ == TypeHTML && entry.depth < r.req.Depth {
		res.links = r.extract(ctx, entry, page)
	}
	return res
}

func (r *crawlRun) acquireAndFetch(ctx context.Context, rawURL string) (HTMLPage, error) {
	if err := r.htmlPool.Acquire(ctx, 1); err != nil {
		return HTMLPage{}, err
	}
	r.deps.Recorder.FetchStarted(poolHTML)
	defer func() {
		r.deps.Recorder.FetchFinished(poolHTML)
		r.htmlPool.Release(1)
	}()
	return r.deps.HTML.FetchHTML(ctx, rawURL)
}

// extract returns the page's links, asking the renderer for a rendered DOM
// when static markup yields none.
func (r *crawlRun) extract(ctx context.Context, entry frontierEntry, page HTMLPage) []string {
	base := page.FinalURL
	if base == "" {
		base = entry.url
	}
	links := r.deps.Links.Extract(base, page.Body)
	if len(links) > 0 || !r.req.RenderFallback || r.deps.Renderer == nil {
		return links
	}

	r.logger.Info("renderer_fallback", zap.String("url", entry.url))
	rendered, err := r.deps.Renderer.Render(ctx, entry.url)
	if err != nil {
		r.logger.Warn("renderer_failed", zap.String("url", entry.url), zap.Error(err))
		return nil
	}
	if rendered.FinalURL != "" {
		base = rendered.FinalURL
	}
	return r.deps.Links.Extract(base, rendered.Body)
}

func (r *crawlRun) fetchBinary(ctx context.Context, entry frontierEntry) fetchResult {
	res := fetchResult{entry: entry}
	typ := CanonicalTypeOf("", entry.url)
	if err := r.preflight(ctx, entry); err != nil {
		res.item = r.unsaved(entry, typ, err)
		return res
	}
	if err := r.binPool.Acquire(ctx, 1); err != nil {
		res.item = r.unsaved(entry, typ, err)
		return res
	}
	r.deps.Recorder.FetchStarted(poolBinary)

	var (
		art       Artifact
		multipart bool
		claimed   bool
	)
	started := time.Now()
	err := r.deps.Binary.FetchBinary(ctx, entry.url, func(ctx context.Context, resp *BinaryResponse) error {
		typ = CanonicalTypeOf(resp.ContentType, entry.url)
		multipart = resp.Multipart
		if !r.req.Wants(typ) {
			return fmt.Errorf("%w: %q", ErrUnsupportedContentType, resp.ContentType)
		}
		limit := r.req.Limits.MaxItemBytes
		if limit > 0 && resp.Length > limit {
			return &OversizeError{Size: resp.Length, Limit: limit}
		}
		if !claimed {
			n, ok := r.budget.claimBytes(resp.Length)
			if !ok {
				return fmt.Errorf("%w: %s", ErrByteBudgetExhausted, entry.url)
			}
			res.claimed, claimed = n, true
		}
		saved, err := r.deps.Storage.SaveStream(ctx, capReader(resp.Body, limit), entry.url, typ, resp.Length)
		if err != nil {
			return err
		}
		art = saved
		return nil
	})
	r.deps.Recorder.ObserveFetch(poolBinary, time.Since(started))
	r.deps.Recorder.FetchFinished(poolBinary)
	r.binPool.Release(1)

	if err != nil {
		res.item = r.unsaved(entry, typ, err)
		return res
	}
	res.saved = true
	res.item = SavedItem{
		URL:         entry.url,
		Path:        art.Locator,
		ContentType: typ,
		Size:        art.Size,
		SHA256:      art.SHA256,
		Status:      StatusSuccess,
		Meta: r.meta(entry, map[string]any{
			"multipart":  multipart,
			"fetched_at": r.deps.Clock.Now().Format(time.RFC3339),
		}),
	}
	return res
}

// unsaved builds the skipped or failed item for err and logs it.
func (r *crawlRun) unsaved(entry frontierEntry, typ CanonicalType, err error) SavedItem {
	reason := reasonFor(err)
	status := StatusFailed
	fields := []zap.Field{zap.String("url", entry.url), zap.Int("depth", entry.depth), zap.Error(err)}

	switch {
	case errors.Is(err, ErrSSRFBlocked):
		status = StatusSkipped
		r.logger.Warn("ssrf_blocked", fields...)
	case errors.Is(err, ErrUnsupportedContentType):
		status = StatusSkipped
		r.logger.Debug("skip_unsupported_type", fields...)
	case errors.Is(err, ErrOversizedContent):
		status = StatusSkipped
		if typ != TypeHTML {
			r.logger.Info("skip_too_large_binary", fields...)
		}
	case errors.Is(err, ErrInvalidURL):
		status = StatusSkipped
		r.logger.Info("skip_invalid_url", fields...)
	case errors.Is(err, ErrByteBudgetExhausted):
		status = StatusSkipped
		r.logger.Info("skip_bytes_cap", fields...)
	case errors.Is(err, ErrStorageWrite):
		r.logger.Error("store_failed", fields...)
	default:
		r.logger.Warn("fetch_failed", fields...)
	}

	meta := map[string]any{"reason": reason, "error": err.Error()}
	var oversize *OversizeError
	if errors.As(err, &oversize) {
		meta["declared_size"] = oversize.Size
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		meta["status_code"] = httpErr.StatusCode
	}
	return SavedItem{
		URL:         entry.url,
		ContentType: typ,
		Size:        -1,
		Status:      status,
		Meta:        r.meta(entry, meta),
	}
}

// transform rewrites successful items through the Transformer. A failed
// transform keeps the original item.
func (r *crawlRun) transform(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(poolSize(r.req.Limits.MaxConcurrencyHTML)))
	for i := range r.items {
		item := &r.items[i]
		if item.Status != StatusSuccess {
			continue
		}
		g.Go(func() error {
			out, err := r.deps.Transformer.Transform(gctx, item.Path, r.req.Transform)
			if err != nil {
				r.logger.Warn("transform_failed", zap.String("url", item.URL), zap.String("path", item.Path), zap.Error(err))
				return nil
			}
			if out == "" || out == item.Path {
				return nil
			}
			meta := make(map[string]any, len(item.Meta)+2)
			for k, v := range item.Meta {
				meta[k] = v
			}
			meta["source_path"] = item.Path
			meta["format"] = r.req.Transform
			item.Path = out
			item.Meta = meta
			return nil
		})
	}
	_ = g.Wait()
}

// capReader fails with an *OversizeError once more than limit bytes have
// been read. A non-positive limit disables the check.
func capReader(rd io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return rd
	}
	return &sizeCapReader{r: rd, limit: limit}
}

type sizeCapReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func (c *sizeCapReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.limit {
		return n, &OversizeError{Size: c.n, Limit: c.limit}
	}
	return n, err
}
