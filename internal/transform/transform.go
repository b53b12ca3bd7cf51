// Package transform converts stored artifacts into other representations
// after a crawl.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownTarget is returned for a target no converter is registered for.
var ErrUnknownTarget = errors.New("unknown transform target")

// Func converts the artifact at path and returns the path of the result.
// Inputs a Func does not apply to are returned unchanged.
type Func func(ctx context.Context, path string) (string, error)

// Registry maps target names to converters. It implements
// crawler.Transformer.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Func
	logger  *zap.Logger
}

// NewRegistry returns a registry with the identity target ("identity",
// "none") and "markdown".
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{targets: make(map[string]Func), logger: logger}
	r.Register("identity", Identity)
	r.Register("none", Identity)
	r.Register("markdown", NewMarkdown().Convert)
	return r
}

// Register binds fn to target, replacing any previous binding.
func (r *Registry) Register(target string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[strings.ToLower(target)] = fn
}

// Targets lists the registered target names.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.targets))
	for name := range r.targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Transform converts path to target.
func (r *Registry) Transform(ctx context.Context, path, target string) (string, error) {
	r.mu.RLock()
	fn, ok := r.targets[strings.ToLower(strings.TrimSpace(target))]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("transform %s: %w", path, err)
	}
	out, err := fn(ctx, path)
	if err != nil {
		return "", fmt.Errorf("transform %s to %s: %w", path, target, err)
	}
	if out != path {
		r.logger.Debug("transformed", zap.String("path", path), zap.String("target", target), zap.String("out", out))
	}
	return out, nil
}

// Identity returns path unchanged.
func Identity(_ context.Context, path string) (string, error) {
	return path, nil
}
