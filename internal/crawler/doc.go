// Package crawler implements the documentation crawl engine: URL
// normalization and scoping, content classification, the breadth-first
// frontier, budget accounting, and the orchestrator that drives the
// fetchers, storage, and transform collaborators declared in interfaces.go.
package crawler
