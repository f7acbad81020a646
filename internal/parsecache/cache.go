// Package parsecache shares parsed statements between collaborators handling
// the same logical request, so a statement is parsed once per request.
//
// A cache lives only on the context returned by Begin. Nothing is global:
// two requests never see each other's entries, and the release function
// returned by Begin empties the cache. Callers must defer it.
package parsecache

import (
	"context"
	"sync"

	"github.com/pingcap/tidb/parser/ast"

	"sql-guard/internal/parser"
)

type contextKey string

const scopeKey contextKey = "parseCacheScope"

// Scope is the per-request statement cache.
type Scope struct {
	mu       sync.Mutex
	entries  map[string]ast.StmtNode
	released bool
}

func newScope() *Scope {
	return &Scope{entries: make(map[string]ast.StmtNode)}
}

// Len returns the number of cached statements.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scope) lookup(sql string) (ast.StmtNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.entries[sql]
	return node, ok
}

func (s *Scope) store(sql string, node ast.StmtNode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	if _, ok := s.entries[sql]; !ok {
		s.entries[sql] = node
	}
	return true
}

func (s *Scope) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	s.released = true
}

// FromContext returns the scope attached to ctx.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok
}

// Begin attaches a fresh cache to ctx. The returned release function must be
// called when the request ends; it is idempotent. A ctx that already carries
// a live scope is returned unchanged with a no-op release, so the outermost
// Begin owns the lifecycle.
func Begin(ctx context.Context) (context.Context, func()) {
	if s, ok := FromContext(ctx); ok && !s.isReleased() {
		return ctx, func() {}
	}
	s := newScope()
	var once sync.Once
	return context.WithValue(ctx, scopeKey, s), func() { once.Do(s.release) }
}

func (s *Scope) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Do runs fn inside a fresh scope and releases it on every exit path,
// including a panic in fn.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release := Begin(ctx)
	defer release()
	return fn(ctx)
}

// Lookup returns the statement cached for sql in ctx's scope.
func Lookup(ctx context.Context, sql string) (ast.StmtNode, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return s.lookup(sql)
}

// Store caches node for sql. It reports false when ctx has no live scope.
// The first stored statement for a given text wins.
func Store(ctx context.Context, sql string, node ast.StmtNode) bool {
	s, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return s.store(sql, node)
}

// Parse returns the cached statement for sql, parsing and caching it on a
// miss. Without a scope it simply parses. Parse errors are not cached.
func Parse(ctx context.Context, p *parser.SQLParser, sql string) (ast.StmtNode, error) {
	if node, ok := Lookup(ctx, sql); ok {
		return node, nil
	}
	node, err := p.Parse(sql)
	if err != nil {
		return nil, err
	}
	Store(ctx, sql, node)
	return node, nil
}
