// Package viewcache holds the session-scoped result caches behind the
// dashboard and analyze views.
//
// The caches exist so a navigation can paint instantly from the last known
// result while a background refresh reconciles with the backend. They are
// explicitly not a source of truth: any mutation that can invalidate them
// purges the whole namespace before the mutation is acknowledged.
package viewcache

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trendlens/trendlens/internal/trendlens"
)

// Namespace names for the two caches. They double as metric labels.
const (
	NamespaceDashboard = "dashboard"
	NamespaceAnalyze   = "analyze"
)

// Cache is an LRU of rendered results under one namespace, with a
// generation counter guarding background refreshes.
//
// A refresh round calls Begin before it fetches and PutIfCurrent after: any
// Purge or later Begin in between makes the round stale, so a slow response
// can never overwrite a newer one and nothing written before a purge
// survives it.
type Cache[V any] struct {
	name string

	mu      sync.Mutex
	entries *lru.Cache[string, V]
	gen     uint64
}

// New creates a cache holding at most size entries under the given
// namespace name.
func New[V any](name string, size int) *Cache[V] {
	entries, err := lru.New[string, V](size)
	if err != nil {
		// Only reachable with a non-positive size, which is a
		// programming error.
		panic(fmt.Sprintf("viewcache: bad size %d: %s", size, err))
	}

	return &Cache[V]{
		name:    name,
		entries: entries,
	}
}

// Name returns the cache's namespace name.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the value last stored under key, if any.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Get(key)
}

// Put stores the value for key unconditionally. Interactive fetches use
// this: the response that just answered the user is the newest state we
// have.
func (c *Cache[V]) Put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, v)
}

// Purge drops every entry in the namespace and invalidates all in-flight
// refresh rounds.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries.Purge()
}

// Begin marks the start of a refresh round and returns its generation
// token. The round stays current until a later Begin or a Purge supersedes
// it.
func (c *Cache[V]) Begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	return c.gen
}

// PutIfCurrent stores the value only when gen is still the newest round. It
// reports whether the write happened.
func (c *Cache[V]) PutIfCurrent(gen uint64, key string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}
	c.entries.Add(key, v)
	return true
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

// DashboardKey canonicalizes the (page, sentiment filter, search text)
// tuple addressing one dashboard listing. Distinct tuples must never
// collide; the same tuple must always produce the same key.
func DashboardKey(page int, sentiment, search string) string {
	return fmt.Sprintf("p=%d|sentiment=%s|q=%s", page, sentiment, strings.TrimSpace(search))
}

// AnalyzeKey canonicalizes the topic addressing one analyze result.
func AnalyzeKey(query string) string {
	return "q=" + strings.TrimSpace(query)
}

// Caches bundles the per-session view caches.
type Caches struct {
	Dashboard *Cache[trendlens.ReportPage]
	Analyze   *Cache[trendlens.TrendReport]
}

// PurgeReports drops everything derived from the reports table, in both
// namespaces. Called before a report deletion is acknowledged so nothing
// can repaint the deleted row.
func (c *Caches) PurgeReports() {
	c.Dashboard.Purge()
	c.Analyze.Purge()
}

// Registry hands out the per-session cache set. The registry itself is
// LRU-bounded so abandoned sessions fall out of memory without a sweeper.
type Registry struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *Caches]
}

const (
	maxSessions       = 4096
	dashboardPerSess  = 32
	analyzePerSession = 16
)

// NewRegistry creates a registry bounded to a fixed number of live
// sessions.
func NewRegistry() *Registry {
	sessions, err := lru.New[string, *Caches](maxSessions)
	if err != nil {
		panic(fmt.Sprintf("viewcache: session registry: %s", err))
	}

	return &Registry{sessions: sessions}
}

// For returns the cache set for the session, creating it on first use.
func (r *Registry) For(sessionID string) *Caches {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sessions.Get(sessionID); ok {
		return c
	}

	c := &Caches{
		Dashboard: New[trendlens.ReportPage](NamespaceDashboard, dashboardPerSess),
		Analyze:   New[trendlens.TrendReport](NamespaceAnalyze, analyzePerSession),
	}
	r.sessions.Add(sessionID, c)
	return c
}

// Drop discards the session's caches entirely. Used on sign-out and
// whenever the signed-in identity changes, since cached results belong to
// the credentials that fetched them.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions.Remove(sessionID)
}
