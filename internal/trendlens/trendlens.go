// Package trendlens holds the core types shared across the Trendlens web
// tier.
//
// Every entity here mirrors a row owned by the trend backend. The web tier
// only ever holds copies as caches of server state: they are reconciled on
// every realtime event or navigation and are never treated as the source of
// truth.
package trendlens

import "errors"

var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource already exists")
)
