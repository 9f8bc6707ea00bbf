package store

import "errors"

// Sentinel errors surfaced by store operations. Callers treat Unavailable as
// transient (store locked, disk full) and retry on the next supervisor tick.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrDuplicatePath = errors.New("store: duplicate path")
	ErrUnavailable   = errors.New("store: unavailable")
	ErrInvalidStatus = errors.New("store: invalid terminal status")
)
