package store

import "errors"

// ErrAlreadyExists is returned by Append when the event hash is already
// present in the log. It is not a failure: callers should treat it as a
// successful no-op (spec.md §4.2).
var ErrAlreadyExists = errors.New("store: event already exists")

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")
