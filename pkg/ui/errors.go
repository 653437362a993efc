package ui

import "errors"

var (
	// ErrInvalidState is returned when a tree operation would break the
	// single-owner or acyclic shape of the tree.
	ErrInvalidState = errors.New("ui: invalid tree state")

	// ErrNotFound is returned when a component id is not present on a page.
	ErrNotFound = errors.New("ui: component not found")

	// ErrDisposed is returned when mutating a page that has been disposed.
	ErrDisposed = errors.New("ui: page disposed")
)
