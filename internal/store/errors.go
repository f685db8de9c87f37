package store

import "errors"

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid query")
	ErrClosed       = errors.New("store closed")
)
