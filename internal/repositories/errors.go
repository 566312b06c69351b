package repositories

import "errors"

// ErrNotFound is returned when an update targets a document that does not exist
var ErrNotFound = errors.New("record not found")
