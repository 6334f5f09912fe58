package pebble

import "errors"

const (
	ErrInIteratorCreation = "pebble: creating iterator: %w"
	ErrIteratorValue      = "pebble: reading iterator value: %w"
)

var (
	// ErrIteratorInvalid is returned when reading from an unpositioned cursor.
	ErrIteratorInvalid = errors.New("pebble: iterator is not positioned")
)
