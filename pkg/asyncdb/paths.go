package asyncdb

import (
	"errors"
	"io/fs"
	"os"

	// Engines available to Open besides the default.
	_ "github.com/eigerco/kvdown/pkg/db/bolt"
	_ "github.com/eigerco/kvdown/pkg/db/memory"
)

// prepareLocation checks the location against the existence options and
// creates it when allowed. Single file locations are only checked; the
// engine creates the file.
func prepareLocation(location string, opts OpenOptions) error {
	info, err := os.Stat(location)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &PathError{Location: location, Err: err}
	}
	exists := err == nil

	switch {
	case !exists && opts.ErrorIfMissing:
		return &PathError{Location: location, Err: ErrPathMissing}
	case exists && !opts.NoSubdir && !info.IsDir():
		return &PathError{Location: location, Err: ErrNotADirectory}
	case exists && opts.ErrorIfExists:
		return &PathError{Location: location, Err: ErrAlreadyExists}
	case !exists && !opts.NoSubdir:
		if err := os.MkdirAll(location, 0o755); err != nil {
			return &PathError{Location: location, Err: err}
		}
	}
	return nil
}
