package archive

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("archive: key not found")
