package interfaces

import "errors"

// ErrNotFound is returned by every repository backend when a record does not exist
var ErrNotFound = errors.New("not found")
