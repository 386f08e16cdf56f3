package repository

import "errors"

// ErrProductNotFound is returned when no catalog row matches an anchor.
var ErrProductNotFound = errors.New("product not found")
