package batch

import "errors"

var ErrNotFound = errors.New("key was not returned by fetch")
