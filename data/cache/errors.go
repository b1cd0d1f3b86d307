package cache

import "errors"

var ErrNotFound = errors.New("error cached price not found")
