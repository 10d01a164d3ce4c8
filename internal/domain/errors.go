package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")
var ErrUnsupported = errors.New("unsupported operation")
var ErrInvalidTransition = errors.New("invalid stage transition")
