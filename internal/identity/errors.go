package identity

import "errors"

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrDuplicate    = errors.New("identity: already exists")
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrUnauthorized = errors.New("identity: unauthorized")
)
