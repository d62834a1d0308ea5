package state

import "errors"

var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionRegistered = errors.New("connection is already registered")
	ErrEmptyIdentity        = errors.New("identity must not be empty")
	ErrEmptyRoom            = errors.New("room id must not be empty")
)
