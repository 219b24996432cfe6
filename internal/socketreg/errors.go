package socketreg

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrQueueFull        = errors.New("write queue full")
	ErrNilConnection    = errors.New("connection cannot be nil")
)
