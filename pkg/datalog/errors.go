package datalog

import "errors"

var (
	// ErrBufferFull indicates a record larger than the free space.
	ErrBufferFull = errors.New("buffer full")
	// ErrClosing indicates a write after RequestClose.
	ErrClosing = errors.New("buffer closing")
)
