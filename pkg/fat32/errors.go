package fat32

import "errors"

var (
	// ErrInvalidName indicates a name that does not fit 8.3.
	ErrInvalidName = errors.New("invalid 8.3 name")
	// ErrNotMounted indicates the volume has not been mounted.
	ErrNotMounted = errors.New("volume not mounted")
	// ErrBusy indicates another file is open for writing on the volume.
	ErrBusy = errors.New("volume has an open file")
	// ErrNotFound indicates a missing directory entry.
	ErrNotFound = errors.New("file not found")
	// ErrBadChain indicates a cluster chain leaving the volume.
	ErrBadChain = errors.New("corrupt cluster chain")
	// ErrTooSmall indicates an image too small to format.
	ErrTooSmall = errors.New("image too small")
)
