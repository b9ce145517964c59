package storage

import (
	"errors"
	"fmt"

	"showtime/models"
)

var (
	ErrNotConnected = errors.New("adapter not connected")
	ErrNotFound     = errors.New("file not found")
	ErrIsDirectory  = errors.New("path is a directory")
)

// ConnectionError means a session could not be established or verified.
type ConnectionError struct {
	Protocol models.StorageType
	Host     string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connect %s: %v", e.Protocol, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ListError means a directory could not be listed.
type ListError struct {
	Path string
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list %s: %v", e.Path, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// NotFoundError means the remote path does not exist.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrNotFound, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnsupportedTypeError is returned by Registry.Create for unknown protocols.
type UnsupportedTypeError struct {
	Type models.StorageType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported storage type: %q", string(e.Type))
}
