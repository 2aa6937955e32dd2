package repository

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gabrielgits/crudrepo/remote"
	"github.com/gabrielgits/crudrepo/store"
)

var (
	// ErrNotFound matches every NotFoundError and remote 404 responses.
	ErrNotFound = errors.New("repository: record not found")

	// ErrTransportUnavailable matches failures where the Remote Endpoint
	// could not be reached at all.
	ErrTransportUnavailable = remote.ErrUnavailable
)

type NotFoundError struct {
	Table string
	ID    int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository: %s/%d not found", e.Table, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RemoteError is a failure reported by the Remote Endpoint, or a response
// that could not be understood.
type RemoteError struct {
	Op         string
	Table      string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("repository: %s %s: remote %d: %s", e.Op, e.Table, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("repository: %s %s: remote: %s", e.Op, e.Table, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// StoreError is a Record Store failure other than a miss.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("repository: %s %s: store: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FromRemote maps a remote client error into the taxonomy. Transport failures
// keep matching ErrTransportUnavailable.
func FromRemote(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrUnavailable) {
		return fmt.Errorf("repository: %s %s: %w", op, table, err)
	}

	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return &RemoteError{Op: op, Table: table, StatusCode: rerr.StatusCode, Message: rerr.Message, Err: err}
	}
	return &RemoteError{Op: op, Table: table, Message: err.Error(), Err: err}
}

// FromStore maps a store error into the taxonomy; a miss becomes NotFoundError.
func FromStore(op, table string, id int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Table: table, ID: id}
	}
	return &StoreError{Op: op, Table: table, Err: err}
}

// IsTransport reports whether err means the remote could not be reached.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}
