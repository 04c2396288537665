package rowstore

import (
	"errors"
	"fmt"
)

var (
	// ErrReadFailed marks a failed read or count. The caller's view is unchanged.
	ErrReadFailed = errors.New("rowstore: read failed")
	// ErrWriteFailed marks a rejected insert, update or delete.
	ErrWriteFailed = errors.New("rowstore: write failed")
	// ErrNotFound indicates that an update or delete matched no row.
	ErrNotFound = errors.New("rowstore: row not found")

	errMissingDatabase = errors.New("database handle is required")
	errMissingRow      = errors.New("row is required")
	errMissingKey      = errors.New("primary key is required")
	errEmptyUpdate     = errors.New("update fields are required")
)

const (
	opStoreNew = "rowstore.new"
	opRead     = "rowstore.read"
	opCount    = "rowstore.count"
	opInsert   = "rowstore.insert"
	opUpdate   = "rowstore.update"
	opDelete   = "rowstore.delete"
)

// StoreError carries an operation.reason code, the error kind and the cause.
type StoreError struct {
	code string
	kind error
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Is matches the error kind (ErrReadFailed or ErrWriteFailed).
func (e *StoreError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, kind: kind, err: cause}
}
