// Package store provides the shared-namespace capability the instance ID
// allocator coordinates through. A namespace is a flat set of named records
// in an object store; the only primitive with cross-process semantics is the
// conditional (non-overwriting) create.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store error types.
var (
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidName       = errors.New("invalid name")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Repo is the minimal record-store capability the allocator depends on.
// Implementations must be safe for concurrent use by multiple processes
// against the same namespace; the conditional create must be atomic per
// record name.
type Repo interface {
	// EnsureNamespace creates the namespace if it does not exist.
	// It is idempotent and never fails because the namespace is already there.
	EnsureNamespace(ctx context.Context) error

	// ListRecordNames returns the names of all current records.
	// No ordering is guaranteed; callers must impose their own.
	ListRecordNames(ctx context.Context) ([]string, error)

	// CreateRecord writes a record. With overwrite=false the write is
	// conditional: if a record of that name already exists the call returns
	// (false, nil), a race signal rather than an error. Any unexpected
	// backend response is returned as an error.
	CreateRecord(ctx context.Context, name string, content []byte, overwrite bool) (bool, error)

	// DeleteRecord removes a record and, when includeDerived is set, any
	// derived artifacts (archived prior versions). Deleting an absent
	// record is not an error.
	DeleteRecord(ctx context.Context, name string, includeDerived bool) error
}

// RecordReader is an optional capability for inspecting record contents.
// The allocator never reads records; only the CLI tooling does, so this
// lives outside Repo.
type RecordReader interface {
	// ReadRecord returns the content of a record, or ErrRecordNotFound.
	ReadRecord(ctx context.Context, name string) ([]byte, error)
}

// validateName rejects names that could escape the namespace directory or
// produce ambiguous URL paths. Record names produced by the allocator are
// plain decimals, but the store layer guards independently.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: null byte", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: path separator in %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, "_") {
		// Reserved for store-internal directories (derived artifacts).
		return fmt.Errorf("%w: reserved prefix in %q", ErrInvalidName, name)
	}
	return nil
}
