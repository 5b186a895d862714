package storage

import (
	"errors"
	"fmt"

	"github.com/bull/vector-rag/internal/rag"
)

var (
	ErrUnreachable       = errors.New("vector store unreachable")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("invalid request")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

func notFoundError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", rag.ErrStoreFailure, ErrNotFound, fmt.Sprintf(format, args...))
}

func alreadyExistsError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", rag.ErrStoreFailure, ErrAlreadyExists, fmt.Sprintf(format, args...))
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", rag.ErrConfiguration, ErrValidation, fmt.Sprintf(format, args...))
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: %w: vector has %d dimensions, index expects %d",
		rag.ErrConfiguration, ErrDimensionMismatch, got, want)
}

func transientError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", rag.ErrStoreTransient, op, err)
}

func failure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", rag.ErrStoreFailure, op, err)
}
