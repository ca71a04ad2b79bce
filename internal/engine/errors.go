// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"errors"
	"fmt"
)

// Error classes the runner's retry policy keys on. Transient failures
// are retried once within the stage; unavailable engines trigger the
// evict-then-retry path and may degrade the stage.
var (
	ErrTransient   = errors.New("transient engine failure")
	ErrUnavailable = errors.New("engine unavailable")
)

// Transient wraps err as a retryable one-shot failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Unavailable wraps err as a missing-model / OOM class failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsTransient reports whether err is in the retry-once class.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsUnavailable reports whether err is in the degrade-or-fail class.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
