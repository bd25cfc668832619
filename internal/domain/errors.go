// Package domain holds the error vocabulary shared by services and
// adapters. Handlers map these sentinels onto HTTP statuses.
package domain

import "errors"

// ErrNotFound marks lookups whose subject is absent from the registry.
var ErrNotFound = errors.New("not found")

// ErrConflict marks writes that lost an optimistic-locking race with a
// concurrent request.
var ErrConflict = errors.New("conflict")

// ErrValidation marks input rejected before any mutation. Wrapped errors
// carry the field detail after the sentinel text.
var ErrValidation = errors.New("validation failed")

// ErrConfiguration marks operations aborted because required settings are
// missing or unusable.
var ErrConfiguration = errors.New("configuration error")

// ErrAlreadySatisfied marks an idempotent create that found its target in
// place (duplicate key, existing database). Callers treat it as success.
var ErrAlreadySatisfied = errors.New("already satisfied")

// ErrSafetySkipped marks a destructive lifecycle action withheld because
// the tenant's freshly derived state is active or trial. Not a failure.
var ErrSafetySkipped = errors.New("skipped by lifecycle safety check")
