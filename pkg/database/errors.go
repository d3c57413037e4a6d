// Copyright 2025 AetherEngine
//
// Package database provides sentinel errors for repository operations.

package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrArtifactNotFound is returned when an artifact row is not found
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrApplicationNotFound is returned when an application is not found
	ErrApplicationNotFound = errors.New("application not found")

	// ErrDeploymentNotFound is returned when a deployment is not found
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrNotPending is returned when a conditional pending->stored update
	// matched no row, meaning another completion won the race
	ErrNotPending = errors.New("artifact is not pending")

	// ErrDuplicateName is returned on unique violations for named entities
	ErrDuplicateName = errors.New("name already exists")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different digest
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally matching the constraint name substring.
func IsUniqueViolation(err error, constraintContains string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	if constraintContains == "" {
		return true
	}
	return strings.Contains(strings.ToLower(pqErr.Constraint), strings.ToLower(constraintContains))
}
