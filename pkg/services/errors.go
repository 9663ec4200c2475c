// Package services implements the Postgres-backed stores: metric events,
// tenants, usage counters, pricing records, and output-guard rules.
package services

import "errors"

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")
)
