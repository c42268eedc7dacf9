// Package errors defines sentinel errors used across the NUMA cache core.
package errors

import "errors"

// Sentinel errors for allocation.
var (
	// ErrAllocationFailure indicates the target node is out of capacity.
	ErrAllocationFailure = errors.New("allocation failure: node out of capacity")

	// ErrUnknownNode indicates a node id outside the discovered topology.
	ErrUnknownNode = errors.New("unknown NUMA node")
)

// Sentinel errors for migration.
var (
	// ErrTargetInvalidated indicates the target node became unsuitable
	// between enqueue and service.
	ErrTargetInvalidated = errors.New("migration target invalidated")

	// ErrObjectGone indicates the object was deleted or evicted before
	// the migration was serviced.
	ErrObjectGone = errors.New("object gone before migration")
)

// Sentinel errors for configuration and key operations.
var (
	// ErrInvalidConfig indicates a bad key or out-of-range value to CONFIG SET.
	ErrInvalidConfig = errors.New("invalid configuration parameter")

	// ErrKeyNotFound indicates that the requested key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)
