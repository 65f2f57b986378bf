package atlas

import "errors"

// Sentinel errors for atlas construction and queries.
var (
	// ErrShapeMismatch indicates paired inputs of differing lengths, e.g.
	// labels vs. coordinates or a malformed affine.
	ErrShapeMismatch = errors.New("atlas: mismatched input shapes")

	// ErrMissingGeometry indicates a surface atlas was requested without
	// vertex coordinates.
	ErrMissingGeometry = errors.New("atlas: surface atlas requires coordinates")

	// ErrUnknownLabel indicates a label absent from the indexed label set.
	ErrUnknownLabel = errors.New("atlas: unknown label")

	// ErrOrphanLabel indicates region metadata describing a label that does
	// not exist in the indexed label set.
	ErrOrphanLabel = errors.New("atlas: metadata references label not in atlas")

	// ErrEmptyAtlas indicates no nonzero-labeled points were supplied.
	ErrEmptyAtlas = errors.New("atlas: no nonzero-labeled points")
)
