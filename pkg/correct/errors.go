package correct

import "errors"

// Sentinel errors for post-processing corrections.
var (
	// ErrShapeMismatch indicates centroid or metadata coverage disagreeing
	// with the correlation matrix's region set.
	ErrShapeMismatch = errors.New("correct: mismatched input shapes")

	// ErrInsufficientData indicates a statistical operation lacking the
	// minimum inputs for a meaningful fit.
	ErrInsufficientData = errors.New("correct: insufficient data for fit")

	// ErrInsufficientDonors indicates fewer than two donor matrices, for
	// which pairwise correlation is undefined.
	ErrInsufficientDonors = errors.New("correct: at least two donors required")
)
