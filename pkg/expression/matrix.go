// Package expression holds region-by-feature measurement tables and the
// derived region-by-region correlation structure.
package expression

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Sentinel errors for expression tables.
var (
	// ErrNotATable indicates ragged or otherwise non-tabular input where a
	// rectangular feature matrix was required.
	ErrNotATable = errors.New("expression: input is not a rectangular table")

	// ErrShapeMismatch indicates row/column counts disagreeing with the
	// supplied region or feature identifiers.
	ErrShapeMismatch = errors.New("expression: mismatched table shape")

	// ErrNoDonors indicates an empty donor collection.
	ErrNoDonors = errors.New("expression: no donor matrices supplied")
)

// Matrix is a regions-by-features measurement table for one donor. Rows
// are keyed by region label; a region absent from the donor (no sample
// matched it) is represented by an all-NaN row. Rows have no guaranteed
// density.
type Matrix struct {
	Regions  []int
	Features []string
	Data     *mat.Dense
}

// New builds a Matrix from per-region rows. Every row must have one value
// per feature.
func New(regions []int, features []string, rows [][]float64) (*Matrix, error) {
	if len(rows) != len(regions) {
		return nil, fmt.Errorf("%w: %d rows for %d regions",
			ErrShapeMismatch, len(rows), len(regions))
	}
	data := mat.NewDense(len(regions), len(features), nil)
	for i, row := range rows {
		if len(row) != len(features) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d",
				ErrNotATable, i, len(row), len(features))
		}
		data.SetRow(i, row)
	}
	return &Matrix{Regions: regions, Features: features, Data: data}, nil
}

// RowIndex returns the row position of a region label, or -1.
func (m *Matrix) RowIndex(label int) int {
	for i, r := range m.Regions {
		if r == label {
			return i
		}
	}
	return -1
}

// Present reports, per row, whether the region carries any data (at least
// one non-NaN value).
func (m *Matrix) Present() []bool {
	_, cols := m.Data.Dims()
	out := make([]bool, len(m.Regions))
	for i := range m.Regions {
		for j := 0; j < cols; j++ {
			if !math.IsNaN(m.Data.At(i, j)) {
				out[i] = true
				break
			}
		}
	}
	return out
}

// SelectFeatures returns a copy of m restricted to the feature columns at
// the given positions.
func (m *Matrix) SelectFeatures(cols []int) *Matrix {
	regions := make([]int, len(m.Regions))
	copy(regions, m.Regions)
	if len(cols) == 0 {
		return &Matrix{Regions: regions}
	}
	data := mat.NewDense(len(m.Regions), len(cols), nil)
	features := make([]string, len(cols))
	for j, c := range cols {
		features[j] = m.Features[c]
		for i := range m.Regions {
			data.Set(i, j, m.Data.At(i, c))
		}
	}
	return &Matrix{Regions: regions, Features: features, Data: data}
}

// DropMissing returns a copy of m without its all-NaN rows.
func (m *Matrix) DropMissing() *Matrix {
	present := m.Present()
	var regions []int
	var rows []int
	for i, ok := range present {
		if ok {
			regions = append(regions, m.Regions[i])
			rows = append(rows, i)
		}
	}
	features := make([]string, len(m.Features))
	copy(features, m.Features)
	if len(rows) == 0 {
		return &Matrix{Features: features}
	}
	data := mat.NewDense(len(rows), len(m.Features), nil)
	for n, i := range rows {
		data.SetRow(n, mat.Row(nil, i, m.Data))
	}
	return &Matrix{Regions: regions, Features: features, Data: data}
}

// CorrMatrix computes the region-by-region Pearson correlation of the
// table's rows. The result is symmetric with unit diagonal; regions with
// missing data produce NaN correlations.
func CorrMatrix(m *Matrix) *mat.SymDense {
	r := len(m.Regions)
	dst := mat.NewSymDense(r, nil)
	// gonum correlates columns, so hand it the transposed table.
	stat.CorrelationMatrix(dst, m.Data.T(), nil)
	return dst
}

// AggregateDonors averages measurement tables across donors over the
// union of their regions. All donors must share the feature space. Cells
// missing in a donor are excluded from that cell's mean; cells missing in
// every donor stay NaN.
func AggregateDonors(donors []*Matrix) (*Matrix, error) {
	if len(donors) == 0 {
		return nil, ErrNoDonors
	}
	features := donors[0].Features
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: donor tables have no features", ErrNotATable)
	}
	for _, d := range donors[1:] {
		if len(d.Features) != len(features) {
			return nil, fmt.Errorf("%w: donors disagree on feature count",
				ErrShapeMismatch)
		}
	}

	seen := make(map[int]bool)
	var regions []int
	for _, d := range donors {
		for _, r := range d.Regions {
			if !seen[r] {
				seen[r] = true
				regions = append(regions, r)
			}
		}
	}
	sort.Ints(regions)
	if len(regions) == 0 {
		out := make([]string, len(features))
		copy(out, features)
		return &Matrix{Features: out}, nil
	}

	data := mat.NewDense(len(regions), len(features), nil)
	for i, region := range regions {
		for j := range features {
			sum, n := 0.0, 0
			for _, d := range donors {
				ri := d.RowIndex(region)
				if ri < 0 {
					continue
				}
				if v := d.Data.At(ri, j); !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				data.Set(i, j, math.NaN())
			} else {
				data.Set(i, j, sum/float64(n))
			}
		}
	}

	out := make([]string, len(features))
	copy(out, features)
	return &Matrix{Regions: regions, Features: out, Data: data}, nil
}
