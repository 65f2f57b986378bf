package correct

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"atlasmatch/pkg/expression"
)

// KeepStableGenes filters every donor's measurement table down to the
// features whose regional pattern reproduces across donors.
//
// For each pair of donors the per-feature Pearson correlation is computed
// over the regions present in both tables, and each feature's stability
// score is the mean correlation across pairs (pairs with undefined
// correlation are excluded; a feature undefined for every pair scores NaN
// and is never retained). With rankCorrelation the tables are
// rank-transformed column-wise first, making the score a Spearman
// correlation.
//
// threshold is an absolute score cutoff, or, with asPercentile, a
// percentile of the score distribution (0.9 keeps the top 10%). Retention
// is strict: score > cutoff. The identical retained column subset is
// applied to every donor.
//
// Returns the reduced donor tables and the per-feature scores of the
// original feature space.
func KeepStableGenes(donors []*expression.Matrix, threshold float64, asPercentile, rankCorrelation bool) ([]*expression.Matrix, []float64, error) {
	if len(donors) < 2 {
		return nil, nil, fmt.Errorf("%w: received %d", ErrInsufficientDonors, len(donors))
	}
	numFeatures := len(donors[0].Features)
	for _, d := range donors[1:] {
		if len(d.Features) != numFeatures {
			return nil, nil, fmt.Errorf("%w: donors disagree on feature count",
				ErrShapeMismatch)
		}
	}
	if numFeatures == 0 {
		return nil, nil, fmt.Errorf("%w: donor tables have no features", ErrInsufficientData)
	}

	forCorr := donors
	if rankCorrelation {
		forCorr = make([]*expression.Matrix, len(donors))
		for i, d := range donors {
			forCorr[i] = rankTransform(d)
		}
	}

	present := make([][]bool, len(donors))
	for i, d := range donors {
		present[i] = d.Present()
	}

	// Mean correlation across donor pairs, one score per feature. NaN
	// pairs are dropped from the mean so an empty-overlap pair degrades
	// that pair, not the feature.
	sums := make([]float64, numFeatures)
	counts := make([]int, numFeatures)
	for a := 0; a < len(donors); a++ {
		for b := a + 1; b < len(donors); b++ {
			rowsA, rowsB := sharedRegions(donors[a], donors[b], present[a], present[b])
			for g := 0; g < numFeatures; g++ {
				r := pairCorrelation(forCorr[a], forCorr[b], rowsA, rowsB, g)
				if !math.IsNaN(r) {
					sums[g] += r
					counts[g]++
				}
			}
		}
	}
	scores := make([]float64, numFeatures)
	for g := range scores {
		if counts[g] == 0 {
			scores[g] = math.NaN()
		} else {
			scores[g] = sums[g] / float64(counts[g])
		}
	}

	cutoff := threshold
	if asPercentile {
		cutoff = percentile(scores, threshold)
	}

	var kept []int
	for g, s := range scores {
		if !math.IsNaN(s) && s > cutoff {
			kept = append(kept, g)
		}
	}

	out := make([]*expression.Matrix, len(donors))
	for i, d := range donors {
		out[i] = d.SelectFeatures(kept)
	}
	return out, scores, nil
}

// sharedRegions returns, pairwise-aligned, the row positions of regions
// present in both donors.
func sharedRegions(a, b *expression.Matrix, presentA, presentB []bool) (rowsA, rowsB []int) {
	indexB := make(map[int]int, len(b.Regions))
	for i, region := range b.Regions {
		if presentB[i] {
			indexB[region] = i
		}
	}
	for i, region := range a.Regions {
		if !presentA[i] {
			continue
		}
		if j, ok := indexB[region]; ok {
			rowsA = append(rowsA, i)
			rowsB = append(rowsB, j)
		}
	}
	return rowsA, rowsB
}

// pairCorrelation correlates one feature column between two donors over
// their shared rows. Undefined inputs (no overlap, NaN cells, zero
// variance) yield NaN.
func pairCorrelation(a, b *expression.Matrix, rowsA, rowsB []int, col int) float64 {
	if len(rowsA) == 0 {
		return math.NaN()
	}
	x := make([]float64, len(rowsA))
	y := make([]float64, len(rowsB))
	for n := range rowsA {
		x[n] = a.Data.At(rowsA[n], col)
		y[n] = b.Data.At(rowsB[n], col)
	}
	return stat.Correlation(x, y, nil)
}

// rankTransform replaces each column of the table with average-tie ranks
// (1-based). NaN cells stay NaN.
func rankTransform(m *expression.Matrix) *expression.Matrix {
	rows, cols := m.Data.Dims()
	out := m.SelectFeatures(identityCols(cols))
	for j := 0; j < cols; j++ {
		col := make([]float64, rows)
		for i := 0; i < rows; i++ {
			col[i] = m.Data.At(i, j)
		}
		for i, v := range rankColumn(col) {
			out.Data.Set(i, j, v)
		}
	}
	return out
}

func identityCols(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// rankColumn assigns 1-based ranks with ties averaged; NaN values keep
// their NaN.
func rankColumn(vals []float64) []float64 {
	type iv struct {
		idx int
		v   float64
	}
	var present []iv
	for i, v := range vals {
		if !math.IsNaN(v) {
			present = append(present, iv{i, v})
		}
	}
	sort.Slice(present, func(a, b int) bool { return present[a].v < present[b].v })

	ranks := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			ranks[i] = math.NaN()
		}
	}
	for start := 0; start < len(present); {
		end := start
		for end < len(present) && present[end].v == present[start].v {
			end++
		}
		// Average rank of the tied run, 1-based.
		avg := float64(start+end+1) / 2
		for k := start; k < end; k++ {
			ranks[present[k].idx] = avg
		}
		start = end
	}
	return ranks
}

// percentile converts a fractional threshold to a cutoff over the non-NaN
// score distribution. The cutoff is the floor(n*frac)-th smallest score,
// so strict retention keeps exactly n - floor(n*frac) features when all
// scores are distinct.
func percentile(scores []float64, frac float64) float64 {
	var clean []float64
	for _, s := range scores {
		if !math.IsNaN(s) {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)

	k := int(math.Floor(frac * float64(len(clean))))
	if k <= 0 {
		return math.Inf(-1)
	}
	if k > len(clean) {
		k = len(clean)
	}
	return clean[k-1]
}
