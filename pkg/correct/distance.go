// Package correct post-processes region-by-feature measurement tables:
// residualizing correlation structure against inter-region distance and
// filtering features by cross-donor stability.
package correct

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"atlasmatch/internal/models"
)

// RemoveDistance residualizes a symmetric region-by-region correlation
// matrix against inter-centroid Euclidean distance. Regions must be listed
// in matrix row order and every region needs a centroid.
//
// When structures is non-nil, upper-triangle pairs are grouped by the
// unordered pair of their endpoints' structural categories (cortex-cortex,
// cortex-subcortex, ...) and each group is residualized independently.
// Euclidean distance is an approximation; path distance along the cortical
// surface is not modeled.
//
// The result is a fresh symmetric matrix with unit diagonal.
func RemoveDistance(corr mat.Matrix, regions []int, centroids map[int]models.Point3D, structures map[int]string) (*mat.Dense, error) {
	r, c := corr.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: correlation matrix is %dx%d", ErrShapeMismatch, r, c)
	}
	if r != len(regions) {
		return nil, fmt.Errorf("%w: %dx%d matrix for %d regions",
			ErrShapeMismatch, r, c, len(regions))
	}
	pts := make([]models.Point3D, r)
	for i, region := range regions {
		p, ok := centroids[region]
		if !ok {
			return nil, fmt.Errorf("%w: no centroid for region %d", ErrShapeMismatch, region)
		}
		pts[i] = p
	}

	// Upper-triangle pairs, grouped by connection type when requested.
	type pair struct{ i, j int }
	groups := make(map[string][]pair)
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			var key string
			if structures != nil {
				key = connectionType(structures[regions[i]], structures[regions[j]])
			}
			groups[key] = append(groups[key], pair{i, j})
		}
	}

	out := mat.NewDense(r, r, nil)
	for _, pairs := range groups {
		dv := make([]float64, len(pairs))
		iv := make([]float64, len(pairs))
		for n, p := range pairs {
			dv[n] = corr.At(p.i, p.j)
			iv[n] = pts[p.i].Dist(pts[p.j])
		}
		resid, err := residDist(dv, iv)
		if err != nil {
			return nil, err
		}
		for n, p := range pairs {
			out.Set(p.i, p.j, resid[n])
			out.Set(p.j, p.i, resid[n])
		}
	}
	for i := 0; i < r; i++ {
		out.Set(i, i, 1)
	}

	return out, nil
}

// connectionType is the order-independent key for a pair of structural
// categories.
func connectionType(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// residDist removes the component of dv linearly predictable from iv,
// fitting dv ~ b0 + b1*iv by ordinary least squares. NaN correlations are
// excluded from the fit and keep a NaN residual, leaving the rest of the
// group intact. Degenerate groups recover locally: a single defined pair
// is reproduced exactly by the fit (residual 0), and a group with no
// distance spread is centered on its mean.
func residDist(dv, iv []float64) ([]float64, error) {
	if len(dv) != len(iv) {
		return nil, fmt.Errorf("%w: %d correlations vs %d distances",
			ErrShapeMismatch, len(dv), len(iv))
	}
	resid := make([]float64, len(dv))

	var defined []int
	for n, v := range dv {
		if math.IsNaN(v) {
			resid[n] = math.NaN()
		} else {
			defined = append(defined, n)
		}
	}
	if len(defined) <= 1 {
		// Zero pairs, or an intercept alone reproducing the point.
		return resid, nil
	}

	cdv := make([]float64, len(defined))
	civ := make([]float64, len(defined))
	for i, n := range defined {
		cdv[i] = dv[n]
		civ[i] = iv[n]
	}

	if stat.Variance(civ, nil) == 0 {
		floats.AddConst(-stat.Mean(cdv, nil), cdv)
		for i, n := range defined {
			resid[n] = cdv[i]
		}
		return resid, nil
	}

	alpha, beta := stat.LinearRegression(civ, cdv, nil, false)
	for _, n := range defined {
		resid[n] = dv[n] - (alpha + beta*iv[n])
	}
	return resid, nil
}
