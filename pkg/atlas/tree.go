// Package atlas indexes a parcellation (volumetric or surface) for
// nearest-region lookups and matches tissue samples to parcel labels.
package atlas

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"atlasmatch/internal/models"
)

// Volume is a dense labeled grid together with the affine mapping voxel
// indices (i, j, k) to world coordinates. Labels are stored x-fastest:
// Labels[i + NX*(j + NY*k)].
type Volume struct {
	Labels     []int
	NX, NY, NZ int

	// Affine is the 4x4 voxel-to-world transform. Only the upper 3x4 block
	// is used.
	Affine *mat.Dense
}

// At returns the label at voxel (i, j, k).
func (v *Volume) At(i, j, k int) int {
	return v.Labels[i+v.NX*(j+v.NY*k)]
}

// WorldCoord maps voxel indices to world coordinates through the affine.
func (v *Volume) WorldCoord(i, j, k int) models.Point3D {
	a := v.Affine
	fi, fj, fk := float64(i), float64(j), float64(k)
	return models.Point3D{
		X: a.At(0, 0)*fi + a.At(0, 1)*fj + a.At(0, 2)*fk + a.At(0, 3),
		Y: a.At(1, 0)*fi + a.At(1, 1)*fj + a.At(1, 2)*fk + a.At(1, 3),
		Z: a.At(2, 0)*fi + a.At(2, 1)*fj + a.At(2, 2)*fk + a.At(2, 3),
	}
}

// AtlasTree indexes the nonzero-labeled points of a parcellation in a
// kd-tree for nearest-neighbor and radius queries. It owns the parcel
// label inventory and the per-label centroids.
//
// The tree is safe for concurrent queries but must not be queried while
// SetCoords or SetInfo is in flight; callers serialize rebuilds against
// reads.
type AtlasTree struct {
	tree   *kdtree.Tree
	labels []int
	coords []models.Point3D

	distinct   []int
	centroids  map[int]models.Point3D
	volumetric bool
	info       StructuralInfo
	numCores   int
}

// SetCores sets the number of worker goroutines used for matching. Zero or
// negative restores the default of one per CPU.
func (t *AtlasTree) SetCores(n int) { t.numCores = n }

// NewVolumetricTree builds an AtlasTree from a dense labeled volume.
// Zero-labeled voxels carry no region identity and are dropped before
// indexing.
func NewVolumetricTree(vol *Volume) (*AtlasTree, error) {
	if vol.NX*vol.NY*vol.NZ != len(vol.Labels) {
		return nil, fmt.Errorf("%w: %d labels for %dx%dx%d volume",
			ErrShapeMismatch, len(vol.Labels), vol.NX, vol.NY, vol.NZ)
	}
	if vol.Affine == nil {
		return nil, fmt.Errorf("%w: volume has no affine", ErrMissingGeometry)
	}
	if r, c := vol.Affine.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("%w: affine must be 4x4, got %dx%d", ErrShapeMismatch, r, c)
	}

	var labels []int
	var coords []models.Point3D
	for k := 0; k < vol.NZ; k++ {
		for j := 0; j < vol.NY; j++ {
			for i := 0; i < vol.NX; i++ {
				lab := vol.At(i, j, k)
				if lab == 0 {
					continue
				}
				labels = append(labels, lab)
				coords = append(coords, vol.WorldCoord(i, j, k))
			}
		}
	}

	return newTree(labels, coords, true)
}

// NewVolumetricPoints builds a volumetric AtlasTree from voxel labels and
// their precomputed world coordinates, for callers that have already
// applied the voxel-to-world transform. Zero-labeled voxels are dropped
// before indexing.
func NewVolumetricPoints(labels []int, coords []models.Point3D) (*AtlasTree, error) {
	t, err := NewSurfaceTree(labels, coords)
	if err != nil {
		return nil, err
	}
	t.volumetric = true
	return t, nil
}

// NewSurfaceTree builds an AtlasTree from parallel label and vertex
// coordinate arrays. Zero-labeled vertices are dropped before indexing.
func NewSurfaceTree(labels []int, coords []models.Point3D) (*AtlasTree, error) {
	if coords == nil {
		return nil, ErrMissingGeometry
	}
	if len(labels) != len(coords) {
		return nil, fmt.Errorf("%w: %d labels vs %d coordinates",
			ErrShapeMismatch, len(labels), len(coords))
	}

	keptLabels := make([]int, 0, len(labels))
	keptCoords := make([]models.Point3D, 0, len(coords))
	for i, lab := range labels {
		if lab == 0 {
			continue
		}
		keptLabels = append(keptLabels, lab)
		keptCoords = append(keptCoords, coords[i])
	}

	return newTree(keptLabels, keptCoords, false)
}

func newTree(labels []int, coords []models.Point3D, volumetric bool) (*AtlasTree, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyAtlas
	}

	t := &AtlasTree{
		labels:     labels,
		coords:     coords,
		volumetric: volumetric,
	}
	t.rebuild()
	return t, nil
}

// rebuild recreates the kd-tree and derived data from the current
// label/coordinate arrays.
func (t *AtlasTree) rebuild() {
	pts := make(indexedPoints, len(t.coords))
	for i, c := range t.coords {
		pts[i] = indexedPoint{Point3D: c, idx: i}
	}
	t.tree = kdtree.New(pts, false)
	t.distinct = distinctLabels(t.labels)
	t.centroids = computeCentroids(t.labels, t.coords)
}

// distinctLabels returns the sorted set of distinct nonzero labels.
func distinctLabels(labels []int) []int {
	seen := make(map[int]bool, len(labels))
	var out []int
	for _, lab := range labels {
		if lab != 0 && !seen[lab] {
			seen[lab] = true
			out = append(out, lab)
		}
	}
	sort.Ints(out)
	return out
}

// computeCentroids returns the mean coordinate of every nonzero label.
func computeCentroids(labels []int, coords []models.Point3D) map[int]models.Point3D {
	sums := make(map[int]models.Point3D)
	counts := make(map[int]int)
	for i, lab := range labels {
		if lab == 0 {
			continue
		}
		s := sums[lab]
		c := coords[i]
		sums[lab] = models.Point3D{X: s.X + c.X, Y: s.Y + c.Y, Z: s.Z + c.Z}
		counts[lab]++
	}

	centroids := make(map[int]models.Point3D, len(sums))
	for lab, s := range sums {
		n := float64(counts[lab])
		centroids[lab] = models.Point3D{X: s.X / n, Y: s.Y / n, Z: s.Z / n}
	}
	return centroids
}

// Volumetric reports whether the atlas was built from a labeled volume
// rather than surface vertices. The flag selects the matching policy used
// by LabelSamples.
func (t *AtlasTree) Volumetric() bool { return t.volumetric }

// Len returns the number of indexed points.
func (t *AtlasTree) Len() int { return len(t.labels) }

// Labels returns the sorted distinct nonzero labels present in the atlas.
func (t *AtlasTree) Labels() []int {
	out := make([]int, len(t.distinct))
	copy(out, t.distinct)
	return out
}

// LabelAt returns the label of the indexed point at position i.
func (t *AtlasTree) LabelAt(i int) int { return t.labels[i] }

// Centroid returns the mean coordinate of all points carrying the given
// label.
func (t *AtlasTree) Centroid(label int) (models.Point3D, error) {
	c, ok := t.centroids[label]
	if !ok {
		return models.Point3D{}, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	return c, nil
}

// Nearest returns the indices and Euclidean distances of the k indexed
// points closest to p, in ascending distance order. Fewer than k results
// are returned when the atlas holds fewer points.
func (t *AtlasTree) Nearest(p models.Point3D, k int) (idx []int, dist []float64) {
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, indexedPoint{Point3D: p})

	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, 0, k)
	for _, c := range keep.Heap {
		pt, ok := c.Comparable.(indexedPoint)
		if !ok {
			continue
		}
		hits = append(hits, hit{idx: pt.idx, dist: math.Sqrt(c.Dist)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	idx = make([]int, len(hits))
	dist = make([]float64, len(hits))
	for i, h := range hits {
		idx[i] = h.idx
		dist[i] = h.dist
	}
	return idx, dist
}

// WithinRadius returns the indices of all indexed points within Euclidean
// distance r of p, inclusive, in no particular order.
func (t *AtlasTree) WithinRadius(p models.Point3D, r float64) []int {
	keep := kdtree.NewDistKeeper(r * r)
	t.tree.NearestSet(keep, indexedPoint{Point3D: p})

	var idx []int
	for _, c := range keep.Heap {
		pt, ok := c.Comparable.(indexedPoint)
		if !ok {
			continue
		}
		idx = append(idx, pt.idx)
	}
	return idx
}

// SetCoords replaces the coordinate set, rebuilding the search structure
// and recomputing all centroids. The label array is unchanged, so the new
// coordinates must match its length.
func (t *AtlasTree) SetCoords(coords []models.Point3D) error {
	if len(coords) != len(t.labels) {
		return fmt.Errorf("%w: expected %d coordinates, received %d",
			ErrShapeMismatch, len(t.labels), len(coords))
	}
	t.coords = make([]models.Point3D, len(coords))
	copy(t.coords, coords)
	t.rebuild()
	return nil
}

// SetInfo attaches or replaces the region metadata used to constrain
// matching. The geometry is untouched. Passing nil detaches metadata.
func (t *AtlasTree) SetInfo(info StructuralInfo) error {
	if info != nil {
		if err := info.validate(t.centroids); err != nil {
			return err
		}
	}
	t.info = info
	return nil
}

// Info returns the attached region metadata, or nil.
func (t *AtlasTree) Info() StructuralInfo { return t.info }
