package atlas

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"atlasmatch/internal/models"
)

// surfaceFixture builds a small two-parcel surface atlas:
// parcel 1 around the origin, parcel 2 around (10, 0, 0).
func surfaceFixture(t *testing.T) *AtlasTree {
	t.Helper()
	labels := []int{1, 1, 2, 2, 0}
	coords := []models.Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
		{X: 10, Y: 0, Z: 0},
		{X: 12, Y: 0, Z: 0},
		{X: 100, Y: 100, Z: 100}, // background, must be dropped
	}
	tree, err := NewSurfaceTree(labels, coords)
	if err != nil {
		t.Fatalf("Failed to build surface tree: %v", err)
	}
	return tree
}

func TestNewSurfaceTree(t *testing.T) {
	tree := surfaceFixture(t)

	if tree.Volumetric() {
		t.Error("Surface tree should not be volumetric")
	}

	// The zero-labeled point must not be indexed
	if tree.Len() != 4 {
		t.Errorf("Expected 4 indexed points, got %d", tree.Len())
	}

	labels := tree.Labels()
	if len(labels) != 2 || labels[0] != 1 || labels[1] != 2 {
		t.Errorf("Expected distinct labels [1 2], got %v", labels)
	}
}

func TestNewSurfaceTreeErrors(t *testing.T) {
	if _, err := NewSurfaceTree([]int{1, 2}, nil); !errors.Is(err, ErrMissingGeometry) {
		t.Errorf("Expected ErrMissingGeometry, got %v", err)
	}

	coords := []models.Point3D{{X: 1}}
	if _, err := NewSurfaceTree([]int{1, 2}, coords); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	zeros := []models.Point3D{{X: 1}, {X: 2}}
	if _, err := NewSurfaceTree([]int{0, 0}, zeros); !errors.Is(err, ErrEmptyAtlas) {
		t.Errorf("Expected ErrEmptyAtlas, got %v", err)
	}
}

func TestNewVolumetricTree(t *testing.T) {
	// 2x2x1 volume with one labeled voxel at (1, 0, 0) and a scaling affine
	affine := mat.NewDense(4, 4, []float64{
		2, 0, 0, -1,
		0, 2, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 1,
	})
	vol := &Volume{
		Labels: []int{0, 5, 0, 5},
		NX:     2, NY: 2, NZ: 1,
		Affine: affine,
	}
	tree, err := NewVolumetricTree(vol)
	if err != nil {
		t.Fatalf("Failed to build volumetric tree: %v", err)
	}

	if !tree.Volumetric() {
		t.Error("Volumetric tree should report volumetric")
	}
	if tree.Len() != 2 {
		t.Errorf("Expected 2 indexed voxels, got %d", tree.Len())
	}

	// Voxel (1, 0, 0) maps to world (1, 0, 0); voxel (1, 1, 0) to (1, 2, 0)
	c, err := tree.Centroid(5)
	if err != nil {
		t.Fatalf("Centroid lookup failed: %v", err)
	}
	want := models.Point3D{X: 1, Y: 1, Z: 0}
	if c != want {
		t.Errorf("Expected centroid %v, got %v", want, c)
	}
}

func TestNewVolumetricTreeErrors(t *testing.T) {
	affine := mat.NewDense(4, 4, nil)

	vol := &Volume{Labels: []int{1, 2, 3}, NX: 2, NY: 1, NZ: 1, Affine: affine}
	if _, err := NewVolumetricTree(vol); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for label count, got %v", err)
	}

	vol = &Volume{Labels: []int{1, 2}, NX: 2, NY: 1, NZ: 1}
	if _, err := NewVolumetricTree(vol); !errors.Is(err, ErrMissingGeometry) {
		t.Errorf("Expected ErrMissingGeometry for nil affine, got %v", err)
	}

	vol = &Volume{Labels: []int{1, 2}, NX: 2, NY: 1, NZ: 1, Affine: mat.NewDense(3, 3, nil)}
	if _, err := NewVolumetricTree(vol); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for affine shape, got %v", err)
	}
}

func TestCentroid(t *testing.T) {
	tree := surfaceFixture(t)

	c, err := tree.Centroid(1)
	if err != nil {
		t.Fatalf("Centroid lookup failed: %v", err)
	}
	want := models.Point3D{X: 1, Y: 0, Z: 0}
	if c != want {
		t.Errorf("Expected centroid %v, got %v", want, c)
	}

	if _, err := tree.Centroid(99); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Expected ErrUnknownLabel, got %v", err)
	}
}

func TestNearest(t *testing.T) {
	tree := surfaceFixture(t)

	idx, dist := tree.Nearest(models.Point3D{X: 0.4, Y: 0, Z: 0}, 2)
	if len(idx) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(idx))
	}
	if tree.LabelAt(idx[0]) != 1 {
		t.Errorf("Expected nearest point to carry label 1, got %d", tree.LabelAt(idx[0]))
	}
	if math.Abs(dist[0]-0.4) > 1e-12 {
		t.Errorf("Expected nearest distance 0.4, got %f", dist[0])
	}
	if dist[1] < dist[0] {
		t.Errorf("Distances should be ascending, got %v", dist)
	}
}

func TestWithinRadius(t *testing.T) {
	tree := surfaceFixture(t)

	// Radius is inclusive
	idx := tree.WithinRadius(models.Point3D{X: 1, Y: 0, Z: 0}, 1)
	if len(idx) != 2 {
		t.Errorf("Expected 2 points within radius 1, got %d", len(idx))
	}

	idx = tree.WithinRadius(models.Point3D{X: 50, Y: 0, Z: 0}, 5)
	if len(idx) != 0 {
		t.Errorf("Expected no points, got %d", len(idx))
	}

	// Radius 0 finds exact coordinate hits only
	idx = tree.WithinRadius(models.Point3D{X: 2, Y: 0, Z: 0}, 0)
	if len(idx) != 1 {
		t.Errorf("Expected 1 exact hit at radius 0, got %d", len(idx))
	}
}

func TestSetCoords(t *testing.T) {
	tree := surfaceFixture(t)

	// Shift parcel 1 far away; centroids must be recomputed
	coords := []models.Point3D{
		{X: 100, Y: 0, Z: 0},
		{X: 102, Y: 0, Z: 0},
		{X: 10, Y: 0, Z: 0},
		{X: 12, Y: 0, Z: 0},
	}
	if err := tree.SetCoords(coords); err != nil {
		t.Fatalf("SetCoords failed: %v", err)
	}

	c, err := tree.Centroid(1)
	if err != nil {
		t.Fatalf("Centroid lookup failed: %v", err)
	}
	want := models.Point3D{X: 101, Y: 0, Z: 0}
	if c != want {
		t.Errorf("Expected recomputed centroid %v, got %v", want, c)
	}

	idx, _ := tree.Nearest(models.Point3D{X: 101, Y: 0, Z: 0}, 1)
	if tree.LabelAt(idx[0]) != 1 {
		t.Error("Search structure was not rebuilt after SetCoords")
	}

	if err := tree.SetCoords(coords[:2]); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestSetInfo(t *testing.T) {
	tree := surfaceFixture(t)

	info := StructuralInfo{
		1: {Hemisphere: models.Left, Structure: "cortex"},
	}
	if err := tree.SetInfo(info); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}

	// Metadata describing a label absent from the atlas is rejected
	bad := StructuralInfo{
		7: {Hemisphere: models.Left, Structure: "cortex"},
	}
	if err := tree.SetInfo(bad); !errors.Is(err, ErrOrphanLabel) {
		t.Errorf("Expected ErrOrphanLabel, got %v", err)
	}

	// The failed attach must not clobber the existing metadata
	if tree.Info() == nil {
		t.Error("Valid metadata was lost after rejected attach")
	}

	if err := tree.SetInfo(nil); err != nil {
		t.Fatalf("Detaching metadata failed: %v", err)
	}
	if tree.Info() != nil {
		t.Error("Expected nil metadata after detach")
	}
}
