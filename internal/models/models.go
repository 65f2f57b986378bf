package models

import (
	"math"
)

// Point3D is a location in world (anatomical) space, conventionally in
// millimeters.
type Point3D struct {
	X, Y, Z float64
}

// Sub returns the component-wise difference p - q.
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Dist returns the Euclidean distance between p and q.
func (p Point3D) Dist(q Point3D) float64 {
	d := p.Sub(q)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// Hemisphere identifies the side of the brain a region or sample belongs to.
type Hemisphere string

const (
	// Left hemisphere.
	Left Hemisphere = "L"

	// Right hemisphere.
	Right Hemisphere = "R"

	// Bilateral marks regions spanning both hemispheres; for these only the
	// structural class is compared during matching.
	Bilateral Hemisphere = "B"
)

// StructureCortex is the structural class covered by surface atlases.
// Samples outside this class are never matched against a surface atlas.
const StructureCortex = "cortex"

// RegionMeta is the recorded hemisphere and broad structural class of one
// atlas region.
type RegionMeta struct {
	// Hemisphere is L, R or B.
	Hemisphere Hemisphere

	// Structure is the broad structural class, e.g. "cortex",
	// "subcortex/brainstem", "cerebellum".
	Structure string
}

// Sample is a single tissue sample to be matched against an atlas.
type Sample struct {
	// Coordinate is the sample location in the atlas coordinate space.
	Coordinate Point3D

	// Hemisphere and Structure are the sample's own annotations. Both are
	// optional; when empty, matching is unconstrained.
	Hemisphere Hemisphere
	Structure  string
}

// Constrained reports whether the sample carries annotations that can
// constrain matching.
func (s Sample) Constrained() bool {
	return s.Hemisphere != "" || s.Structure != ""
}
