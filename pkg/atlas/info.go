package atlas

import (
	"fmt"

	"atlasmatch/internal/models"
)

// StructuralInfo maps atlas labels to their recorded hemisphere and broad
// structural class. Metadata may cover only a subset of the atlas; a label
// without metadata is never rejected by the structural check.
type StructuralInfo map[int]models.RegionMeta

// validate checks every described label against the atlas label set.
func (info StructuralInfo) validate(centroids map[int]models.Point3D) error {
	for lab := range info {
		if _, ok := centroids[lab]; !ok {
			return fmt.Errorf("%w: %d", ErrOrphanLabel, lab)
		}
	}
	return nil
}

// checkLabels validates tentative labels against a sample's declared
// hemisphere and structure. Bilateral regions are compared on structure
// alone; L/R regions must match on both. Rejected candidates become 0 in
// the returned slice, which always has the length of the input. A nil info
// map performs no filtering.
func checkLabels(candidates []int, s models.Sample, info StructuralInfo) []int {
	out := make([]int, len(candidates))
	copy(out, candidates)
	if info == nil {
		return out
	}

	for i, lab := range out {
		if lab == 0 {
			continue
		}
		meta, ok := info[lab]
		if !ok {
			continue
		}
		if meta.Hemisphere == models.Bilateral {
			if meta.Structure != s.Structure {
				out[i] = 0
			}
			continue
		}
		if meta.Hemisphere != s.Hemisphere || meta.Structure != s.Structure {
			out[i] = 0
		}
	}
	return out
}
