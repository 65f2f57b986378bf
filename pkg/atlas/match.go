package atlas

import (
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"atlasmatch/internal/models"
)

// LabelSamples matches every sample to a parcel label, returning one label
// per sample in input order. Label 0 means the sample could not be
// assigned.
//
// For a volumetric atlas the search space around each sample is expanded
// one millimeter at a time, up to and including tolerance, and the first
// nonempty neighborhood decides the label. For a surface atlas every
// cortical sample is matched to its nearest vertex and tolerance acts as a
// standard-deviation multiplier for batch-relative outlier rejection.
func (t *AtlasTree) LabelSamples(samples []models.Sample, tolerance float64) []int {
	if t.volumetric {
		return t.matchVolume(samples, tolerance)
	}
	return t.matchSurface(samples, tolerance)
}

// matchVolume assigns labels using the expanding-radius policy. Samples
// are independent, so the batch is split into per-core ranges and matched
// in parallel; results are identical to sequential execution.
func (t *AtlasTree) matchVolume(samples []models.Sample, tolerance float64) []int {
	labels := make([]int, len(samples))

	var wg sync.WaitGroup
	numCores := t.numCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	samplesPerCore := (len(samples) + numCores - 1) / numCores

	for c := 0; c < numCores; c++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			start := coreID * samplesPerCore
			end := (coreID + 1) * samplesPerCore
			if end > len(samples) {
				end = len(samples)
			}
			if start >= len(samples) {
				return
			}

			for i := start; i < end; i++ {
				labels[i] = t.matchOne(samples[i], tolerance)
			}
		}(c)
	}
	wg.Wait()

	return labels
}

// matchOne runs the expanding-radius search for a single sample. The
// search terminates at the first radius returning any points, even when
// the candidate set resolves to 0.
func (t *AtlasTree) matchOne(s models.Sample, tolerance float64) int {
	for r := 0.0; r <= tolerance; r++ {
		idx := t.WithinRadius(s.Coordinate, r)
		if len(idx) == 0 {
			continue
		}
		possible := make([]int, len(idx))
		for n, i := range idx {
			possible[n] = t.labels[i]
		}
		return t.assignSample(possible, s)
	}
	return 0
}

// assignSample resolves the multiset of labels found within the winning
// radius to a single decision:
//
//  1. candidates failing the structural check are dropped,
//  2. a single surviving label wins outright,
//  3. otherwise the most frequent label wins,
//  4. frequency ties go to the label whose centroid is closest to the
//     sample, and exact centroid ties to the smallest label value.
func (t *AtlasTree) assignSample(possible []int, s models.Sample) int {
	counts := make(map[int]int)
	for _, lab := range possible {
		if lab != 0 {
			counts[lab]++
		}
	}

	distinct := make([]int, 0, len(counts))
	for lab := range counts {
		distinct = append(distinct, lab)
	}
	sort.Ints(distinct)

	if t.info != nil && s.Constrained() {
		checked := checkLabels(distinct, s, t.info)
		kept := distinct[:0]
		for i, lab := range checked {
			if lab != 0 {
				kept = append(kept, distinct[i])
			}
		}
		distinct = kept
	}

	switch len(distinct) {
	case 0:
		return 0
	case 1:
		return distinct[0]
	}

	maxCount := 0
	for _, lab := range distinct {
		if counts[lab] > maxCount {
			maxCount = counts[lab]
		}
	}
	var tied []int
	for _, lab := range distinct {
		if counts[lab] == maxCount {
			tied = append(tied, lab)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	// Iterating tied labels in ascending order with a strict comparison
	// makes an exact centroid-distance tie resolve to the smallest label.
	best := tied[0]
	bestDist := s.Coordinate.Dist(t.centroids[best])
	for _, lab := range tied[1:] {
		if d := s.Coordinate.Dist(t.centroids[lab]); d < bestDist {
			best, bestDist = lab, d
		}
	}
	return best
}

// matchSurface assigns labels using the nearest-vertex policy with
// batch-relative outlier rejection. Only cortical samples are matched;
// unannotated samples are treated as cortical.
func (t *AtlasTree) matchSurface(samples []models.Sample, tolerance float64) []int {
	labels := make([]int, len(samples))

	var matched []int // indices into samples
	var dists []float64
	for i, s := range samples {
		if s.Structure != "" && s.Structure != models.StructureCortex {
			continue
		}

		idx, dist := t.Nearest(s.Coordinate, 1)
		lab := t.labels[idx[0]]

		if t.info != nil && s.Constrained() {
			lab = checkLabels([]int{lab}, s, t.info)[0]
		}

		labels[i] = lab
		matched = append(matched, i)
		dists = append(dists, dist[0])
	}

	// Reject samples whose nearest-vertex distance is an outlier relative
	// to the batch. With one sample the standard deviation is undefined
	// and the step is skipped.
	if len(matched) > 1 {
		cutoff := stat.Mean(dists, nil) + tolerance*stat.StdDev(dists, nil)
		for n, i := range matched {
			if dists[n] > cutoff {
				labels[i] = 0
			}
		}
	}

	return labels
}
