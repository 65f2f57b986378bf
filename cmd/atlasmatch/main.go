package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"atlasmatch/internal/models"
	"atlasmatch/pkg/annotation"
	"atlasmatch/pkg/atlas"
	"atlasmatch/pkg/config"
	"atlasmatch/pkg/correct"
	"atlasmatch/pkg/expression"
)

func main() {
	// Parse command line arguments
	atlasPath := flag.String("atlas", "", "CSV of atlas points (columns label,x,y,z)")
	volumetric := flag.Bool("volumetric", true, "Treat atlas points as voxels (expanding-radius matching) rather than surface vertices")
	infoPath := flag.String("info", "", "Optional CSV of region metadata (columns id,hemisphere,structure)")
	samplesPath := flag.String("samples", "", "CSV of sample annotations (columns mni_x,mni_y,mni_z[,hemisphere,structure])")
	outputPath := flag.String("output", "labels.csv", "Output CSV of per-sample labels")
	tolerance := flag.Float64("tolerance", 0, "Matching tolerance (mm radius or s.d. multiplier); 0 uses the configured default")
	expressionPaths := flag.String("expression", "", "Optional comma-separated per-donor measurement CSVs to filter, aggregate and distance-correct")
	correctedPath := flag.String("corrected", "corrected.csv", "Output CSV for the distance-corrected matrix")
	configPath := flag.String("config", "atlasmatch.yaml", "Configuration file")
	flag.Parse()

	// Validate inputs
	if *atlasPath == "" || *samplesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *tolerance > 0 {
		cfg.Matching.ToleranceMM = *tolerance
	}

	// Build the atlas index
	tree, err := loadAtlas(*atlasPath, *infoPath, *volumetric)
	if err != nil {
		log.Fatalf("Failed to build atlas index: %v", err)
	}
	tree.SetCores(cfg.Matching.NumCores)

	if cfg.Output.Verbose {
		kind := "vertices"
		if tree.Volumetric() {
			kind = "voxels"
		}
		fmt.Printf("Indexed %d %s across %d regions\n", tree.Len(), kind, len(tree.Labels()))
	}

	// Match samples to parcels
	samples, err := readSamples(*samplesPath)
	if err != nil {
		log.Fatalf("Failed to read samples: %v", err)
	}
	labels := tree.LabelSamples(samples, cfg.Matching.ToleranceMM)

	assigned := 0
	for _, lab := range labels {
		if lab != 0 {
			assigned++
		}
	}
	if cfg.Output.Verbose {
		fmt.Printf("Matched %d of %d samples (tolerance %.1f)\n",
			assigned, len(samples), cfg.Matching.ToleranceMM)
	}

	out, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer out.Close()
	if err := annotation.WriteLabels(out, labels); err != nil {
		log.Fatalf("Failed to write labels: %v", err)
	}
	fmt.Printf("Labels saved to: %s\n", *outputPath)

	// Optional post-processing of donor measurement tables
	if *expressionPaths != "" {
		if err := postprocess(strings.Split(*expressionPaths, ","), tree, cfg, *correctedPath); err != nil {
			log.Fatalf("Post-processing failed: %v", err)
		}
	}
}

// loadAtlas builds the spatial index from CSV geometry and optionally
// attaches region metadata.
func loadAtlas(atlasPath, infoPath string, volumetric bool) (*atlas.AtlasTree, error) {
	f, err := os.Open(atlasPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, coords, err := annotation.ReadSurfaceGeometry(f)
	if err != nil {
		return nil, err
	}

	var tree *atlas.AtlasTree
	if volumetric {
		tree, err = atlas.NewVolumetricPoints(labels, coords)
	} else {
		tree, err = atlas.NewSurfaceTree(labels, coords)
	}
	if err != nil {
		return nil, err
	}

	if infoPath != "" {
		g, err := os.Open(infoPath)
		if err != nil {
			return nil, err
		}
		defer g.Close()
		info, err := annotation.ReadAtlasInfo(g)
		if err != nil {
			return nil, err
		}
		if err := tree.SetInfo(info); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func readSamples(path string) ([]models.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return annotation.ReadSamples(f)
}

// postprocess runs the cross-donor stability filter, aggregates donors and
// residualizes the region correlation matrix against distance.
func postprocess(paths []string, tree *atlas.AtlasTree, cfg *config.Config, outputPath string) error {
	donors := make([]*expression.Matrix, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		m, err := annotation.ReadMatrix(f)
		f.Close()
		if err != nil {
			return err
		}
		donors = append(donors, m)
	}

	filtered, scores, err := correct.KeepStableGenes(donors,
		cfg.Stability.Threshold, cfg.Stability.AsPercentile, cfg.Stability.RankCorrelation)
	if err != nil {
		return err
	}
	if cfg.Output.Verbose {
		fmt.Printf("Stability filter retained %d of %d features\n",
			len(filtered[0].Features), len(scores))
	}

	aggregated, err := expression.AggregateDonors(filtered)
	if err != nil {
		return err
	}
	aggregated = aggregated.DropMissing()
	if len(aggregated.Regions) == 0 {
		return fmt.Errorf("no region carries data after aggregation")
	}
	corr := expression.CorrMatrix(aggregated)

	var corrected mat.Matrix = corr
	if cfg.Correction.RemoveDistance {
		var err error
		corrected, err = removeDistance(corr, aggregated, tree, cfg)
		if err != nil {
			return err
		}
	}

	out := &expression.Matrix{
		Regions:  aggregated.Regions,
		Features: regionFeatures(aggregated.Regions),
		Data:     mat.DenseCopyOf(corrected),
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := annotation.WriteMatrix(f, out); err != nil {
		return err
	}
	fmt.Printf("Corrected matrix saved to: %s\n", outputPath)
	return nil
}

// removeDistance gathers centroids and structural categories for the
// aggregated region set and residualizes the correlation matrix.
func removeDistance(corr mat.Matrix, aggregated *expression.Matrix, tree *atlas.AtlasTree, cfg *config.Config) (*mat.Dense, error) {
	centroids := make(map[int]models.Point3D, len(aggregated.Regions))
	for _, region := range aggregated.Regions {
		c, err := tree.Centroid(region)
		if err != nil {
			return nil, err
		}
		centroids[region] = c
	}

	var structures map[int]string
	if cfg.Correction.StratifyByStructure && tree.Info() != nil {
		structures = make(map[int]string, len(tree.Info()))
		for lab, meta := range tree.Info() {
			structures[lab] = meta.Structure
		}
	}

	return correct.RemoveDistance(corr, aggregated.Regions, centroids, structures)
}

// regionFeatures names the columns of a region-by-region matrix.
func regionFeatures(regions []int) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = fmt.Sprintf("region_%d", r)
	}
	return out
}
