// Package annotation reads and writes the delimited tables surrounding the
// matching core: sample annotations, atlas metadata, surface geometry,
// label assignments and measurement matrices.
package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"atlasmatch/internal/models"
	"atlasmatch/pkg/atlas"
	"atlasmatch/pkg/expression"
)

// Sentinel errors for table parsing.
var (
	// ErrMissingColumn indicates a required column is absent from a header.
	ErrMissingColumn = errors.New("annotation: required column missing")

	// ErrBadValue indicates a cell that could not be parsed.
	ErrBadValue = errors.New("annotation: unparseable value")
)

// columnIndex maps header names to positions.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

func parseFloat(records [][]string, row int, col int) (float64, error) {
	v, err := strconv.ParseFloat(records[row][col], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %d: %q", ErrBadValue, row, col, records[row][col])
	}
	return v, nil
}

func parseInt(records [][]string, row int, col int) (int, error) {
	v, err := strconv.Atoi(records[row][col])
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %d: %q", ErrBadValue, row, col, records[row][col])
	}
	return v, nil
}

// ReadSamples parses a sample annotation table. Required columns: mni_x,
// mni_y, mni_z. Optional columns hemisphere and structure constrain
// matching when present.
func ReadSamples(r io.Reader) ([]models.Sample, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading annotation table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	idx := columnIndex(records[0])
	for _, col := range []string{"mni_x", "mni_y", "mni_z"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	hemi, hasHemi := idx["hemisphere"]
	structure, hasStructure := idx["structure"]

	samples := make([]models.Sample, 0, len(records)-1)
	for row := 1; row < len(records); row++ {
		var s models.Sample
		if s.Coordinate.X, err = parseFloat(records, row, idx["mni_x"]); err != nil {
			return nil, err
		}
		if s.Coordinate.Y, err = parseFloat(records, row, idx["mni_y"]); err != nil {
			return nil, err
		}
		if s.Coordinate.Z, err = parseFloat(records, row, idx["mni_z"]); err != nil {
			return nil, err
		}
		if hasHemi {
			s.Hemisphere = models.Hemisphere(records[row][hemi])
		}
		if hasStructure {
			s.Structure = records[row][structure]
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// ReadAtlasInfo parses region metadata. Required columns: id, hemisphere,
// structure.
func ReadAtlasInfo(r io.Reader) (atlas.StructuralInfo, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading atlas info table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	idx := columnIndex(records[0])
	for _, col := range []string{"id", "hemisphere", "structure"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	info := make(atlas.StructuralInfo, len(records)-1)
	for row := 1; row < len(records); row++ {
		id, err := parseInt(records, row, idx["id"])
		if err != nil {
			return nil, err
		}
		info[id] = models.RegionMeta{
			Hemisphere: models.Hemisphere(records[row][idx["hemisphere"]]),
			Structure:  records[row][idx["structure"]],
		}
	}
	return info, nil
}

// ReadSurfaceGeometry parses parallel label/coordinate arrays for a
// surface atlas. Required columns: label, x, y, z.
func ReadSurfaceGeometry(r io.Reader) ([]int, []models.Point3D, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading surface geometry: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	idx := columnIndex(records[0])
	for _, col := range []string{"label", "x", "y", "z"} {
		if _, ok := idx[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	labels := make([]int, 0, len(records)-1)
	coords := make([]models.Point3D, 0, len(records)-1)
	for row := 1; row < len(records); row++ {
		lab, err := parseInt(records, row, idx["label"])
		if err != nil {
			return nil, nil, err
		}
		var p models.Point3D
		if p.X, err = parseFloat(records, row, idx["x"]); err != nil {
			return nil, nil, err
		}
		if p.Y, err = parseFloat(records, row, idx["y"]); err != nil {
			return nil, nil, err
		}
		if p.Z, err = parseFloat(records, row, idx["z"]); err != nil {
			return nil, nil, err
		}
		labels = append(labels, lab)
		coords = append(coords, p)
	}
	return labels, coords, nil
}

// WriteLabels writes one assignment per sample, in input order.
func WriteLabels(w io.Writer, labels []int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample", "label"}); err != nil {
		return fmt.Errorf("writing labels: %w", err)
	}
	for i, lab := range labels {
		rec := []string{strconv.Itoa(i), strconv.Itoa(lab)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing labels: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMatrix parses a region-by-feature measurement table. The first
// column must be named region and hold integer labels; remaining columns
// are features.
func ReadMatrix(r io.Reader) (*expression.Matrix, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading measurement table: %w", err)
	}
	if len(records) == 0 || len(records[0]) < 2 || records[0][0] != "region" {
		return nil, fmt.Errorf("%w: region", ErrMissingColumn)
	}
	features := records[0][1:]

	regions := make([]int, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)
	for row := 1; row < len(records); row++ {
		region, err := parseInt(records, row, 0)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, len(records[row])-1)
		for col := 1; col < len(records[row]); col++ {
			if vals[col-1], err = parseFloat(records, row, col); err != nil {
				return nil, err
			}
		}
		regions = append(regions, region)
		rows = append(rows, vals)
	}
	return expression.New(regions, features, rows)
}

// WriteMatrix writes a region-by-feature table in the format ReadMatrix
// accepts.
func WriteMatrix(w io.Writer, m *expression.Matrix) error {
	cw := csv.NewWriter(w)
	header := append([]string{"region"}, m.Features...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing measurement table: %w", err)
	}
	for i, region := range m.Regions {
		rec := make([]string, len(m.Features)+1)
		rec[0] = strconv.Itoa(region)
		for j := range m.Features {
			rec[j+1] = strconv.FormatFloat(m.Data.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing measurement table: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
