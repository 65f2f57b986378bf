package annotation

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"atlasmatch/internal/models"
	"atlasmatch/pkg/expression"
)

func TestReadSamples(t *testing.T) {
	in := strings.NewReader(
		"mni_x,mni_y,mni_z,hemisphere,structure\n" +
			"1.5,-2,3,L,cortex\n" +
			"0,0,0,R,cerebellum\n")

	samples, err := ReadSamples(in)
	if err != nil {
		t.Fatalf("ReadSamples failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	want := models.Sample{
		Coordinate: models.Point3D{X: 1.5, Y: -2, Z: 3},
		Hemisphere: models.Left,
		Structure:  "cortex",
	}
	if samples[0] != want {
		t.Errorf("Expected sample %+v, got %+v", want, samples[0])
	}
}

func TestReadSamplesBareCoordinates(t *testing.T) {
	in := strings.NewReader("mni_x,mni_y,mni_z\n1,2,3\n")

	samples, err := ReadSamples(in)
	if err != nil {
		t.Fatalf("ReadSamples failed: %v", err)
	}
	if samples[0].Constrained() {
		t.Error("Bare coordinates must not constrain matching")
	}
}

func TestReadSamplesMissingColumn(t *testing.T) {
	in := strings.NewReader("mni_x,mni_y\n1,2\n")
	if _, err := ReadSamples(in); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Expected ErrMissingColumn, got %v", err)
	}
}

func TestReadAtlasInfo(t *testing.T) {
	in := strings.NewReader(
		"id,hemisphere,structure\n" +
			"1,L,cortex\n" +
			"2,B,subcortex/brainstem\n")

	info, err := ReadAtlasInfo(in)
	if err != nil {
		t.Fatalf("ReadAtlasInfo failed: %v", err)
	}
	if len(info) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(info))
	}
	if info[2].Hemisphere != models.Bilateral || info[2].Structure != "subcortex/brainstem" {
		t.Errorf("Unexpected metadata for label 2: %+v", info[2])
	}
}

func TestReadSurfaceGeometry(t *testing.T) {
	in := strings.NewReader(
		"label,x,y,z\n" +
			"1,0,0,0\n" +
			"2,10,0,-3.5\n")

	labels, coords, err := ReadSurfaceGeometry(in)
	if err != nil {
		t.Fatalf("ReadSurfaceGeometry failed: %v", err)
	}
	if len(labels) != 2 || len(coords) != 2 {
		t.Fatalf("Expected 2 rows, got %d labels and %d coords", len(labels), len(coords))
	}
	if labels[1] != 2 || coords[1].Z != -3.5 {
		t.Errorf("Unexpected row: label %d at %+v", labels[1], coords[1])
	}

	bad := strings.NewReader("label,x,y,z\n1,zero,0,0\n")
	if _, _, err := ReadSurfaceGeometry(bad); !errors.Is(err, ErrBadValue) {
		t.Errorf("Expected ErrBadValue, got %v", err)
	}
}

func TestWriteLabels(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLabels(&buf, []int{3, 0, 7}); err != nil {
		t.Fatalf("WriteLabels failed: %v", err)
	}

	want := "sample,label\n0,3\n1,0\n2,7\n"
	if buf.String() != want {
		t.Errorf("Expected output %q, got %q", want, buf.String())
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	m, err := expression.New([]int{1, 2}, []string{"a", "b"}, [][]float64{
		{1.5, math.NaN()},
		{-2, 4},
	})
	if err != nil {
		t.Fatalf("Failed to build matrix: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMatrix(&buf, m); err != nil {
		t.Fatalf("WriteMatrix failed: %v", err)
	}

	back, err := ReadMatrix(&buf)
	if err != nil {
		t.Fatalf("ReadMatrix failed: %v", err)
	}
	if len(back.Regions) != 2 || back.Regions[1] != 2 {
		t.Errorf("Expected regions [1 2], got %v", back.Regions)
	}
	if len(back.Features) != 2 || back.Features[0] != "a" {
		t.Errorf("Expected features [a b], got %v", back.Features)
	}
	if back.Data.At(1, 0) != -2 || back.Data.At(1, 1) != 4 {
		t.Errorf("Values did not survive the round trip")
	}
	if !math.IsNaN(back.Data.At(0, 1)) {
		t.Errorf("Expected NaN to survive the round trip, got %f", back.Data.At(0, 1))
	}
}
