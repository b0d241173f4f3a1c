package storage

import (
	"errors"
	"testing"
	"time"

	"echoflow/internal/record"
)

func sampleESN() record.ESN {
	return record.ESN{
		VersionedRecord: Stamp(),
		ID:              "esn-1",
		Name:            "demo",
		InputDim:        1,
		OutputDim:       1,
		Warmup:          100,
		Reservoir: record.Reservoir{
			Name:           "demo-reservoir",
			Units:          3,
			LeakRate:       0.3,
			SpectralRadius: 1.25,
			Activation:     "tanh",
			Equation:       "internal",
			Seed:           42,
			W: &record.Matrix{
				Rows: 3, Cols: 3,
				Indptr:  []int{0, 1, 2, 2},
				Indices: []int{1, 0},
				Data:    []float64{0.5, -0.25},
			},
			Win:  &record.Matrix{Rows: 3, Cols: 1, Dense: []float64{1, -1, 1}},
			Bias: []float64{0, 0, 0},
		},
		Readout: record.Readout{
			Name:   "demo-readout",
			Kind:   "ridge",
			Ridge:  1e-8,
			Wout:   &record.Matrix{Rows: 1, Cols: 3, Dense: []float64{0.1, 0.2, 0.3}},
			Bias:   []float64{0.05},
			Fitted: true,
		},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestESNCodecRoundTrip(t *testing.T) {
	input := sampleESN()
	data, err := EncodeESN(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeESN(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || output.Name != input.Name {
		t.Fatalf("unexpected network: %+v", output)
	}
	if output.Reservoir.Units != 3 || output.Reservoir.W.Data[1] != -0.25 {
		t.Fatalf("unexpected reservoir: %+v", output.Reservoir)
	}
	if output.Readout.Wout.Dense[2] != 0.3 || !output.Readout.Fitted {
		t.Fatalf("unexpected readout: %+v", output.Readout)
	}
	if !output.CreatedAt.Equal(input.CreatedAt) {
		t.Fatalf("created at = %v, want %v", output.CreatedAt, input.CreatedAt)
	}
}

func TestESNCodecRejectsVersionMismatch(t *testing.T) {
	input := sampleESN()
	input.SchemaVersion = CurrentSchemaVersion + 1
	data, err := EncodeESN(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeESN(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	input := record.RunSummary{
		VersionedRecord: Stamp(),
		ID:              "run-1",
		ModelID:         "esn-1",
		Kind:            "train",
		Steps:           2000,
		MSE:             0.0125,
		StartedAt:       time.Unix(1700000100, 0).UTC(),
	}
	data, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if output.ID != input.ID || output.Kind != "train" || output.MSE != input.MSE {
		t.Fatalf("unexpected run: %+v", output)
	}
}

func TestRunCodecRejectsVersionMismatch(t *testing.T) {
	input := record.RunSummary{VersionedRecord: Stamp(), ID: "run-1"}
	input.CodecVersion = CurrentCodecVersion + 1
	data, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestSeriesCodecRoundTrip(t *testing.T) {
	input := [][]float64{{0.1}, {0.2}, {0.3}}
	data, err := EncodeSeries(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeSeries(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(output) != 3 || output[2][0] != 0.3 {
		t.Fatalf("unexpected series: %+v", output)
	}
}
