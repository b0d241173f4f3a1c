package storage

import (
	"context"
	"testing"
	"time"

	"echoflow/internal/record"
)

func TestMemoryStoreESNRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := sampleESN()
	if err := store.SaveESN(ctx, input); err != nil {
		t.Fatalf("save: %v", err)
	}

	output, ok, err := store.GetESN(ctx, input.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted network")
	}
	if output.Name != input.Name || output.Reservoir.Units != input.Reservoir.Units {
		t.Fatalf("unexpected network: %+v", output)
	}

	_, ok, err = store.GetESN(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an unknown id")
	}
}

func TestMemoryStoreListESNsSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, id := range []string{"esn-b", "esn-a", "esn-c"} {
		esn := sampleESN()
		esn.ID = id
		if err := store.SaveESN(ctx, esn); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	list, err := store.ListESNs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "esn-a" || list[2].ID != "esn-c" {
		t.Fatalf("unexpected listing order: %+v", list)
	}
}

func TestMemoryStoreDeleteESN(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	esn := sampleESN()
	if err := store.SaveESN(ctx, esn); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.DeleteESN(ctx, esn.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := store.GetESN(ctx, esn.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatal("network survived deletion")
	}
}

func TestMemoryStoreRunsByModel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	runs := []record.RunSummary{
		{VersionedRecord: Stamp(), ID: "run-2", ModelID: "esn-1", Kind: "forecast", Steps: 50, StartedAt: time.Unix(2, 0)},
		{VersionedRecord: Stamp(), ID: "run-1", ModelID: "esn-1", Kind: "train", Steps: 2000, MSE: 0.01, StartedAt: time.Unix(1, 0)},
		{VersionedRecord: Stamp(), ID: "run-3", ModelID: "esn-2", Kind: "train", Steps: 100, StartedAt: time.Unix(3, 0)},
	}
	for _, run := range runs {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save %s: %v", run.ID, err)
		}
	}

	got, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || got.MSE != 0.01 {
		t.Fatalf("unexpected run: %+v", got)
	}

	list, err := store.ListRuns(ctx, "esn-1")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 runs for esn-1, got %d", len(list))
	}
	for _, run := range list {
		if run.ModelID != "esn-1" {
			t.Fatalf("listing leaked a foreign run: %+v", run)
		}
	}
}

func TestMemoryStoreSeriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := [][]float64{{1.5}, {2.5}}
	if err := store.SaveSeries(ctx, "run-1", input); err != nil {
		t.Fatalf("save series: %v", err)
	}

	output, ok, err := store.GetSeries(ctx, "run-1")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if !ok || len(output) != 2 || output[1][0] != 2.5 {
		t.Fatalf("unexpected series: %+v", output)
	}

	// The store keeps its own copy.
	input[0][0] = 99
	output, _, err = store.GetSeries(ctx, "run-1")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if output[0][0] != 1.5 {
		t.Fatal("stored series aliases the caller's slices")
	}
}
