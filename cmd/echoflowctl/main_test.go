package main

import (
	"context"
	"strings"
	"testing"
)

func TestLoadDatasetMackeyGlass(t *testing.T) {
	xs, ys, err := loadDataset("mackey-glass", 200, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(xs) != 200 || len(ys) != 200 {
		t.Fatalf("lengths = %d/%d, want 200/200", len(xs), len(ys))
	}
	// One-step-ahead pairs: today's input is tomorrow's target shifted.
	if xs[1][0] != ys[0][0] {
		t.Fatalf("x[1]=%v should equal y[0]=%v", xs[1][0], ys[0][0])
	}
}

func TestLoadDatasetNARMA(t *testing.T) {
	xs, ys, err := loadDataset("narma", 150, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(xs) != 150 || len(ys) != 150 {
		t.Fatalf("lengths = %d/%d, want 150/150", len(xs), len(ys))
	}
}

func TestLoadDatasetUnsupported(t *testing.T) {
	_, _, err := loadDataset("lorenz", 100, 0)
	if err == nil {
		t.Fatal("expected an error for an unsupported dataset")
	}
	if !strings.Contains(err.Error(), "unsupported dataset") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsMissingCommand(t *testing.T) {
	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected a usage error")
	}
	if !strings.Contains(err.Error(), "usage: echoflowctl") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"evolve"})
	if err == nil {
		t.Fatal("expected a usage error")
	}
	if !strings.Contains(err.Error(), "unknown command: evolve") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTrainCommandMemoryStore(t *testing.T) {
	args := []string{
		"train",
		"-store", "memory",
		"-dataset", "mackey-glass",
		"-steps", "300",
		"-units", "100",
		"-warmup", "50",
		"-seed", "7",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("train command: %v", err)
	}
}

func TestForecastCommandRequiresModel(t *testing.T) {
	err := run(context.Background(), []string{"forecast", "-store", "memory"})
	if err == nil {
		t.Fatal("expected a usage error without -model")
	}
	if !strings.Contains(err.Error(), "forecast requires -model") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteCommandRequiresModel(t *testing.T) {
	err := run(context.Background(), []string{"delete", "-store", "memory"})
	if err == nil {
		t.Fatal("expected a usage error without -model")
	}
}

func TestExportCommandRequiresRun(t *testing.T) {
	err := run(context.Background(), []string{"export", "-store", "memory"})
	if err == nil {
		t.Fatal("expected a usage error without -run")
	}
}
