package storage

import (
	"context"

	"echoflow/internal/record"
)

// Store defines transaction-like persistence operations for trained
// networks and their runs.
type Store interface {
	Init(ctx context.Context) error

	SaveESN(ctx context.Context, esn record.ESN) error
	GetESN(ctx context.Context, id string) (record.ESN, bool, error)
	ListESNs(ctx context.Context) ([]record.ESN, error)
	DeleteESN(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run record.RunSummary) error
	GetRun(ctx context.Context, id string) (record.RunSummary, bool, error)
	ListRuns(ctx context.Context, modelID string) ([]record.RunSummary, error)

	SaveSeries(ctx context.Context, runID string, series [][]float64) error
	GetSeries(ctx context.Context, runID string) ([][]float64, bool, error)
}
