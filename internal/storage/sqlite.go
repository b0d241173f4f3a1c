//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"echoflow/internal/record"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveESN(ctx context.Context, esn record.ESN) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeESN(esn)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO esns (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, esn.ID, esn.SchemaVersion, esn.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetESN(ctx context.Context, id string) (record.ESN, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return record.ESN{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM esns WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.ESN{}, false, nil
		}
		return record.ESN{}, false, err
	}

	esn, err := DecodeESN(payload)
	if err != nil {
		return record.ESN{}, false, fmt.Errorf("decode esn %s: %w", id, err)
	}
	return esn, true, nil
}

func (s *SQLiteStore) ListESNs(ctx context.Context) ([]record.ESN, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM esns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.ESN
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		esn, err := DecodeESN(payload)
		if err != nil {
			return nil, fmt.Errorf("decode esn %s: %w", id, err)
		}
		out = append(out, esn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteESN(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM esns WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run record.RunSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, model_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model_id = excluded.model_id,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.ModelID, run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (record.RunSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return record.RunSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.RunSummary{}, false, nil
		}
		return record.RunSummary{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return record.RunSummary{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, modelID string) ([]record.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, payload FROM runs ORDER BY id`
	args := []any{}
	if modelID != "" {
		query = `SELECT id, payload FROM runs WHERE model_id = ? ORDER BY id`
		args = append(args, modelID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.RunSummary
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSeries(ctx context.Context, runID string, series [][]float64) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSeries(series)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO series (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetSeries(ctx context.Context, runID string) ([][]float64, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM series WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	series, err := DecodeSeries(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode series %s: %w", runID, err)
	}
	return series, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS esns (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS series (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
