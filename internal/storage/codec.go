package storage

import (
	"encoding/json"
	"errors"

	"echoflow/internal/record"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeESN(e record.ESN) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeESN(data []byte) (record.ESN, error) {
	var esn record.ESN
	if err := json.Unmarshal(data, &esn); err != nil {
		return record.ESN{}, err
	}
	if err := checkVersion(esn.VersionedRecord); err != nil {
		return record.ESN{}, err
	}
	return esn, nil
}

func EncodeRun(r record.RunSummary) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (record.RunSummary, error) {
	var run record.RunSummary
	if err := json.Unmarshal(data, &run); err != nil {
		return record.RunSummary{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return record.RunSummary{}, err
	}
	return run, nil
}

func EncodeSeries(series [][]float64) ([]byte, error) {
	return json.Marshal(series)
}

func DecodeSeries(data []byte) ([][]float64, error) {
	var series [][]float64
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// Stamp sets the current schema and codec versions on a record.
func Stamp() record.VersionedRecord {
	return record.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func checkVersion(v record.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
