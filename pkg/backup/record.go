package backup

import (
	"encoding/json"
	"fmt"
	"os"
)

func marshalRecord(record *BackupRecord) ([]byte, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup record: %w", err)
	}
	return append(data, '\n'), nil
}

// LoadRecord reads a record sidecar written by Create
func LoadRecord(path string) (*BackupRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup record: %w", err)
	}
	var record BackupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse backup record: %w", err)
	}
	return &record, nil
}
