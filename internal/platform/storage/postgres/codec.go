package postgres

import (
	"encoding/json"
	"fmt"
)

// Candidate lists, ballot selections and count maps are stored as JSON text
// columns: they are read and written as whole values, never queried by member,
// which keeps the document shape of the records.

func encodeStrings(values []string) (string, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(raw), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return values, nil
}

func encodeCounts(counts map[string]int64) (string, error) {
	raw, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("encode counts: %w", err)
	}
	return string(raw), nil
}

func decodeCounts(raw string) (map[string]int64, error) {
	if raw == "" {
		return map[string]int64{}, nil
	}
	var counts map[string]int64
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}
	return counts, nil
}
