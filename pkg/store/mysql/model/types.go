package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringMap is a custom type for JSON object columns with string values
type JSONStringMap map[string]string

// Scan implements sql.Scanner interface
func (j *JSONStringMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONStringMap value: %w", err)
	}
	result := make(map[string]string)
	err = json.Unmarshal(bytes, &result)
	*j = JSONStringMap(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONStringMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONRaw holds an already encoded JSON document
type JSONRaw []byte

// Scan implements sql.Scanner interface
func (j *JSONRaw) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan JSONRaw value: %w", err)
	}
	*j = append((*j)[:0], bytes...)
	return nil
}

// Value implements driver.Valuer interface
func (j JSONRaw) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", value)
	}
}
