package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is an ordered list of strings stored as a JSON array in a TEXT
// column.
type StringList []string

func (l *StringList) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("StringList.Scan: %w", err)
	}
	if len(b) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(b, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Details is a free-form JSON object stored in a TEXT column. A nil map is
// stored as NULL.
type Details map[string]any

func (d *Details) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}
	b, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("Details.Scan: %w", err)
	}
	if len(b) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(b, d)
}

func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// sqlite hands TEXT back as string, other drivers as []byte.
func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("expected text, got %T", src)
	}
}
