package record

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MetaData is the structured, schemaless map attached to an image record.
// It is persisted as a JSON column and must always be written together with
// the status it describes.
type MetaData map[string]any

// Value implements driver.Valuer so GORM can persist the map as JSON text.
func (m MetaData) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading the JSON column back.
func (m *MetaData) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Clone returns a shallow copy of the map. Mutating the copy does not
// affect the original.
func (m MetaData) Clone() MetaData {
	if m == nil {
		return nil
	}
	out := make(MetaData, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m with the entries of patch applied on top.
func (m MetaData) Merge(patch MetaData) MetaData {
	if len(patch) == 0 {
		return m.Clone()
	}
	out := m.Clone()
	if out == nil {
		out = make(MetaData, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
