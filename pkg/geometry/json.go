package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parse decodes a box from its JSON text. The text may be the box object
// itself or a JSON string holding the object, as multipart form fields do.
func Parse(s string) (BoundingBox, error) {
	var box BoundingBox
	if err := json.Unmarshal([]byte(s), &box); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}

// UnmarshalJSON accepts `{"bounds": [...]}` or a string containing it.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	type plain BoundingBox

	inner, err := UnquoteObject(data)
	if err != nil {
		return fmt.Errorf("bounding box: %w", err)
	}

	var p plain
	if err := json.Unmarshal(inner, &p); err != nil {
		return fmt.Errorf("bounding box: %w", err)
	}
	*b = BoundingBox(p)
	return nil
}

// UnquoteObject returns the JSON document carried by data. When data is a
// JSON string its content is returned, otherwise data is returned as is.
func UnquoteObject(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	return []byte(s), nil
}
