package repository

import (
	"encoding/json"
	"fmt"
)

func encodeSlots(slots map[string]any) (any, error) {
	if slots == nil {
		return nil, nil
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("encode slots: %w", err)
	}
	return string(raw), nil
}

func decodeSlots(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var slots map[string]any
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return slots, nil
}
