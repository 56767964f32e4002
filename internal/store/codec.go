package store

import (
	"encoding/json"
	"fmt"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// encode renders a flower as its persisted document.
func encode(f *flower.Flower) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode flower %s: %w", f.ID, err)
	}
	return data, nil
}

// decode parses a persisted document.
func decode(id string, data []byte) (*flower.Flower, error) {
	var f flower.Flower
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode flower %s: %w", id, err)
	}
	return &f, nil
}
