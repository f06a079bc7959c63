package store

import (
	"fmt"

	"github.com/roach88/tessera/internal/model"
)

// marshalValue converts a Value to canonical JSON TEXT for storage.
func marshalValue(v model.Value) (string, error) {
	if v == nil {
		v = model.Null{}
	}
	data, err := model.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT, resolving refs through resolve.
func unmarshalValue(data string, resolve model.Resolver) (model.Value, error) {
	if data == "" {
		return model.Null{}, nil
	}
	v, err := model.UnmarshalValueWith([]byte(data), resolve)
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
