package cluster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/andresmejia3/aibum/internal/types"
)

// Record is the persisted form of a person group: one reference descriptor per group.
// It is the only on-disk contract the core has to keep stable.
type Record struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Descriptor types.Embedding `json:"descriptor"`
}

type rawRecord struct {
	ID         *string         `json:"id"`
	Label      *string         `json:"label"`
	Descriptor json.RawMessage `json:"descriptor"`
}

// UnmarshalJSON decodes a record strictly. The descriptor may be a plain array or the
// index-keyed object ({"0":0.1,"1":0.2,...}) that a serialised Float32Array produces.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if raw.ID == nil || *raw.ID == "" {
		return fmt.Errorf("%w: record without id", ErrInvalidInput)
	}
	desc, err := decodeDescriptor(raw.Descriptor)
	if err != nil {
		return fmt.Errorf("record %q: %w", *raw.ID, err)
	}
	if len(desc) == 0 {
		return fmt.Errorf("record %q: %w: empty descriptor", *raw.ID, ErrInvalidInput)
	}
	if err := Validate(desc, 0); err != nil {
		return fmt.Errorf("record %q: %w", *raw.ID, err)
	}

	r.ID = *raw.ID
	r.Label = ""
	if raw.Label != nil {
		r.Label = *raw.Label
	}
	r.Descriptor = desc
	return nil
}

func decodeDescriptor(msg json.RawMessage) (types.Embedding, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, fmt.Errorf("%w: missing descriptor", ErrInvalidInput)
	}

	switch msg[0] {
	case '[':
		var vals []*float64
		if err := json.Unmarshal(msg, &vals); err != nil {
			return nil, fmt.Errorf("%w: descriptor: %v", ErrInvalidInput, err)
		}
		out := make(types.Embedding, len(vals))
		for i, v := range vals {
			if v == nil {
				return nil, fmt.Errorf("%w: descriptor has null at index %d", ErrInvalidInput, i)
			}
			out[i] = *v
		}
		return out, nil
	case '{':
		var vals map[string]*float64
		if err := json.Unmarshal(msg, &vals); err != nil {
			return nil, fmt.Errorf("%w: descriptor: %v", ErrInvalidInput, err)
		}
		out := make(types.Embedding, len(vals))
		for k, v := range vals {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(vals) || strconv.Itoa(i) != k {
				return nil, fmt.Errorf("%w: descriptor key %q is not a dense index", ErrInvalidInput, k)
			}
			if v == nil {
				return nil, fmt.Errorf("%w: descriptor has null at index %d", ErrInvalidInput, i)
			}
			out[i] = *v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: descriptor must be an array or index-keyed object", ErrInvalidInput)
	}
}

// DecodeRecords parses a JSON array of records. Duplicate ids are rejected.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := checkRecords(records); err != nil {
		return nil, err
	}
	return records, nil
}

func checkRecords(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	dim := 0
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate record id %q", ErrInvalidInput, r.ID)
		}
		seen[r.ID] = struct{}{}
		if dim == 0 {
			dim = len(r.Descriptor)
		}
		if err := Validate(r.Descriptor, dim); err != nil {
			return fmt.Errorf("record %q: %w", r.ID, err)
		}
	}
	return nil
}
