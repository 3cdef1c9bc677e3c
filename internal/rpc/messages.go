package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"google.golang.org/protobuf/types/known/structpb"
)

const StatusOK = "OK"

type PingResponse struct {
	Status     string `json:"status"`
	ServerTime int64  `json:"serverTime"`
}

type ApplyRequest struct {
	Operation models.Operation `json:"operation"`
}

// ApplyResponse carries the authoritative copy after the operation was
// applied. Record is nil for deletes.
type ApplyResponse struct {
	Record   *models.Show `json:"record,omitempty"`
	Sequence int64        `json:"sequence"`
}

type ChangesRequest struct {
	Since int64 `json:"since"`
	Limit int   `json:"limit,omitempty"`
}

// Change is one entry of the remote change log. Deleted changes carry only
// the id.
type Change struct {
	Sequence int64        `json:"sequence"`
	ID       string       `json:"id"`
	Deleted  bool         `json:"deleted,omitempty"`
	Record   *models.Show `json:"record,omitempty"`
}

type ChangesResponse struct {
	Changes []Change `json:"changes"`
	Cursor  int64    `json:"cursor"`
}

// Encode converts v to a Struct through its JSON form. v must encode to a
// JSON object.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode: %T is not an object: %w", v, err)
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct produced by Encode. Numbers pass through
// float64, which is exact for millisecond timestamps and versions.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("decode: nil message")
	}

	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
