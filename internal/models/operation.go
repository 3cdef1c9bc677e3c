package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

// OperationType is the kind of mutation an operation replays.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// OperationStatus is the lifecycle state of a queued operation.
//
//	pending -> retrying -> synced | failed
//	failed  -> retrying (manual retry)
type OperationStatus string

const (
	StatusPending  OperationStatus = "pending"
	StatusRetrying OperationStatus = "retrying"
	StatusFailed   OperationStatus = "failed"
	StatusSynced   OperationStatus = "synced"
)

// Operation is one durable, retryable mutation destined for the remote.
type Operation struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"type"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       OperationStatus `json:"status"`
	RetryCount   int             `json:"retryCount"`
	Timestamp    int64           `json:"timestamp"`
	LastRetry    int64           `json:"lastRetry,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// Clone returns a copy that shares no memory with op.
func (op Operation) Clone() Operation {
	op.Payload = slices.Clone(op.Payload)
	return op
}

// NewOperationID derives an id from the target resource and the creation
// time. The ULID suffix sorts by creation time and keeps ids created in the
// same millisecond apart.
func NewOperationID(resourceType, resourceID string, created time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(created), ulid.DefaultEntropy())
	return fmt.Sprintf("%s-%s-%s", resourceType, resourceID, id)
}
