// Package models defines the records, patches and operations shared by the
// client sync core and the remote server.
package models

// Versioned is implemented by any record the conflict resolver can compare.
type Versioned interface {
	GetVersion() int64
	GetModifiedAt() int64
}

// Meta is the version stamp carried by every synchronized record. Only the
// entity store mutation path advances it.
type Meta struct {
	// Version starts at 0 and grows by one per local mutation.
	Version int64 `json:"version"`
	// ModifiedAt is the last modification time in milliseconds since epoch.
	ModifiedAt int64 `json:"modifiedAt"`
	// ModifiedBy identifies the actor (device/session) of the last mutation.
	ModifiedBy string `json:"modifiedBy"`
}

func (m Meta) GetVersion() int64    { return m.Version }
func (m Meta) GetModifiedAt() int64 { return m.ModifiedAt }
