// Package conflict decides between two copies of the same record using
// whole-record last-write-wins.
//
// Two copies with the same version observed the same base and never
// conflict. Otherwise the copy with the later ModifiedAt wins unmodified.
// When ModifiedAt is equal the higher version wins, so the outcome is
// deterministic on every replica.
//
// The functions are pure: they never mutate their inputs.
package conflict

import "github.com/dmitrijs2005/tourkeeper/internal/models"

// Side names the winning copy.
type Side int

const (
	Local Side = iota
	Remote
)

func (s Side) String() string {
	if s == Remote {
		return "remote"
	}
	return "local"
}

// Outcome describes a resolution.
type Outcome struct {
	Conflict bool
	Winner   Side
}

// Decide compares local and remote without choosing a value.
func Decide(local, remote models.Versioned) Outcome {
	if local.GetVersion() == remote.GetVersion() {
		return Outcome{Conflict: false, Winner: Local}
	}

	switch {
	case remote.GetModifiedAt() > local.GetModifiedAt():
		return Outcome{Conflict: true, Winner: Remote}
	case local.GetModifiedAt() > remote.GetModifiedAt():
		return Outcome{Conflict: true, Winner: Local}
	case remote.GetVersion() > local.GetVersion():
		return Outcome{Conflict: true, Winner: Remote}
	default:
		return Outcome{Conflict: true, Winner: Local}
	}
}

// HasConflict reports whether the copies diverged.
func HasConflict(local, remote models.Versioned) bool {
	return local.GetVersion() != remote.GetVersion()
}

// Resolve returns the winning copy.
func Resolve[T models.Versioned](local, remote T) T {
	if Decide(local, remote).Winner == Remote {
		return remote
	}
	return local
}
