// Package common contains shared constants and sentinel errors used across
// tourkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// Durable storage keys used by the client-side sync core.
const (
	ShowsStorageKey  = "shows"
	QueueStorageKey  = "offline_queue"
	CursorStorageKey = "sync_cursor"
	ActorStorageKey  = "actor_id"
)
