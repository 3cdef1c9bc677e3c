package models

// ConnectivityState is the last observed reachability of the remote.
// Timestamps are milliseconds since epoch; zero means "never".
type ConnectivityState struct {
	IsOnline        bool  `json:"isOnline"`
	LastOnlineTime  int64 `json:"lastOnlineTime,omitempty"`
	LastOfflineTime int64 `json:"lastOfflineTime,omitempty"`
}
