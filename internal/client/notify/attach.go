package notify

import (
	"github.com/dmitrijs2005/tourkeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/tourkeeper/internal/client/queue"
	"github.com/dmitrijs2005/tourkeeper/internal/client/store"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

type ShowSource interface {
	GetAll() []models.Show
	Subscribe(l store.Listener) func()
}

type QueueSource interface {
	GetQueued() []models.Operation
	GetFailed() []models.Operation
	Subscribe(l queue.Listener) func()
}

type ConnectivitySource interface {
	State() models.ConnectivityState
	OnTransition(h connectivity.Handler) func()
}

// QueueData is the payload of a queue message.
type QueueData struct {
	Queued []models.Operation `json:"queued"`
	Failed []models.Operation `json:"failed"`
	Stats  queue.Stats        `json:"stats"`
}

// Attach publishes the current state of every source and then every change.
// The returned function unsubscribes.
func (s *Server) Attach(shows ShowSource, ops QueueSource, conn ConnectivitySource) func() {
	queueData := func(queued, failed []models.Operation) QueueData {
		return QueueData{
			Queued: queued,
			Failed: failed,
			Stats: queue.Stats{
				IsOnline:    conn.State().IsOnline,
				QueuedCount: len(queued),
				FailedCount: len(failed),
			},
		}
	}

	s.Broadcast(MessageTypeShows, shows.GetAll())
	s.Broadcast(MessageTypeQueue, queueData(ops.GetQueued(), ops.GetFailed()))
	s.Broadcast(MessageTypeConnectivity, conn.State())

	// Listeners must not call back into the store or queue.
	unsubs := []func(){
		shows.Subscribe(func(all []models.Show) {
			s.Broadcast(MessageTypeShows, all)
		}),
		ops.Subscribe(func(snap queue.Snapshot) {
			s.Broadcast(MessageTypeQueue, queueData(snap.Queued, snap.Failed))
		}),
		conn.OnTransition(func(bool) {
			s.Broadcast(MessageTypeConnectivity, conn.State())
		}),
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
