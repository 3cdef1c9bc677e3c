// Package notify streams client state changes to websocket subscribers.
//
// Each message carries the full current value of one kind of state, so a
// subscriber only ever needs the latest message of each type. New
// connections first receive the latest message of every type.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
)

type MessageType string

const (
	MessageTypeShows        MessageType = "shows"
	MessageTypeQueue        MessageType = "queue"
	MessageTypeConnectivity MessageType = "connectivity"
)

// replay order for new connections
var messageTypes = []MessageType{MessageTypeShows, MessageTypeQueue, MessageTypeConnectivity}

// Message is one broadcast. Timestamp is in milliseconds since epoch.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	Logger logging.Logger
	Clock  timex.Clock
	// WriteTimeout bounds a single write to one subscriber.
	WriteTimeout time.Duration
}

// Server manages websocket subscribers. The zero value is not usable; use New.
type Server struct {
	log          logging.Logger
	clock        timex.Clock
	writeTimeout time.Duration

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}

	broadcast chan []byte
	joins     chan *websocket.Conn

	// lastMu orders updates of last with sends on broadcast
	lastMu sync.Mutex
	last   map[MessageType][]byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpMu   sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server and starts its broadcast loop. Call Stop to release it.
func New(opts Options) *Server {
	s := newServer(opts, 100)
	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

func newServer(opts Options, buffer int) *Server {
	s := &Server{
		log:          opts.Logger,
		clock:        opts.Clock,
		writeTimeout: opts.WriteTimeout,
		clients:      make(map[*websocket.Conn]struct{}),
		broadcast:    make(chan []byte, buffer),
		joins:        make(chan *websocket.Conn),
		last:         make(map[MessageType][]byte),
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.With("module", "notify")
	if s.clock == nil {
		s.clock = timex.SystemClock{}
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 5 * time.Second
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler serves /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on addr and serves Handler in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.httpMu.Lock()
	s.server, s.listener = srv, ln
	s.httpMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info(s.ctx, "notification server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(s.ctx, "notification server error", "error", err.Error())
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every subscriber and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	s.httpMu.Lock()
	srv := s.server
	s.httpMu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	return err
}

// Broadcast queues data for every subscriber. It never blocks. The message
// becomes the latest of its type right away; when the queue is full current
// subscribers miss it but new ones still receive it.
func (s *Server) Broadcast(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error(s.ctx, "failed to marshal message", "type", string(typ), "error", err.Error())
		return
	}

	frame, err := json.Marshal(Message{Type: typ, Timestamp: timex.UnixMilli(s.clock), Data: raw})
	if err != nil {
		return
	}

	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	s.last[typ] = frame
	select {
	case s.broadcast <- frame:
	case <-s.ctx.Done():
	default:
		s.log.Warn(s.ctx, "broadcast channel full, dropping message", "type", string(typ))
	}
}

// latest returns the latest message of every type in replay order.
func (s *Server) latest() [][]byte {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	out := make([][]byte, 0, len(messageTypes))
	for _, typ := range messageTypes {
		if data, ok := s.last[typ]; ok {
			out = append(out, data)
		}
	}
	return out
}

func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case conn := <-s.joins:
			s.clientsMu.Lock()
			s.clients[conn] = struct{}{}
			s.clientsMu.Unlock()

			for _, data := range s.latest() {
				s.send(conn, data)
			}

		case data := <-s.broadcast:
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				s.send(conn, data)
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, data []byte) {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug(s.ctx, "failed to send to client", "error", err.Error())
		s.removeClient(conn)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Warn(s.ctx, "websocket upgrade failed", "error", err.Error())
		return
	}

	select {
	case s.joins <- conn:
	case <-s.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go s.readLoop(conn)
}

// readLoop discards client messages and detects disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	delete(s.clients, conn)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
