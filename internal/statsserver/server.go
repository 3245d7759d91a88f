// Package statsserver exposes the bridge and resolver counters over HTTP
// and streams engine events to websocket subscribers.
//
// Endpoints:
//
//	GET  /stats   bridge + resolver counter snapshots as JSON
//	GET  /health  liveness plus subscriber count
//	POST /stop    halt the bridge's periodic activities
//	GET  /ws      websocket stream of engine events
package statsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/namesync/namesync/internal/bridge"
	"github.com/namesync/namesync/internal/event"
	"github.com/namesync/namesync/internal/resolver"
)

// StatsSnapshot is the /stats response body.
type StatsSnapshot struct {
	Time     time.Time         `json:"time"`
	Bridge   bridge.Stats      `json:"bridge"`
	Resolver resolver.Snapshot `json:"resolver"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8640).
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8640,
		Logger: log.Default(),
	}
}

// Server serves stats reads and event streams. It implements event.Sink so
// the engines can publish straight into it.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	bridge   *bridge.Bridge
	resolver *resolver.Engine

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	events chan event.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a stats server over the given engines.
func New(b *bridge.Bridge, r *resolver.Engine, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:     fmt.Sprintf(":%d", config.Port),
		bridge:   b,
		resolver: r,
		clients:  make(map[*websocket.Conn]bool),
		events:   make(chan event.Event, 100),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Publish implements event.Sink. It never blocks; the event is dropped if
// the broadcast channel is full.
func (s *Server) Publish(ev event.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: event channel full, dropping event")
	}
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Stats server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Stats server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Println("Stopping stats server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("stats server shutdown: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket subscribers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := StatsSnapshot{Time: time.Now()}
	if s.bridge != nil {
		snap.Bridge = s.bridge.Stats()
	}
	if s.resolver != nil {
		snap.Resolver = s.resolver.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Printf("Failed to encode stats: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleStop halts the bridge's periodic activities and reports whether
// anything was actually stopped.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	stopped := false
	if s.bridge != nil {
		stopped = s.bridge.Stop()
	}
	s.logger.Printf("Stop requested: stopped=%v", stopped)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"stopped": stopped})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Subscriber connected (total: %d)", count)
	go s.readLoop(conn)
}

// readLoop keeps a subscriber connection alive and reaps it on disconnect.
// Client messages are ignored; the stream is one-way.
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
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Subscriber disconnected (total: %d)", count)
}

// broadcastLoop fans published events out to every subscriber.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}
