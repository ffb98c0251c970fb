// Package relay provides the real-time key/value server that devices sharing
// a sync code connect to.
//
// Clients speak the JSON frame protocol defined in package remote over a
// WebSocket at /ws. Every set is persisted to the relay's own SQLite store
// and then pushed to each connection subscribed to that path. One-shot HTTP
// access is available under /v1/<path> for scripts and older clients.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/milestep/milestep/internal/remote"
	"github.com/milestep/milestep/internal/store"
)

// client is one connected WebSocket peer.
type client struct {
	conn  *websocket.Conn
	paths map[string]struct{}
}

// event is a persisted write waiting to be pushed to subscribers.
type event struct {
	path   string
	value  json.RawMessage
	origin string
}

// Server manages WebSocket connections, persists values and broadcasts
// changes to subscribers.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	db       *store.DB

	// WebSocket client management
	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	// Ordered fan-out of writes
	broadcast chan event

	// Per-path write locks; a put and its broadcast happen under one hold
	pathLocks   map[string]*sync.Mutex
	pathLocksMu sync.Mutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8787, 0 picks a free port)
	Port int

	// DB persists values. Required.
	DB *store.DB

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8787,
		Logger: log.Default(),
	}
}

// NewServer creates a relay server. The database must already be open.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DB == nil {
		return nil, errors.New("relay: a database is required")
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		db:        config.DB,
		clients:   make(map[*websocket.Conn]*client),
		broadcast: make(chan event, 256),
		pathLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}, nil
}

// Handler returns the HTTP routes served by the relay. Start serves it on
// the configured port; tests can mount it on an httptest.Server instead, in
// which case Run must be started so writes are broadcast.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /v1/{path...}", s.handleGet)
	mux.HandleFunc("PUT /v1/{path...}", s.handlePut)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Run starts the broadcast loop. Start calls it; it is exported for callers
// that serve Handler themselves.
func (s *Server) Run() {
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.Run()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. The database is left open.
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Relay stopped")
	return nil
}

// Set persists value at path and queues it for subscribers. A null value
// clears the path.
func (s *Server) Set(ctx context.Context, path string, value json.RawMessage, origin string) error {
	if err := validPath(path); err != nil {
		return err
	}
	if len(value) > 0 && !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", path)
	}

	// Subscribers must see writes to one path in the order they were stored.
	unlock := s.lockPath(path)
	defer unlock()

	if remote.IsEmpty(value) {
		if err := s.db.DeleteContext(ctx, path); err != nil {
			return err
		}
		value = json.RawMessage("null")
	} else if err := s.db.PutContext(ctx, path, value); err != nil {
		return err
	}

	select {
	case s.broadcast <- event{path: path, value: value, origin: origin}:
	case <-s.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Server) lockPath(path string) func() {
	s.pathLocksMu.Lock()
	mu, ok := s.pathLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		s.pathLocks[path] = mu
	}
	s.pathLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// PathInfo describes one stored path.
type PathInfo struct {
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Paths lists the stored paths starting with prefix, in key order.
func (s *Server) Paths(ctx context.Context, prefix string) ([]PathInfo, error) {
	entries, err := s.db.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	paths := make([]PathInfo, len(entries))
	for i, e := range entries {
		paths[i] = PathInfo{Path: e.Key, Size: len(e.Value), UpdatedAt: e.UpdatedAt}
	}
	return paths, nil
}

// Get returns the value at path, or nil if it was never written.
func (s *Server) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	value, err := s.db.GetContext(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// broadcastLoop pushes writes to subscribers in the order they were made.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case evt := <-s.broadcast:
			frame := remote.Frame{
				Op:     remote.OpEvent,
				Path:   evt.path,
				Value:  evt.value,
				Origin: evt.origin,
			}

			s.clientsMu.RLock()
			targets := make([]*websocket.Conn, 0, len(s.clients))
			for conn, c := range s.clients {
				if _, ok := c.paths[evt.path]; ok {
					targets = append(targets, conn)
				}
			}
			s.clientsMu.RUnlock()

			for _, conn := range targets {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := wsjson.Write(ctx, conn, frame)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to push %s to client: %v", evt.path, err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and serves frames until the peer
// disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(8 << 20)

	s.clientsMu.Lock()
	s.clients[conn] = &client{conn: conn, paths: make(map[string]struct{})}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	s.readLoop(conn)
}

// readLoop answers requests from one connection.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		var req remote.Frame
		if err := wsjson.Read(s.ctx, conn, &req); err != nil {
			return
		}

		res := s.handleFrame(conn, req)

		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := wsjson.Write(ctx, conn, res)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to answer client: %v", err)
			return
		}
	}
}

func (s *Server) handleFrame(conn *websocket.Conn, req remote.Frame) remote.Frame {
	res := remote.Frame{Op: remote.OpResult, ID: req.ID}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	var err error
	switch req.Op {
	case remote.OpGet:
		res.Value, err = s.Get(ctx, req.Path)
	case remote.OpSet:
		err = s.Set(ctx, req.Path, req.Value, req.Origin)
	case remote.OpSubscribe:
		err = s.subscribe(conn, req.Path, true)
	case remote.OpUnsubscribe:
		err = s.subscribe(conn, req.Path, false)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Server) subscribe(conn *websocket.Conn, path string, on bool) error {
	if err := validPath(path); err != nil {
		return err
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	c, ok := s.clients[conn]
	if !ok {
		return errors.New("connection closed")
	}
	if on {
		c.paths[path] = struct{}{}
	} else {
		delete(c.paths, path)
	}
	return nil
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func validPath(path string) error {
	if path == "" {
		return errors.New("path is required")
	}
	if path[0] == '/' || path[len(path)-1] == '/' {
		return fmt.Errorf("invalid path %q", path)
	}
	return nil
}
