// Package protocol exposes the store and the NUMA control surface over
// RESP so any Redis client can drive them.
package protocol

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/tidwall/redcon"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/store"
)

type Server struct {
	addr    string
	handler *Handler
	server  *redcon.Server

	mu       sync.RWMutex
	listener net.Listener
	clients  map[redcon.Conn]struct{}
}

func NewServer(addr string, st *store.Store, mgr *numa.Manager) *Server {
	return &Server{
		addr:    addr,
		handler: NewHandler(st, mgr),
		clients: make(map[redcon.Conn]struct{}),
	}
}

// Start listens and serves until Stop. Blocks.
func (s *Server) Start() error {
	log.Printf("numakv server starting on %s", s.addr)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := redcon.NewServer(s.addr,
		s.handleCommand,
		s.handleAccept,
		s.handleClose,
	)

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	return srv.Serve(ln)
}

func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Addr returns the bound address, useful with ":0" listeners.
func (s *Server) Addr() string {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return s.addr
}

func (s *Server) handleAccept(conn redcon.Conn) bool {
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	log.Printf("client connected: %s", conn.RemoteAddr())
	return true
}

func (s *Server) handleClose(conn redcon.Conn, _ error) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()

	log.Printf("client disconnected: %s", conn.RemoteAddr())
}

func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}

	ctx := context.Background()
	s.handler.ExecuteBytes(ctx, conn, cmd.Args[0], cmd.Args[1:])

	for _, p := range conn.ReadPipeline() {
		if len(p.Args) == 0 {
			continue
		}
		s.handler.ExecuteBytes(ctx, conn, p.Args[0], p.Args[1:])
	}
}
