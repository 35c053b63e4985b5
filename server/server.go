package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/hrygo/parley/ai"
	"github.com/hrygo/parley/ai/llm"
	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/plugin/storage"
	"github.com/hrygo/parley/server/metrics"
	"github.com/hrygo/parley/store"
)

// Server is the TCP chat server: one accept loop, one goroutine per
// connection, shared store/registry/engine underneath.
type Server struct {
	profile  *profile.Profile
	store    *store.Store
	blobs    storage.BlobStore
	metrics  *metrics.Metrics
	registry *Registry
	engine   *Engine
	admin    *Admin
	ai       *ai.Participant
	handlers map[string]handlerFunc

	diagnostics *Diagnostics
	listener    net.Listener

	mu       sync.Mutex
	conns    map[*Connection]struct{}
	connWG   sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewServer(p *profile.Profile, st *store.Store, blobs storage.BlobStore) (*Server, error) {
	m := metrics.New()
	registry := NewRegistry()
	engine := NewEngine(st, registry, m)

	s := &Server{
		profile:  p,
		store:    st,
		blobs:    blobs,
		metrics:  m,
		registry: registry,
		engine:   engine,
		admin:    NewAdmin(st, registry, engine, blobs, m),
		conns:    make(map[*Connection]struct{}),
		stopped:  make(chan struct{}),
	}
	s.handlers = s.routes()
	s.diagnostics = NewDiagnostics(p, m, registry)

	if p.IsAIEnabled() {
		svc, err := llm.NewService(&llm.Config{
			Provider: p.AIProvider,
			Model:    p.AIModel,
			APIKey:   p.AIAPIKey,
			BaseURL:  p.AIBaseURL,
			Timeout:  p.AITimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create LLM service")
		}
		s.ai = ai.NewParticipant(p, st, svc, engine, m)
		slog.Info("AI participant enabled", "provider", p.AIProvider, "model", p.AIModel)
	} else {
		slog.Info("AI participant disabled, set PARLEY_AI_LLM_API_KEY to enable")
	}
	return s, nil
}

// Start binds the listener and spawns the accept loop; it does not
// block. Use Shutdown to stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	if s.profile.MaxConns > 0 {
		listener = netutil.LimitListener(listener, s.profile.MaxConns)
	}
	s.listener = listener
	slog.Info("chat server listening", "addr", listener.Addr().String(), "max_conns", s.profile.MaxConns)

	// A restart leaves stale online flags behind; nobody is connected yet.
	s.resetOnlineFlags(ctx)

	if s.ai != nil {
		go s.ai.Warmup(ctx)
	}
	s.diagnostics.Start()
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) resetOnlineFlags(ctx context.Context) {
	online := true
	users, err := s.store.ListUsers(ctx, &store.FindUser{IsOnline: &online})
	if err != nil {
		slog.Warn("failed to list online users", "error", err)
		return
	}
	offline := false
	for _, user := range users {
		if _, err := s.store.UpdateUser(ctx, &store.UpdateUser{ID: user.ID, IsOnline: &offline}); err != nil {
			slog.Warn("failed to clear stale online flag", "user_id", user.ID, "error", err)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.serveConn(ctx, netConn)
		}()
	}
}

// serveConn owns one client from accept to teardown. The read loop runs
// here; writes go through the connection's queue.
func (s *Server) serveConn(ctx context.Context, netConn net.Conn) {
	c := newConnection(netConn, s.profile.ChatRatePerSec, s.profile.ChatBurst)
	s.metrics.ConnectionOpened()
	s.trackConn(c, true)
	slog.Debug("connection opened", "conn_id", c.ID(), "remote_addr", c.RemoteAddr())

	s.readLoop(ctx, c)

	s.trackConn(c, false)
	if sess := s.registry.Disconnect(c); sess != nil {
		s.metrics.SessionEnded()
		online := false
		if _, err := s.store.UpdateUser(ctx, &store.UpdateUser{ID: sess.UserID, IsOnline: &online}); err != nil {
			slog.Warn("failed to clear online flag", "user_id", sess.UserID, "error", err)
		}
		slog.Info("user disconnected", "user_id", sess.UserID, "username", sess.Username, "conn_id", c.ID())
	}
	c.Close()
	s.metrics.ConnectionClosed()
	slog.Debug("connection closed", "conn_id", c.ID())
}

func (s *Server) trackConn(c *Connection, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) connSnapshot() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Shutdown stops accepting, drains the AI queue, closes every client,
// and waits briefly for connection goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				slog.Warn("listener close failed", "error", err)
			}
		}
		if s.ai != nil {
			s.ai.Shutdown(ctx)
		}
		for _, c := range s.connSnapshot() {
			c.Close()
		}

		done := make(chan struct{})
		go func() {
			s.connWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			slog.Warn("timeout waiting for connections to drain")
		case <-ctx.Done():
		}

		s.diagnostics.Shutdown(ctx)
		slog.Info("chat server stopped")
	})
}
