package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

// ConnState is the lifecycle state of the single transport connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateAwaitingQR
	StateAuthenticated
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateAwaitingQR:
		return "awaiting_qr"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// ConnectionOptions configures the lifecycle manager.
type ConnectionOptions struct {
	Factory        transport.Factory
	Pairing        *PairingService
	OnMessage      func(transport.Message)
	ReadyWatchdog  time.Duration
	ReconnectDelay time.Duration
}

// ConnectionService owns the one transport connection. It drives the
// Disconnected → AwaitingQR → Authenticated → Ready state machine from
// transport events, watches for the connection stalling between
// authenticated and ready, and is the only component that restarts or
// reconnects. Everybody else fetches the current handle per call.
type ConnectionService struct {
	factory        transport.Factory
	pairing        *PairingService
	onMessage      func(transport.Message)
	readyWatchdog  time.Duration
	reconnectDelay time.Duration

	mu         sync.Mutex
	ctx        context.Context
	conn       transport.Conn
	state      ConnState
	gen        uint64
	lastQR     string
	watchdog   *time.Timer
	reconnect  *time.Timer
	restarting bool
	stopped    bool
}

func NewConnectionService(opts ConnectionOptions) *ConnectionService {
	return &ConnectionService{
		factory:        opts.Factory,
		pairing:        opts.Pairing,
		onMessage:      opts.OnMessage,
		readyWatchdog:  opts.ReadyWatchdog,
		reconnectDelay: opts.ReconnectDelay,
	}
}

// EstablishConnection tears down any previous connection object,
// creates a fresh one from the factory and connects it. Events from the
// replaced object are ignored from here on.
func (s *ConnectionService) EstablishConnection(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("connection service is stopped")
	}
	s.ctx = ctx
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	old := s.conn
	s.conn = nil
	s.gen++
	gen := s.gen
	s.state = StateDisconnected
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	conn, err := s.factory(transport.Events{
		QRIssued:      func(payload string) { s.handleQR(gen, payload) },
		Authenticated: func() { s.handleAuthenticated(gen) },
		AuthFailure:   func(reason string) { s.handleAuthFailure(gen, reason) },
		Ready:         func() { s.handleReady(gen) },
		Disconnected:  func(reason string) { s.handleDisconnected(gen, reason) },
		Message:       func(msg transport.Message) { s.handleInbound(gen, msg) },
	})
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("connection attempt superseded")
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Current returns the live connection handle, or nil before the first
// connect. Callers must not cache it across calls.
func (s *ConnectionService) Current() transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connected reports whether the connection has reached ready.
func (s *ConnectionService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// State returns the current lifecycle state.
func (s *ConnectionService) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop cancels supervision timers and closes the connection.
func (s *ConnectionService) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// CheckLiveness runs on the supervision interval. If the connection has
// still not reached ready it performs the one and only restart path;
// overlapping firings while a restart is in flight do nothing.
func (s *ConnectionService) CheckLiveness() {
	s.mu.Lock()
	if s.stopped || s.restarting || s.state == StateReady {
		s.mu.Unlock()
		return
	}
	s.restarting = true
	ctx := s.ctx
	state := s.state
	s.mu.Unlock()

	log.Printf("[warn] connection not ready (state=%s), restarting", state)
	if err := s.EstablishConnection(ctx); err != nil {
		log.Printf("restart connection: %v", err)
	}

	s.mu.Lock()
	s.restarting = false
	s.mu.Unlock()
}

func (s *ConnectionService) handleQR(gen uint64, payload string) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateAwaitingQR
	if payload == s.lastQR {
		s.mu.Unlock()
		return
	}
	s.lastQR = payload
	s.mu.Unlock()

	log.Println("[info] new pairing code issued, scan to authenticate")
	if s.pairing != nil {
		s.pairing.Submit(payload)
	}
}

func (s *ConnectionService) handleAuthenticated(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	if s.readyWatchdog > 0 {
		s.watchdog = time.AfterFunc(s.readyWatchdog, func() { s.watchdogFired(gen) })
	}
	s.mu.Unlock()
	log.Println("[info] authenticated, syncing data")
}

// watchdogFired logs diagnostics when ready never arrived after
// authentication. It does not restart; the liveness check owns that.
func (s *ConnectionService) watchdogFired(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.state == StateReady {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	diag := "connection unavailable"
	if conn != nil {
		diag = conn.Diagnostics()
	}
	log.Printf("[warn] still not ready %s after authentication: %s", s.readyWatchdog, diag)
}

func (s *ConnectionService) handleReady(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.mu.Unlock()
	log.Println("[info] whatsapp connected and ready")
}

// handleAuthFailure surfaces a failed pairing attempt. It is terminal:
// the operator must pair again.
func (s *ConnectionService) handleAuthFailure(gen uint64, reason string) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	log.Printf("authentication failed: %s (new pairing required)", reason)
}

func (s *ConnectionService) handleDisconnected(gen uint64, reason string) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.restarting {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	ctx := s.ctx
	s.reconnect = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		stale := s.stopped || gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		if err := s.EstablishConnection(ctx); err != nil {
			log.Printf("reconnect: %v", err)
		}
	})
	s.mu.Unlock()
	log.Printf("[warn] disconnected: %s, reconnecting in %s", reason, s.reconnectDelay)
}

func (s *ConnectionService) handleInbound(gen uint64, msg transport.Message) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}
