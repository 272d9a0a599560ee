package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

type fakeConn struct {
	connects atomic.Int32
	closed   atomic.Bool
}

func (f *fakeConn) Connect(ctx context.Context) error { f.connects.Add(1); return nil }
func (f *fakeConn) Close()                            { f.closed.Store(true) }
func (f *fakeConn) SendText(ctx context.Context, chatID, text string) error {
	return nil
}
func (f *fakeConn) SendImage(ctx context.Context, chatID, path, caption string) error {
	return nil
}
func (f *fakeConn) ChatByID(chatID string) (transport.Chat, error) {
	return nil, errors.New("no chats")
}
func (f *fakeConn) ContactName(chatID string) (string, error) {
	return "", errors.New("no contacts")
}
func (f *fakeConn) Diagnostics() string { return "fake connection" }

type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	events  []transport.Events
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFactory) factory(ev transport.Events) (transport.Conn, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	f.events = append(f.events, ev)
	return c, nil
}

func (f *fakeFactory) blockNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = make(chan struct{})
	f.release = make(chan struct{})
}

func (f *fakeFactory) unblock() {
	f.mu.Lock()
	release := f.release
	f.entered, f.release = nil, nil
	f.mu.Unlock()
	close(release)
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) eventsFor(i int) transport.Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

func newConnService(f *fakeFactory, pairing *PairingService, watchdog, reconnect time.Duration) *ConnectionService {
	return NewConnectionService(ConnectionOptions{
		Factory:        f.factory,
		Pairing:        pairing,
		ReadyWatchdog:  watchdog,
		ReconnectDelay: reconnect,
	})
}

func TestLifecycleStates(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatalf("establish: %v", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Fatalf("state before events = %s", got)
	}

	ev := f.eventsFor(0)
	ev.QRIssued("payload")
	if got := s.State(); got != StateAwaitingQR {
		t.Fatalf("state after qr = %s", got)
	}
	ev.Authenticated()
	if got := s.State(); got != StateAuthenticated {
		t.Fatalf("state after authenticated = %s", got)
	}
	if s.Connected() {
		t.Fatal("connected before ready")
	}
	ev.Ready()
	if got := s.State(); got != StateReady {
		t.Fatalf("state after ready = %s", got)
	}
	if !s.Connected() {
		t.Fatal("not connected after ready")
	}
	ev.Disconnected("network")
	if got := s.State(); got != StateDisconnected {
		t.Fatalf("state after disconnect = %s", got)
	}
}

func TestWatchdogLogsButNeverRestarts(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, 15*time.Millisecond, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.eventsFor(0).Authenticated()

	time.Sleep(60 * time.Millisecond)
	if got := f.count(); got != 1 {
		t.Fatalf("watchdog restarted the connection: %d connections", got)
	}
	if got := s.State(); got != StateAuthenticated {
		t.Fatalf("watchdog changed state to %s", got)
	}
}

func TestLivenessRestartsWhenNotReady(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.eventsFor(0).Authenticated()

	s.CheckLiveness()
	if got := f.count(); got != 2 {
		t.Fatalf("expected one restart, got %d connections", got)
	}
	if !f.conn(0).closed.Load() {
		t.Fatal("restart did not tear down the old connection")
	}
	if f.conn(1).connects.Load() != 1 {
		t.Fatal("restart did not connect the new connection")
	}
}

func TestLivenessSkipsWhenReady(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := f.eventsFor(0)
	ev.Authenticated()
	ev.Ready()

	s.CheckLiveness()
	if got := f.count(); got != 1 {
		t.Fatalf("liveness restarted a ready connection: %d connections", got)
	}
}

func TestOverlappingLivenessFiringsRestartOnce(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.blockNext()
	done := make(chan struct{})
	go func() {
		s.CheckLiveness()
		close(done)
	}()
	<-f.entered

	// Interval firings while the restart is still in flight.
	for i := 0; i < 3; i++ {
		s.CheckLiveness()
	}

	f.unblock()
	<-done

	if got := f.count(); got != 2 {
		t.Fatalf("overlapping firings produced %d connections, want 2", got)
	}
}

func TestDuplicateQRPayloadSuppressed(t *testing.T) {
	var renders atomic.Int32
	pairing := NewPairingService(func(payload string) ([]byte, error) {
		renders.Add(1)
		return []byte(payload), nil
	}, 5*time.Millisecond)
	defer pairing.Close()

	f := &fakeFactory{}
	s := newConnService(f, pairing, time.Hour, time.Hour)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := f.eventsFor(0)
	ev.QRIssued("code-1")
	ev.QRIssued("code-1")
	time.Sleep(40 * time.Millisecond)
	if got := renders.Load(); got != 1 {
		t.Fatalf("duplicate payload rendered %d times", got)
	}

	ev.QRIssued("code-2")
	time.Sleep(40 * time.Millisecond)
	if got := renders.Load(); got != 2 {
		t.Fatalf("changed payload did not re-render: %d renders", got)
	}
}

func TestDisconnectSchedulesOneReconnect(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, 10*time.Millisecond)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := f.eventsFor(0)
	ev.Disconnected("socket closed")

	time.Sleep(80 * time.Millisecond)
	if got := f.count(); got != 2 {
		t.Fatalf("expected one reconnect, got %d connections", got)
	}

	// Stale event from the replaced connection is ignored.
	ev.Disconnected("socket closed again")
	time.Sleep(80 * time.Millisecond)
	if got := f.count(); got != 2 {
		t.Fatalf("stale disconnect triggered reconnect: %d connections", got)
	}
}

func TestRestartCancelsPendingReconnect(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, 25*time.Millisecond)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A disconnect arms the delayed reconnect, then the liveness check
	// restarts before it fires. The restarted connection reaches ready;
	// the old timer must not tear it down afterwards.
	f.eventsFor(0).Disconnected("socket closed")
	s.CheckLiveness()
	if got := f.count(); got != 2 {
		t.Fatalf("liveness restart produced %d connections, want 2", got)
	}
	ev := f.eventsFor(1)
	ev.Authenticated()
	ev.Ready()

	time.Sleep(80 * time.Millisecond)
	if got := f.count(); got != 2 {
		t.Fatalf("stale reconnect timer fired: %d connections", got)
	}
	if f.conn(1).closed.Load() {
		t.Fatal("stale reconnect timer closed the ready connection")
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %s, want %s", got, StateReady)
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, 10*time.Millisecond)
	defer s.Stop()

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.eventsFor(0).AuthFailure("logged out")

	time.Sleep(60 * time.Millisecond)
	if got := f.count(); got != 1 {
		t.Fatalf("auth failure must not auto-retry, got %d connections", got)
	}
}

func TestStopClosesConnectionAndDisablesRestarts(t *testing.T) {
	f := &fakeFactory{}
	s := newConnService(f, nil, time.Hour, time.Hour)

	if err := s.EstablishConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if !f.conn(0).closed.Load() {
		t.Fatal("Stop did not close the connection")
	}
	s.CheckLiveness()
	if got := f.count(); got != 1 {
		t.Fatalf("liveness ran after Stop: %d connections", got)
	}
	if err := s.EstablishConnection(context.Background()); err == nil {
		t.Fatal("establish after Stop must fail")
	}
}
