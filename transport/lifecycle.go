package transport

import (
	"fmt"
	"sync"

	"github.com/mbocsi/devlink/broker"
)

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateConnecting
	StateConnected
	StateDisconnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Lifecycle enforces the transport state machine and owns the connected flag
// and the read stream. Adapters embed it and call the transition methods
// around their own I/O.
type Lifecycle struct {
	name      string
	mu        sync.Mutex
	state     State
	sess      *Session
	connected *broker.Value[bool]
}

func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name, connected: broker.NewValue(false)}
}

func (l *Lifecycle) Name() string { return l.name }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) Connected() *broker.Value[bool] { return l.connected }

// Read returns the chunk stream of the current session. Without a session
// the returned channel is already closed.
func (l *Lifecycle) Read() <-chan []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return l.sess.rx
}

// Session returns the current session or nil.
func (l *Lifecycle) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}

// Initialized moves an uninitialized transport to initialized. Repeated calls
// are no-ops.
func (l *Lifecycle) Initialized() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateDisposed:
		return ErrDisposed
	case StateUninitialized:
		l.state = StateInitialized
	}
	return nil
}

// BeginConnect marks the start of a connection attempt.
func (l *Lifecycle) BeginConnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateDisposed:
		return ErrDisposed
	case StateUninitialized:
		return ErrNotInitialized
	case StateConnecting, StateConnected:
		return fmt.Errorf("transport %s: already %s", l.name, l.state)
	}
	l.state = StateConnecting
	return nil
}

// Abort ends a connection attempt that failed before Established.
func (l *Lifecycle) Abort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnecting {
		l.state = StateDisconnected
	}
}

// Established completes a connection attempt and opens a new session. It
// fails when the attempt was cancelled by Disconnect or Dispose in between,
// in which case the caller must release whatever it opened.
func (l *Lifecycle) Established() (*Session, error) {
	l.mu.Lock()
	if l.state != StateConnecting {
		state := l.state
		l.mu.Unlock()
		if state == StateDisposed {
			return nil, ErrDisposed
		}
		return nil, fmt.Errorf("%w: connect cancelled", ErrNotConnected)
	}
	s := newSession()
	l.sess = s
	l.state = StateConnected
	l.mu.Unlock()

	l.connected.Set(true)
	return s, nil
}

// Down reports a link loss for s. It is a no-op unless s is still the live
// session, so late errors from an old reader are ignored.
func (l *Lifecycle) Down(s *Session) bool {
	l.mu.Lock()
	if s == nil || l.sess != s || l.state != StateConnected {
		l.mu.Unlock()
		return false
	}
	l.state = StateDisconnected
	l.mu.Unlock()

	s.end()
	l.connected.Set(false)
	return true
}

// Stop ends a pending attempt or the live session. It reports whether there
// was anything to stop.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	switch l.state {
	case StateConnecting:
		l.state = StateDisconnected
		l.mu.Unlock()
		return true
	case StateConnected:
		l.state = StateDisconnected
		s := l.sess
		l.mu.Unlock()
		s.end()
		l.connected.Set(false)
		return true
	}
	l.mu.Unlock()
	return false
}

// Dispose stops the transport for good. It returns false when the transport
// was already disposed.
func (l *Lifecycle) Dispose() bool {
	l.Stop()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisposed {
		return false
	}
	l.state = StateDisposed
	return true
}

// Session is the receive side of one connection. Producers call Deliver;
// the channel is closed by the lifecycle, never by the producer.
type Session struct {
	rx   chan []byte
	done chan struct{}
	mu   sync.RWMutex
	once sync.Once
}

const sessionBuffer = 256

func newSession() *Session {
	return &Session{rx: make(chan []byte, sessionBuffer), done: make(chan struct{})}
}

// Deliver hands a chunk to the reader. It blocks while the reader is behind
// and returns false once the session has ended.
func (s *Session) Deliver(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.rx <- p:
		return true
	case <-s.done:
		return false
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) end() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.rx)
		s.mu.Unlock()
	})
}
