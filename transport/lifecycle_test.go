package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLifecycle_Transitions(t *testing.T) {
	l := NewLifecycle("test")
	if l.State() != StateUninitialized {
		t.Fatalf("Expected uninitialized, got %s", l.State())
	}
	if err := l.BeginConnect(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if err := l.Initialized(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := l.BeginConnect(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := l.BeginConnect(); err == nil {
		t.Error("Expected error when connecting twice")
	}
	sess, err := l.Established()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if l.State() != StateConnected || !l.Connected().Get() {
		t.Errorf("Expected connected state and flag, got %s/%v", l.State(), l.Connected().Get())
	}
	if l.Read() != (<-chan []byte)(sess.rx) {
		t.Error("Expected Read to return the session stream")
	}

	if !l.Stop() {
		t.Error("Expected Stop to report an active session")
	}
	if l.State() != StateDisconnected || l.Connected().Get() {
		t.Errorf("Expected disconnected, got %s/%v", l.State(), l.Connected().Get())
	}
	if l.Stop() {
		t.Error("Expected second Stop to be a no-op")
	}

	// Reconnect from disconnected is allowed.
	if err := l.BeginConnect(); err != nil {
		t.Errorf("Expected reconnect to be allowed, got %v", err)
	}
	if !l.Dispose() {
		t.Error("Expected first Dispose to succeed")
	}
	if l.Dispose() {
		t.Error("Expected second Dispose to be a no-op")
	}
	if err := l.Initialized(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed, got %v", err)
	}
}

func TestLifecycle_ReadWithoutSessionIsClosed(t *testing.T) {
	l := NewLifecycle("test")
	select {
	case _, ok := <-l.Read():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Read blocked without a session")
	}
}

func TestLifecycle_EstablishedAfterStop(t *testing.T) {
	l := NewLifecycle("test")
	l.Initialized()
	l.BeginConnect()
	l.Stop()
	if _, err := l.Established(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after cancelled attempt, got %v", err)
	}
	if l.Connected().Get() {
		t.Error("Expected flag to stay false")
	}
}

func TestLifecycle_DownIgnoresStaleSession(t *testing.T) {
	l := NewLifecycle("test")
	l.Initialized()
	l.BeginConnect()
	old, _ := l.Established()
	l.Stop()
	l.BeginConnect()
	current, _ := l.Established()

	if l.Down(old) {
		t.Error("Expected Down on a stale session to be ignored")
	}
	if !l.Connected().Get() {
		t.Error("Expected current session to stay connected")
	}
	if !l.Down(current) {
		t.Error("Expected Down on the live session to succeed")
	}
	if l.Connected().Get() {
		t.Error("Expected flag to be false after Down")
	}
}

func TestLifecycle_FlagNotifiesSubscribers(t *testing.T) {
	l := NewLifecycle("test")
	ch, unsubscribe := l.Connected().Subscribe()
	defer unsubscribe()

	l.Initialized()
	l.BeginConnect()
	sess, _ := l.Established()
	expectFlag(t, ch, true)
	l.Down(sess)
	expectFlag(t, ch, false)
}

func expectFlag(t *testing.T, ch <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("Expected flag %v, got %v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for flag %v", want)
	}
}

func TestSession_DeliverAfterEnd(t *testing.T) {
	s := newSession()
	if !s.Deliver([]byte{1}) {
		t.Fatal("Expected delivery to an open session")
	}
	s.end()
	if s.Deliver([]byte{2}) {
		t.Error("Expected delivery to an ended session to fail")
	}

	var got [][]byte
	for chunk := range s.rx {
		got = append(got, chunk)
	}
	if len(got) != 1 || got[0][0] != 1 {
		t.Errorf("Expected buffered chunk to survive end, got %v", got)
	}
}

func TestSession_EndUnblocksDeliver(t *testing.T) {
	s := newSession()
	for i := 0; i < sessionBuffer; i++ {
		s.Deliver([]byte{byte(i)})
	}

	done := make(chan bool)
	go func() { done <- s.Deliver([]byte{0xFF}) }()

	time.Sleep(20 * time.Millisecond)
	s.end()
	select {
	case ok := <-done:
		if ok {
			t.Error("Expected blocked Deliver to fail after end")
		}
	case <-time.After(time.Second):
		t.Fatal("Deliver stayed blocked after end")
	}
}

func TestFirstDevice(t *testing.T) {
	candidates := []Device{{Address: "a1", Name: "alpha"}, {Address: "b2", Name: "beta"}}

	d, err := FirstDevice{}.SelectDevice(context.Background(), candidates)
	if err != nil || d.Address != "a1" {
		t.Errorf("Expected first candidate, got %+v, %v", d, err)
	}
	d, err = FirstDevice{Address: "beta"}.SelectDevice(context.Background(), candidates)
	if err != nil || d.Address != "b2" {
		t.Errorf("Expected match by name, got %+v, %v", d, err)
	}
	if _, err := (FirstDevice{Address: "zz"}).SelectDevice(context.Background(), candidates); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", err)
	}
	if _, err := (FirstDevice{}).SelectDevice(context.Background(), nil); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice for empty list, got %v", err)
	}
}

func TestCheckWrite(t *testing.T) {
	if n, err := CheckWrite(8, 8, nil); n != 8 || err != nil {
		t.Errorf("Expected full write, got %d, %v", n, err)
	}
	if _, err := CheckWrite(3, 8, nil); !errors.Is(err, ErrPartialWrite) {
		t.Errorf("Expected ErrPartialWrite, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := CheckWrite(0, 8, boom); !errors.Is(err, boom) {
		t.Errorf("Expected underlying error, got %v", err)
	}
}
