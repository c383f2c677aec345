package broker

import (
	"testing"
	"time"
)

func TestValue_GetSet(t *testing.T) {
	v := NewValue(false)
	if v.Get() {
		t.Fatal("Expected initial value false")
	}
	v.Set(true)
	if !v.Get() {
		t.Error("Expected value true after Set")
	}
}

func TestValue_SubscribeReceivesChanges(t *testing.T) {
	v := NewValue(0)
	ch, unsub := v.Subscribe()
	defer unsub()

	v.Set(7)

	select {
	case got := <-ch:
		if got != 7 {
			t.Errorf("Expected 7, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber did not receive value")
	}
}

func TestValue_SlowSubscriberSeesLatest(t *testing.T) {
	v := NewValue(0)
	ch, unsub := v.Subscribe()
	defer unsub()

	for i := 1; i <= 10; i++ {
		v.Set(i)
	}

	got := <-ch
	if got != 10 {
		t.Errorf("Expected latest value 10, got %d", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected no queued values, got %d", extra)
	default:
	}
}

func TestValue_UnsubscribeTwice(t *testing.T) {
	v := NewValue("a")
	_, unsub := v.Subscribe()
	unsub()
	unsub()
	v.Set("b")
}

func TestBus_PublishFanOut(t *testing.T) {
	b := NewBus[string]("test", 4)
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	if b.Len() != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", b.Len())
	}

	b.Publish("hello")

	for i, ch := range []<-chan string{ch1, ch2} {
		select {
		case got := <-ch:
			if got != "hello" {
				t.Errorf("Subscriber %d: expected hello, got %q", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d did not receive event", i)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus[int]("test", 1)
	ch, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := <-ch; got != 0 {
		t.Errorf("Expected first event 0 to be kept, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus[int]("test", 1)
	ch, unsub := b.Subscribe()
	unsub()

	if b.Len() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", b.Len())
	}
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}
	b.Publish(1)
}
