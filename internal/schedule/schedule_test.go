package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFiresCallback(t *testing.T) {
	s := New(nil)
	var fired int32
	s.Schedule(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fired) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("callback did not fire within deadline")
}

func TestScheduleCancelsPreviousTimer(t *testing.T) {
	s := New(nil)
	var firedFirst, firedSecond int32
	s.Schedule(20*time.Millisecond, func() { atomic.StoreInt32(&firedFirst, 1) })
	s.Schedule(20*time.Millisecond, func() { atomic.StoreInt32(&firedSecond, 1) })

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&firedFirst) == 1 {
		t.Fatal("first scheduled callback should have been cancelled by the second Schedule call")
	}
	if atomic.LoadInt32(&firedSecond) != 1 {
		t.Fatal("second scheduled callback should have fired")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Cancel()
	s.Cancel()

	var fired int32
	s.Schedule(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	s.Cancel()
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) == 1 {
		t.Fatal("callback fired after Cancel")
	}
}

func TestPendingReflectsTimerState(t *testing.T) {
	s := New(nil)
	if s.Pending() {
		t.Fatal("expected no pending timer initially")
	}
	s.Schedule(10*time.Millisecond, func() {})
	if !s.Pending() {
		t.Fatal("expected a pending timer after Schedule")
	}
	s.Cancel()
	if s.Pending() {
		t.Fatal("expected no pending timer after Cancel")
	}
}

func TestAtMostOnePendingTimerAfterFire(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	s.Schedule(10*time.Millisecond, func() { close(done) })
	<-done
	time.Sleep(5 * time.Millisecond)
	if s.Pending() {
		t.Fatal("expected Pending() to clear once the timer has fired")
	}
}
