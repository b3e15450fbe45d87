//go:build linux
// +build linux

package webserver

import (
	"runtime"
	"testing"
	"time"
)

// startReactor builds a Reactor on a pinned thread and runs it; the test
// talks to it from the outside like a foreign thread would.
func startReactor(t *testing.T) (*Reactor, chan struct{}) {
	t.Helper()
	built := make(chan *Reactor, 1)
	finished := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		r, err := NewReactor()
		if err != nil {
			built <- nil
			return
		}
		built <- r
		r.Run()
		r.Close()
		close(finished)
	}()
	r := <-built
	if r == nil {
		t.Fatal("NewReactor failed")
	}
	return r, finished
}

func TestQueueInLoopFIFO(t *testing.T) {
	r, finished := startReactor(t)

	var got []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		r.QueueInLoop(func() { got = append(got, i) })
	}
	r.QueueInLoop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued tasks did not run")
	}
	r.Quit()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not quit")
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order = %v", got)
	}
}

func TestRunInLoopInlineOnOwner(t *testing.T) {
	r, finished := startReactor(t)

	// From the owner thread RunInLoop must execute inline, ahead of
	// anything queued after it.
	var got []string
	done := make(chan struct{})
	r.QueueInLoop(func() {
		r.RunInLoop(func() { got = append(got, "inline") })
		got = append(got, "after")
	})
	r.QueueInLoop(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
	r.Quit()
	<-finished
	if len(got) != 2 || got[0] != "inline" || got[1] != "after" {
		t.Fatalf("order = %v", got)
	}
}

// A task queued from inside the drain phase must not sit through the next
// poll timeout: the drain-phase wakeup guarantees a prompt second pass.
func TestQueueDuringDrainWakes(t *testing.T) {
	r, finished := startReactor(t)

	done := make(chan struct{})
	r.QueueInLoop(func() {
		r.QueueInLoop(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested task waited for the poll timeout")
	}
	r.Quit()
	<-finished
}

func TestQuitFromForeignThread(t *testing.T) {
	r, finished := startReactor(t)
	r.Quit()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("quit did not wake the loop")
	}
}

func TestChannelMaskCache(t *testing.T) {
	ch := &Channel{fd: 1}
	ch.events = 5
	if ch.equalAndUpdateLast() {
		t.Fatal("fresh mask reported current")
	}
	if !ch.equalAndUpdateLast() {
		t.Fatal("unchanged mask reported stale")
	}
	ch.events = 7
	if ch.equalAndUpdateLast() {
		t.Fatal("changed mask reported current")
	}
}
