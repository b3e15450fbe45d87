// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"encoding/binary"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/linya/webserver/internal/logging"
	"github.com/linya/webserver/internal/netpoll"
	"github.com/linya/webserver/internal/socket"
)

const pollWaitMs = 10000

// Reactor is one single-threaded event loop: an epoll poller, an eventfd
// wakeup handle, a mutex-guarded pending-task queue and a timer heap. Every
// field except pending and the atomic flags is touched only by the owning
// thread, captured at construction.
type Reactor struct {
	poller   *netpoll.Poller
	wakeupFd int
	wakeupCh *Channel
	tid      int

	looping        atomic.Bool
	quitRequested  atomic.Bool
	runningPending atomic.Bool

	mu      sync.Mutex
	pending *queue.Queue

	timers   timerQueue
	channels []*Channel
	conns    map[int]*Connection
}

// NewReactor must run on the thread that will call Run; the owner thread id
// is captured here.
func NewReactor() (*Reactor, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	efd, err := socket.Eventfd()
	if err != nil {
		p.Close()
		return nil, err
	}
	r := &Reactor{
		poller:   p,
		wakeupFd: efd,
		tid:      unix.Gettid(),
		pending:  queue.New(),
		conns:    make(map[int]*Connection),
	}
	r.wakeupCh = &Channel{fd: efd, handler: &wakeupHandler{r: r}}
	r.wakeupCh.events = netpoll.InEvents | netpoll.ETMode
	r.Add(r.wakeupCh, 0)
	return r, nil
}

func (r *Reactor) inLoopThread() bool {
	return unix.Gettid() == r.tid
}

// Run is the event loop. One pass: poll with a bounded timeout, dispatch
// ready channels, drain pending tasks, expire timers. Must run on the
// owning thread and must not be re-entered.
func (r *Reactor) Run() {
	if !r.looping.CAS(false, true) {
		logging.Errorf("reactor loop re-entered")
		return
	}
	evs := make([]unix.EpollEvent, netpoll.MaxPollEvents)
	ready := make([]*Channel, 0, netpoll.MaxPollEvents)
	for !r.quitRequested.Load() {
		n, err := r.poller.Wait(evs, r.pollTimeout())
		if err != nil && err != unix.EINTR {
			logging.Errorf("epoll wait: %v", err)
		}
		ready = ready[:0]
		for i := 0; i < n; i++ {
			fd := int(evs[i].Fd)
			ch := r.channelOf(fd)
			if ch == nil {
				logging.Warnf("ready fd %d has no channel", fd)
				continue
			}
			ch.revents = evs[i].Events
			ready = append(ready, ch)
		}
		for _, ch := range ready {
			ch.handleEvents()
		}
		r.doPending()
		r.timers.expire(nowMillis())
	}
	r.looping.Store(false)
}

// pollTimeout clamps the 10 s bound to the earliest timer deadline so an
// idle connection's expiry is not stretched by a sleeping poll.
func (r *Reactor) pollTimeout() int {
	t := int64(pollWaitMs)
	if next, ok := r.timers.nextExpiry(); ok {
		if d := next - nowMillis(); d < t {
			t = d
		}
	}
	if t < 0 {
		t = 0
	}
	return int(t)
}

// RunInLoop executes task inline when called on the owning thread and
// queues it otherwise.
func (r *Reactor) RunInLoop(task func()) {
	if r.inLoopThread() {
		task()
	} else {
		r.QueueInLoop(task)
	}
}

// QueueInLoop appends task to the pending list. A foreign caller always
// wakes the loop; so does an owner-thread caller while the drain phase is
// running, because a task enqueued mid-drain would otherwise sit through
// the next poll timeout.
func (r *Reactor) QueueInLoop(task func()) {
	r.mu.Lock()
	r.pending.Add(task)
	r.mu.Unlock()
	if !r.inLoopThread() || r.runningPending.Load() {
		r.wakeup()
	}
}

// Quit is safe from any thread.
func (r *Reactor) Quit() {
	r.quitRequested.Store(true)
	if !r.inLoopThread() {
		r.wakeup()
	}
}

// wakeup makes the owning reactor leave poll at least once before it
// re-sleeps. Coalesced writes are fine; the drain pass takes everything.
func (r *Reactor) wakeup() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	n, err := unix.Write(r.wakeupFd, one[:])
	if n != 8 {
		logging.Warnf("wakeup writes %d bytes instead of 8: %v", n, err)
	}
}

// doPending swaps the queue out under the lock and runs the tasks without
// it, in FIFO order.
func (r *Reactor) doPending() {
	r.runningPending.Store(true)
	r.mu.Lock()
	q := r.pending
	r.pending = queue.New()
	r.mu.Unlock()
	for q.Length() > 0 {
		q.Remove().(func())()
	}
	r.runningPending.Store(false)
}

func (r *Reactor) channelOf(fd int) *Channel {
	if fd < len(r.channels) {
		return r.channels[fd]
	}
	return nil
}

func (r *Reactor) storeChannel(ch *Channel) {
	for ch.fd >= len(r.channels) {
		r.channels = append(r.channels, make([]*Channel, len(r.channels)+64)...)
	}
	r.channels[ch.fd] = ch
}

// Add registers the channel with the poller and, for timeoutMs > 0, arms a
// fresh timer entry for the channel's connection.
func (r *Reactor) Add(ch *Channel, timeoutMs int64) {
	if timeoutMs > 0 {
		r.addTimer(ch, timeoutMs)
	}
	ch.equalAndUpdateLast()
	r.storeChannel(ch)
	if err := r.poller.Add(ch.fd, ch.events); err != nil {
		logging.Errorf("epoll add fd %d: %v", ch.fd, err)
		r.channels[ch.fd] = nil
	}
}

// Update pushes the interest mask to the poller, skipping the syscall when
// the registration is already current.
func (r *Reactor) Update(ch *Channel, timeoutMs int64) {
	if timeoutMs > 0 {
		r.addTimer(ch, timeoutMs)
	}
	if !ch.equalAndUpdateLast() {
		if err := r.poller.Mod(ch.fd, ch.events); err != nil {
			logging.Errorf("epoll mod fd %d: %v", ch.fd, err)
			r.channels[ch.fd] = nil
		}
	}
}

// Remove deregisters the channel, drops the connection reference and closes
// the fd.
func (r *Reactor) Remove(ch *Channel) {
	if err := r.poller.Delete(ch.fd); err != nil {
		logging.Errorf("epoll del fd %d: %v", ch.fd, err)
	}
	if ch.fd < len(r.channels) {
		r.channels[ch.fd] = nil
	}
	delete(r.conns, ch.fd)
	unix.Close(ch.fd)
}

func (r *Reactor) addTimer(ch *Channel, timeoutMs int64) {
	if c, ok := r.conns[ch.fd]; ok {
		c.timer = r.timers.add(c, timeoutMs)
	} else {
		logging.Warnf("timer add fail: fd %d has no connection", ch.fd)
	}
}

// Close releases the poller and the wakeup fd after Run has returned.
func (r *Reactor) Close() error {
	return multierr.Append(r.poller.Close(), unix.Close(r.wakeupFd))
}

// wakeupHandler drains the eventfd counter; the write side lives in
// Reactor.wakeup.
type wakeupHandler struct {
	r *Reactor
}

func (w *wakeupHandler) onRead() {
	var buf [8]byte
	n, err := unix.Read(w.r.wakeupFd, buf[:])
	if n != 8 {
		logging.Warnf("wakeup reads %d bytes instead of 8: %v", n, err)
	}
}

func (w *wakeupHandler) onWrite() {}

func (w *wakeupHandler) onError() {
	logging.Errorf("wakeup fd %d error event", w.r.wakeupFd)
}

func (w *wakeupHandler) onUpdate() {
	w.r.wakeupCh.events = netpoll.InEvents | netpoll.ETMode
	w.r.Update(w.r.wakeupCh, 0)
}
