// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"golang.org/x/sys/unix"

	"github.com/linya/webserver/internal/logging"
	"github.com/linya/webserver/internal/netpoll"
	"github.com/linya/webserver/internal/socket"
)

// acceptor owns the listening socket's channel on the main reactor and
// hands new fds to worker reactors round-robin.
type acceptor struct {
	opts  *Options
	main  *Reactor
	group *reactorGroup
	ch    *Channel
}

func newAcceptor(opts *Options, main *Reactor, group *reactorGroup, lnfd int) *acceptor {
	a := &acceptor{opts: opts, main: main, group: group}
	a.ch = &Channel{fd: lnfd, handler: a}
	a.ch.events = netpoll.InEvents | netpoll.ETMode
	return a
}

// onRead drains accept until it would block. Each accepted fd is made
// non-blocking, Nagle-disabled, wrapped in a Connection bound to the next
// worker reactor and installed there through its task queue; the fd is not
// registered with any poller until install runs on the owner.
func (a *acceptor) onRead() {
	for {
		nfd, sa, err := unix.Accept(a.ch.fd)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			logging.Errorf("accept: %v", err)
			break
		}
		if nfd >= a.opts.MaxFDs {
			unix.Close(nfd)
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			logging.Errorf("set nonblock fd %d: %v", nfd, err)
			unix.Close(nfd)
			continue
		}
		if err := socket.SetNoDelay(nfd); err != nil {
			logging.Warnf("set nodelay fd %d: %v", nfd, err)
		}
		logging.Infof("new connection from %s", socket.SockaddrString(sa))
		lp := a.group.nextLoop()
		c := newConnection(lp, nfd, a.opts.FileSource)
		lp.QueueInLoop(c.install)
	}
	a.ch.events = netpoll.InEvents | netpoll.ETMode
}

func (a *acceptor) onWrite() {}

func (a *acceptor) onError() {
	logging.Errorf("listen fd %d error event", a.ch.fd)
}

func (a *acceptor) onUpdate() {
	a.main.Update(a.ch, 0)
}
