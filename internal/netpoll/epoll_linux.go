// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// Package netpoll wraps the epoll readiness multiplexer behind the small
// add/mod/del/wait contract the reactors program against.
package netpoll

import (
	"golang.org/x/sys/unix"
)

// Event masks. EPOLLET in x/sys is already the positive 1<<31 form, so the
// values compose directly into epoll_event.Events.
const (
	InEvents   = uint32(unix.EPOLLIN)
	PriEvents  = uint32(unix.EPOLLPRI)
	OutEvents  = uint32(unix.EPOLLOUT)
	ErrEvents  = uint32(unix.EPOLLERR)
	HupEvents  = uint32(unix.EPOLLHUP)
	RdhupEvent = uint32(unix.EPOLLRDHUP)
	ETMode     = uint32(unix.EPOLLET)

	ReadEvents = InEvents | PriEvents | RdhupEvent
)

// MaxPollEvents bounds a single epoll_wait batch.
const MaxPollEvents = 4096

// Poller is one epoll instance. Each reactor owns exactly one and is the
// only goroutine that calls Wait; Add/Mod/Delete are issued from the owner
// as well, epoll_ctl itself being thread-safe either way.
type Poller struct {
	fd int
}

// OpenPoller creates the epoll fd with close-on-exec.
func OpenPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd}, nil
}

func (p *Poller) Add(fd int, events uint32) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *Poller) Mod(fd int, events uint32) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *Poller) Delete(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks up to timeoutMs for readiness and fills evs. EINTR surfaces
// as (0, unix.EINTR); callers treat it as an empty batch.
func (p *Poller) Wait(evs []unix.EpollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.fd, evs, timeoutMs)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Poller) Close() error {
	return unix.Close(p.fd)
}
