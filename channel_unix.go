// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"github.com/linya/webserver/internal/netpoll"
)

// eventHandler is what a Channel dispatches into: the connection's three
// well-known handlers plus the post-dispatch re-arm hook. The acceptor and
// the wakeup handle implement it too.
type eventHandler interface {
	onRead()
	onWrite()
	onError()
	onUpdate()
}

// Channel binds one fd to its interest mask, the mask the poller last saw,
// the ready mask of the current iteration and its handler. It never closes
// the fd.
type Channel struct {
	fd         int
	events     uint32
	revents    uint32
	lastEvents uint32
	handler    eventHandler
}

// equalAndUpdateLast reports whether the poller registration is already
// current, refreshing the cached mask either way.
func (ch *Channel) equalAndUpdateLast() bool {
	eq := ch.lastEvents == ch.events
	ch.lastEvents = ch.events
	return eq
}

// handleEvents dispatches one poll iteration. Interest is cleared up front;
// handlers OR bits back in and onUpdate pushes the result to the poller.
// HUP without IN means nobody will re-arm and the timer reaps the fd later.
func (ch *Channel) handleEvents() {
	ch.events = 0
	if ch.revents&netpoll.HupEvents != 0 && ch.revents&netpoll.InEvents == 0 {
		return
	}
	if ch.revents&netpoll.ErrEvents != 0 {
		ch.handler.onError()
		return
	}
	if ch.revents&netpoll.ReadEvents != 0 {
		ch.handler.onRead()
	}
	if ch.revents&netpoll.OutEvents != 0 {
		ch.handler.onWrite()
	}
	ch.handler.onUpdate()
}
