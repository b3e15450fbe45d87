// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"strconv"
	"strings"
	"sync"

	"github.com/luyu6056/tls"
	"golang.org/x/sys/unix"

	"github.com/linya/webserver/internal/logging"
	"github.com/linya/webserver/internal/netpoll"
)

type connState int

const (
	stateConnected connState = iota
	stateDisconnecting
	stateDisconnected
)

const (
	readChunk = 4096
	sendChunk = 16384
)

var msgbufPool = sync.Pool{New: func() interface{} {
	return &tls.MsgBuffer{}
}}

// Connection is the per-fd HTTP state machine. It lives exclusively in one
// worker reactor and never moves after install.
type Connection struct {
	loop *Reactor
	ch   *Channel
	fd   int
	fs   FileSource

	inBuf  *tls.MsgBuffer
	outBuf *tls.MsgBuffer

	req       request
	connState connState
	err       bool
	timer     *timerEntry
}

func newConnection(lp *Reactor, fd int, fs FileSource) *Connection {
	c := &Connection{
		loop:      lp,
		fd:        fd,
		fs:        fs,
		inBuf:     msgbufPool.Get().(*tls.MsgBuffer),
		outBuf:    msgbufPool.Get().(*tls.MsgBuffer),
		connState: stateConnected,
	}
	c.inBuf.Reset()
	c.outBuf.Reset()
	c.ch = &Channel{fd: fd, handler: c}
	return c
}

// install runs on the owning reactor: it seats the connection in the fd
// map, arms read interest and the first-request timeout.
func (c *Connection) install() {
	c.loop.conns[c.fd] = c
	c.ch.events = netpoll.InEvents | netpoll.ETMode
	c.loop.Add(c.ch, defaultExpiredMs)
}

func (c *Connection) onRead()   { c.handleRead() }
func (c *Connection) onWrite()  { c.handleWrite() }
func (c *Connection) onUpdate() { c.handleUpdate() }

func (c *Connection) onError() {
	logging.Warnf("fd %d epoll error event", c.fd)
	c.err = true
	c.loop.RunInLoop(c.handleClose)
}

// readSocket drains the fd into inBuf until EAGAIN. Reports bytes read and
// whether the peer closed its end.
func (c *Connection) readSocket() (int, bool, error) {
	total := 0
	for {
		p := c.inBuf.Make(readChunk)
		n, err := unix.Read(c.fd, p)
		if n < 0 {
			n = 0
		}
		c.inBuf.Truncate(c.inBuf.Len() - readChunk + n)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return total, false, nil
			}
			return total, false, err
		}
		if n == 0 {
			return total, true, nil
		}
		total += n
	}
}

// writeSocket flushes outBuf until empty or EAGAIN; a remainder stays
// buffered for the next write-readiness event.
func (c *Connection) writeSocket() error {
	for c.outBuf.Len() > 0 {
		n, err := unix.Write(c.fd, c.outBuf.PreBytes(sendChunk))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
		c.outBuf.Shift(n)
	}
	return nil
}

// handleRead pulls bytes, steps the parser as far as they allow, pushes the
// response and loops while pipelined requests remain buffered.
func (c *Connection) handleRead() {
	c.processRead()
	if c.err {
		return
	}
	if c.outBuf.Len() > 0 {
		c.handleWrite()
	}
	if !c.err && c.req.state == stateFinish {
		c.reset()
		if c.inBuf.Len() > 0 && c.connState != stateDisconnecting {
			c.handleRead()
			return
		}
	} else if !c.err && c.connState != stateDisconnected {
		c.ch.events |= netpoll.InEvents
	}
}

func (c *Connection) processRead() {
	n, peerClosed, err := c.readSocket()
	if c.connState == stateDisconnecting {
		c.inBuf.Reset()
		return
	}
	if err != nil {
		logging.Warnf("fd %d read: %v", c.fd, err)
		c.err = true
		c.respondError(400, "Bad Request")
		return
	}
	if peerClosed {
		// Request aborted, or the peer closed after sending: finish
		// parsing whatever is buffered before going down.
		c.connState = stateDisconnecting
		if n == 0 {
			return
		}
	}
	if c.req.state == stateParseURI {
		switch c.req.parseRequestLine(c.inBuf) {
		case parseURIAgain:
			return
		case parseURIError:
			logging.Warnf("fd %d bad request line", c.fd)
			c.inBuf.Reset()
			c.err = true
			c.respondError(400, "Bad Request")
			return
		default:
			c.req.state = stateParseHeaders
		}
	}
	if c.req.state == stateParseHeaders {
		switch c.req.parseHeaders(c.inBuf) {
		case parseHeaderAgain:
			return
		case parseHeaderError:
			c.err = true
			c.respondError(400, "Bad Request")
			return
		}
		if c.req.method == methodPost {
			c.req.state = stateRecvBody
		} else {
			c.req.state = stateAnalysis
		}
	}
	if c.req.state == stateRecvBody {
		v, ok := c.req.headers.get("Content-length")
		if !ok {
			c.err = true
			c.respondError(400, "Bad Request: Lack of argument (Content-length)")
			return
		}
		length, aerr := strconv.Atoi(v)
		if aerr != nil {
			c.err = true
			c.respondError(400, "Bad Request")
			return
		}
		if c.inBuf.Len() < length {
			return
		}
		c.req.state = stateAnalysis
	}
	if c.req.state == stateAnalysis {
		if c.analyze() == analysisSuccess {
			c.req.state = stateFinish
		} else {
			c.err = true
		}
	}
}

func (c *Connection) handleWrite() {
	if !c.err && c.connState != stateDisconnected {
		if err := c.writeSocket(); err != nil {
			logging.Errorf("fd %d write: %v", c.fd, err)
			c.ch.events = 0
			c.err = true
		}
		if c.outBuf.Len() > 0 {
			c.ch.events |= netpoll.OutEvents
		}
	}
}

// handleUpdate is the post-dispatch hook: detach the spent timer, pick the
// next interest mask and timeout window, or hand the connection to close.
func (c *Connection) handleUpdate() {
	c.detachTimer()
	ch := c.ch
	if !c.err && c.connState == stateConnected {
		if ch.events != 0 {
			timeout := int64(defaultExpiredMs)
			if c.req.keepAlive {
				timeout = keepAliveTimeoutMs
			}
			if ch.events&netpoll.InEvents != 0 && ch.events&netpoll.OutEvents != 0 {
				// drain the response before reading more
				ch.events = netpoll.OutEvents
			}
			ch.events |= netpoll.ETMode
			c.loop.Update(ch, timeout)
		} else if c.req.keepAlive {
			ch.events |= netpoll.InEvents | netpoll.ETMode
			c.loop.Update(ch, keepAliveTimeoutMs)
		} else {
			ch.events |= netpoll.InEvents | netpoll.ETMode
			c.loop.Update(ch, keepAliveTimeoutMs>>1)
		}
	} else if !c.err && c.connState == stateDisconnecting && ch.events&netpoll.OutEvents != 0 {
		// flush the tail, then the timer reaps the fd
		ch.events = netpoll.OutEvents | netpoll.ETMode
		c.loop.Update(ch, defaultExpiredMs)
	} else {
		c.loop.RunInLoop(c.handleClose)
	}
}

// handleClose is idempotent: the update path and a surviving timer entry
// may both request it.
func (c *Connection) handleClose() {
	if c.connState == stateDisconnected {
		return
	}
	c.connState = stateDisconnected
	c.detachTimer()
	c.loop.Remove(c.ch)
	c.inBuf.Reset()
	c.outBuf.Reset()
	msgbufPool.Put(c.inBuf)
	msgbufPool.Put(c.outBuf)
}

// reset prepares for the next request: parser back to the start, headers
// cleared, pipelined inbound bytes and keepAlive kept, timer detached.
func (c *Connection) reset() {
	c.req.reset()
	c.detachTimer()
}

func (c *Connection) detachTimer() {
	if c.timer != nil {
		c.timer.detach()
		c.timer = nil
	}
}

// respondError writes the error page in one synchronous best-effort pass;
// the connection is about to close, so the outbound queue is bypassed.
func (c *Connection) respondError(code int, msg string) {
	resp := errorResponse(code, msg)
	for len(resp) > 0 {
		n, err := unix.Write(c.fd, resp)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			break
		}
		resp = resp[n:]
	}
}

type analysisResult int

const (
	analysisSuccess analysisResult = iota
	analysisError
)

// analyze turns the parsed request into outbound bytes. GET and HEAD serve
// files (plus the hello and favicon specials); POST has no handler.
func (c *Connection) analyze() analysisResult {
	if c.req.method == methodPost {
		return analysisError
	}

	header := "HTTP/1.1 200 OK\r\n"
	if v, ok := c.req.headers.get("Connection"); ok && (v == "Keep-Alive" || v == "keep-alive") {
		c.req.keepAlive = true
		header += "Connection: Keep-Alive\r\nKeep-Alive: timeout=" +
			strconv.Itoa(keepAliveTimeoutMs) + "\r\n"
	}

	name := c.req.fileName
	suffix := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		suffix = name[dot:]
	}
	filetype := mimeType(suffix)

	if name == "hello" {
		c.outBuf.Reset()
		c.outBuf.Write([]byte(helloResponse))
		return analysisSuccess
	}
	if name == "favicon.ico" {
		header += "Content-Type: image/png\r\n"
		header += "Content-Length: " + strconv.Itoa(len(favicon)) + "\r\n"
		header += "Server: " + serverName + "\r\n"
		header += "\r\n"
		c.outBuf.Write([]byte(header))
		if c.req.method != methodHead {
			c.outBuf.Write(favicon)
		}
		return analysisSuccess
	}

	size, err := c.fs.Stat(name)
	if err != nil {
		c.respondError(404, "Not Found!")
		return analysisError
	}
	header += "Content-Type: " + filetype + "\r\n"
	header += "Content-Length: " + strconv.FormatInt(size, 10) + "\r\n"
	header += "Server: " + serverName + "\r\n"
	header += "\r\n"
	c.outBuf.Write([]byte(header))

	if c.req.method == methodHead {
		return analysisSuccess
	}

	data, err := c.fs.ReadAll(name)
	if err != nil {
		c.outBuf.Reset()
		c.respondError(404, "Not Found!")
		return analysisError
	}
	c.outBuf.Write(data)
	return analysisSuccess
}
