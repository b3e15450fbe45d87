// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/linya/webserver/internal/logging"
	"github.com/linya/webserver/internal/socket"
)

var sigpipeOnce sync.Once

// Server wires the main reactor, the worker group and the acceptor around
// one listening socket.
type Server struct {
	opts *Options
	lnfd int

	mu      sync.Mutex
	main    *Reactor
	group   *reactorGroup
	stopped atomic.Bool
}

// NewServer binds the listening socket immediately; Serve starts accepting.
func NewServer(options ...Option) (*Server, error) {
	opts := initOptions(options...)
	if opts.FileSource == nil {
		opts.FileSource = MmapFileSource{}
	}
	// Writes to a half-closed peer must error out, not kill the process.
	sigpipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
	lnfd, err := socket.TCPListen(opts.Port, opts.Backlog)
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, lnfd: lnfd}, nil
}

// Port reports the bound port, which differs from Options.Port when 0 was
// requested.
func (srv *Server) Port() (int, error) {
	return socket.LocalPort(srv.lnfd)
}

// Serve runs the main reactor on the calling goroutine, pinned to its OS
// thread, until Stop or a handled signal quits the loops.
func (srv *Server) Serve() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	main, err := NewReactor()
	if err != nil {
		unix.Close(srv.lnfd)
		return err
	}
	group := newReactorGroup(main)
	if err = group.start(srv.opts.NumLoops); err != nil {
		return multierr.Combine(err, main.Close(), unix.Close(srv.lnfd))
	}
	srv.mu.Lock()
	srv.main = main
	srv.group = group
	srv.mu.Unlock()

	acc := newAcceptor(srv.opts, main, group, srv.lnfd)
	main.Add(acc.ch, 0)
	if srv.opts.HandleSignals {
		go srv.signalHandler()
	}
	logging.Infof("server started on port %d (loops: %d)", srv.opts.Port, srv.opts.NumLoops)

	main.Run()

	err = multierr.Append(main.Close(), unix.Close(srv.lnfd))
	logging.Sync()
	return err
}

// Stop quits every reactor; safe from any thread and idempotent.
func (srv *Server) Stop() {
	if !srv.stopped.CAS(false, true) {
		return
	}
	srv.mu.Lock()
	group, main := srv.group, srv.main
	srv.mu.Unlock()
	if group != nil {
		group.quitAll()
	}
	if main != nil {
		main.Quit()
	}
}

func (srv *Server) signalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	logging.Infof("signal: %v, stopping", sig)
	srv.Stop()
}
