// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// Package socket holds the raw-fd plumbing: the listening socket, accepted
// socket options, the eventfd wakeup handle and sockaddr formatting.
package socket

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// TCPListen creates the IPv4 listening socket: SO_REUSEADDR, bound to
// INADDR_ANY:port, the given backlog, non-blocking. Returns the raw fd.
func TCPListen(port, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// SetNoDelay disables Nagle on an accepted socket.
func SetNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// Eventfd allocates the cross-thread wakeup handle, non-blocking and
// close-on-exec.
func Eventfd() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

// LocalPort reports the port a socket is bound to, for port-0 listens.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, unix.EINVAL
}

// SockaddrString formats an accepted peer address for logging.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := strconv.Itoa(int(a.Addr[0])) + "." + strconv.Itoa(int(a.Addr[1])) + "." +
			strconv.Itoa(int(a.Addr[2])) + "." + strconv.Itoa(int(a.Addr[3]))
		return ip + ":" + strconv.Itoa(a.Port)
	case *unix.SockaddrInet6:
		return "[ipv6]:" + strconv.Itoa(a.Port)
	}
	return "unknown"
}
