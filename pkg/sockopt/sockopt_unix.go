//go:build unix

// Package sockopt sets socket options the stdlib net package doesn't
// expose directly, via the raw file descriptor reached through
// SyscallConn — close-on-exec and explicit SO_REUSEADDR confirmation
// for listening sockets.
package sockopt

import (
	"net"

	"golang.org/x/sys/unix"
)

// ConfigureListener sets SO_REUSEADDR and close-on-exec on a freshly
// bound listening socket. net.Listen already sets both on every
// platform Go supports; this makes the guarantee explicit and
// observable rather than relying on the stdlib default.
func ConfigureListener(ln net.Listener) error {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil
	}
	sc, err := tl.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		unix.CloseOnExec(int(fd))
	})
	if err != nil {
		return err
	}
	return sockErr
}

// ConfigureConn enables TCP_NODELAY and close-on-exec on an accepted
// or dialed connection.
func ConfigureConn(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	sc, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var ctlErr error
	err = sc.Control(func(fd uintptr) {
		unix.CloseOnExec(int(fd))
	})
	if err != nil {
		return err
	}
	return ctlErr
}
