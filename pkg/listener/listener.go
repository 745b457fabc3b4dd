// Package listener implements the server-side accept endpoint that
// resolves an authority, binds a listening socket, and turns accepted
// connections into Sessions after optional TLS/ALPN negotiation.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/rawerr"
	"github.com/quillhttp/engine/pkg/session"
	"github.com/quillhttp/engine/pkg/sockopt"
	"github.com/quillhttp/engine/pkg/tlsopts"
)

// backlog records a listen backlog of 1024. Listen does not apply it:
// the bound socket gets the backlog the Go runtime chooses.
const backlog = 1024

// AcceptResult is what an AcceptCallback returns for a freshly accepted
// connection: the per-session TLS configuration (nil for cleartext)
// and the request/free callbacks to wire onto the new Session.
type AcceptResult struct {
	TLS *tlsopts.Config
	Mandatory bool // ALPN must select h2, else the session fails
	OnRequest func(s *session.Session, st *session.Stream, req *message.Message) int
	OnFree func(s *session.Session)
}

// AcceptCallback is invoked once per accepted connection, before any
// bytes are read, to obtain the session's configuration.
type AcceptCallback func(host string, port int) (AcceptResult, error)

// Listener owns one bound socket and produces Sessions via Accept.
type Listener struct {
	Authority string
	ln net.Listener
	accept AcceptCallback
}

// Listen resolves authority (host:port, or [ipv6]:port) and binds a
// TCP listener through net.ListenConfig, which sets its own backlog.
func Listen(authority string, accept AcceptCallback) (*Listener, error) {
	host, port, err := splitAuthority(authority)
	if err != nil {
		return nil, rawerr.NewValidationError(fmt.Sprintf("bad authority %q: %v", authority, err))
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, rawerr.NewConnectionError(authority, "server", err)
	}
	if err := sockopt.ConfigureListener(ln); err != nil {
		ln.Close()
		return nil, rawerr.NewConnectionError(authority, "server", err)
	}
	return &Listener{Authority: authority, ln: ln, accept: accept}, nil
}

func splitAuthority(authority string) (host, port string, err error) {
	return net.SplitHostPort(authority)
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Accept blocks for the next inbound connection, resolves its
// per-session configuration via the accept callback, performs TLS/
// ALPN negotiation if configured, and returns the resulting Session.
// Accept errors are the caller's concern to log and continue — a
// failed accept never stops the listener.
func (l *Listener) Accept(cb session.Callbacks) (*session.Session, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if err := sockopt.ConfigureConn(conn); err != nil {
		conn.Close()
		return nil, err
	}

	remote := conn.RemoteAddr().String()
	host, portStr, _ := net.SplitHostPort(remote)
	port := atoiOrZero(portStr)

	res, err := l.accept(host, port)
	if err != nil {
		conn.Close()
		return nil, err
	}

	proto := session.ProtoH1
	netConn := conn

	if res.TLS != nil {
		tlsCfg, err := res.TLS.ServerTLSConfig()
		if err != nil {
			conn.Close()
			return nil, err
		}
		tlsConn := tls.Server(conn, tlsCfg)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, rawerr.NewTLSError(remote, "server", err)
		}
		negotiated := tlsConn.ConnectionState().NegotiatedProtocol
		switch {
		case negotiated == "h2":
			proto = session.ProtoH2
		case res.Mandatory:
			tlsConn.Close()
			return nil, rawerr.NewTLSError(remote, "server", fmt.Errorf("ALPN negotiated %q, h2 mandatory", negotiated))
		default:
			proto = session.ProtoH1
		}
		netConn = tlsConn
	}

	callbacks := cb
	if res.OnRequest != nil {
		callbacks.OnRequest = res.OnRequest
	}
	if res.OnFree != nil {
		base := callbacks.SessionFree
		callbacks.SessionFree = func(s *session.Session) {
			if base != nil {
				base(s)
			}
			res.OnFree(s)
		}
	}

	s := session.NewServer(netConn, proto, callbacks)
	if proto == session.ProtoH2 {
		// Initial SETTINGS are submitted immediately after handshake.
		s.SubmitInitialSettings(nil)
	}
	return s, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the bound socket address, useful when Authority was
// given with an ephemeral port ("host:0").
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// IsBracketedIPv6 reports whether host looks like a bracketed IPv6
// literal. Listen does not call it; its authority parsing goes through
// net.SplitHostPort.
func IsBracketedIPv6(host string) bool {
	return strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]")
}
