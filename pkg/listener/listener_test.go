package listener

import (
	"net"
	"testing"

	"github.com/quillhttp/engine/pkg/session"
)

// TestListenAndAcceptCleartext exercises the plain HTTP/1.1 accept
// path: Listen binds an ephemeral port, a real client dials in, and
// Accept returns a Session whose WantsRead is true and whose protocol
// defaults to H1 absent any TLS configuration.
func TestListenAndAcceptCleartext(t *testing.T) {
	var sawHost string
	var sawPort int
	ln, err := Listen("127.0.0.1:0", func(host string, port int) (AcceptResult, error) {
		sawHost, sawPort = host, port
		return AcceptResult{}, nil
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	dialErrs := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer conn.Close()
		}
		dialErrs <- err
	}()

	s, err := ln.Accept(session.Callbacks{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer s.Conn.Close()

	if err := <-dialErrs; err != nil {
		t.Fatalf("dial: %v", err)
	}

	if sawHost != "127.0.0.1" {
		t.Fatalf("expected accept callback host 127.0.0.1, got %q", sawHost)
	}
	if sawPort == 0 {
		t.Fatal("expected a non-zero remote port reported to the accept callback")
	}
	if s.Proto != session.ProtoH1 {
		t.Fatalf("expected cleartext accept to default to H1, got %v", s.Proto)
	}
	if !s.WantsRead() {
		t.Fatal("freshly accepted session should want read")
	}
}

// TestIsBracketedIPv6 checks the bracketed-IPv6-literal helper.
func TestIsBracketedIPv6(t *testing.T) {
	cases := map[string]bool{
		"[::1]":     true,
		"127.0.0.1": false,
		"[fe80::1":  false,
	}
	for in, want := range cases {
		if got := IsBracketedIPv6(in); got != want {
			t.Fatalf("IsBracketedIPv6(%q) = %v, want %v", in, got, want)
		}
	}
}
