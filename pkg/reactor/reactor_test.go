package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/quillhttp/engine/pkg/listener"
	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/session"
)

// TestContextDrivesServerRoundTrip exercises spec scenario S1 end to
// end through the real readiness loop: a Listener accepts a plain TCP
// connection, the Context's reader goroutine feeds bytes to the
// Session, the request handler stages a response, and the Context's
// send phase flushes it back to a real client socket.
func TestContextDrivesServerRoundTrip(t *testing.T) {
	ln, err := listener.Listen("127.0.0.1:0", func(host string, port int) (listener.AcceptResult, error) {
		return listener.AcceptResult{}, nil
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx := New()
	ctx.AddListener(ln, session.Callbacks{
		OnRequest: func(s *session.Session, st *session.Stream, req *message.Message) int {
			resp := message.New()
			resp.Status = 200
			resp.Body = []byte("hi")
			resp.AddHeader("Content-Length", "2")
			s.SendResponse(st, resp)
			return 0
		},
	})

	go ctx.Run()
	defer ctx.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /x HTTP/1.1\r\nHost: h:80\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	if got := string(buf[:n]); got != want {
		t.Fatalf("expected response %q, got %q", want, got)
	}
}
