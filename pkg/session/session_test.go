package session

import (
	"net"
	"strconv"
	"testing"

	"github.com/quillhttp/engine/pkg/message"
)

func TestTerminateIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewServer(server, ProtoH1, Callbacks{})

	first := s.Terminate(false)
	if first != "immediate" {
		t.Fatalf("expected first terminate to report immediate, got %q", first)
	}

	second := s.Terminate(false)
	if second != "already" {
		t.Fatalf("expected second terminate to report already, got %q", second)
	}
	if s.ReqCnt != 0 || s.RspCnt != 0 {
		t.Fatal("idempotent terminate must not have side effects on counters")
	}
}

// TestServerH1RequestResponseRoundTrip drives spec scenario S1: a
// client writes a GET request, the server Session parses it, the
// handler attaches a response, and Send flushes it back over the pipe.
func TestServerH1RequestResponseRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var gotMethod, gotPath string
	s := NewServer(server, ProtoH1, Callbacks{
		OnRequest: func(s *Session, st *Stream, req *message.Message) int {
			gotMethod, gotPath = req.Method, req.Path
			resp := message.New()
			resp.Status = 200
			resp.Body = []byte("OK")
			resp.AddHeader("Content-Length", strconv.Itoa(len(resp.Body)))
			s.SendResponse(st, resp)
			return 0
		},
	})

	clientErrs := make(chan error, 1)
	go func() {
		_, err := client.Write([]byte("GET /a HTTP/1.1\r\nHost: h:80\r\n\r\n"))
		clientErrs <- err
	}()

	if !s.Receive() {
		t.Fatalf("Receive failed: %v", s.CloseReason)
	}
	if err := <-clientErrs; err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	if gotMethod != "GET" || gotPath != "/a" {
		t.Fatalf("expected GET /a, got %s %s", gotMethod, gotPath)
	}
	if !s.SendPending {
		t.Fatal("send_pending must be set once a response is staged")
	}

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4096)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	if !s.Send() {
		t.Fatalf("Send failed: %v", s.CloseReason)
	}

	got := <-readDone
	want := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"
	if string(got) != want {
		t.Fatalf("expected response %q, got %q", want, string(got))
	}
}

func TestSessionWantsReadWriteInterest(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()

	s := NewServer(server, ProtoH1, Callbacks{})
	if !s.WantsRead() {
		t.Fatal("open H1 session should want read")
	}
	if s.WantsWrite() {
		t.Fatal("session with nothing staged should not want write")
	}

	s.SendPending = true
	if !s.WantsWrite() {
		t.Fatal("session with send_pending set should want write")
	}
}
