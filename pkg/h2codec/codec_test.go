package h2codec

import (
	"testing"

	"golang.org/x/net/http2"

	"github.com/quillhttp/engine/pkg/message"
)

// TestRequestRoundTripWithBody drives a request with a body through one
// Codec's send path and a second Codec's receive path, the way a client
// and server session talk across a real socket.
func TestRequestRoundTripWithBody(t *testing.T) {
	client := New(false, Callbacks{})

	var gotHeaders *message.Message
	var gotHeadersEnd bool
	var gotData []byte
	var gotDataEnd bool

	server := New(true, Callbacks{
		OnHeaders: func(streamID uint32, msg *message.Message, endStream bool) {
			gotHeaders = msg
			gotHeadersEnd = endStream
		},
		OnData: func(streamID uint32, data []byte, endStream bool) {
			gotData = append(gotData, data...)
			gotDataEnd = endStream
		},
	})

	req := message.New()
	req.Method = "POST"
	req.Scheme = "https"
	req.Authority = "example.test"
	req.Path = "/submit"
	req.AddHeader("x-trace", "abc")
	req.Body = []byte("payload")

	id, err := client.SubmitRequest(req, true)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}

	span := client.MemSend()
	if len(span) == 0 {
		t.Fatal("expected bytes staged after SubmitRequest")
	}

	if _, err := server.MemRecv(span); err != nil {
		t.Fatalf("server mem_recv: %v", err)
	}
	client.Advance(len(span))

	if gotHeaders == nil {
		t.Fatal("expected OnHeaders to fire")
	}
	if gotHeaders.Method != "POST" || gotHeaders.Scheme != "https" || gotHeaders.Authority != "example.test" || gotHeaders.Path != "/submit" {
		t.Fatalf("unexpected pseudo-headers: %+v", gotHeaders)
	}
	if v, ok := gotHeaders.HeaderValue("x-trace"); !ok || v != "abc" {
		t.Fatalf("expected x-trace header to survive round trip, got %q ok=%v", v, ok)
	}
	if gotHeadersEnd {
		t.Fatal("headers should not be marked end_stream when a body follows")
	}
	if string(gotData) != "payload" {
		t.Fatalf("expected body %q, got %q", "payload", gotData)
	}
	if !gotDataEnd {
		t.Fatal("expected the DATA frame to be marked end_stream")
	}
	if id != 1 {
		t.Fatalf("expected first client stream id 1, got %d", id)
	}
}

// TestSettingsAckRoundTrip exercises submit_settings / wants_write and
// the SETTINGS ACK callback.
func TestSettingsAckRoundTrip(t *testing.T) {
	var acked bool
	a := New(true, Callbacks{})
	b := New(false, Callbacks{OnSettingsAck: func() { acked = true }})

	if err := a.SubmitSettings(nil); err != nil {
		t.Fatalf("submit settings: %v", err)
	}
	if !a.WantsWrite() {
		t.Fatal("expected wants_write once SETTINGS is staged")
	}

	span := a.MemSend()
	if _, err := b.MemRecv(span); err != nil {
		t.Fatalf("b mem_recv settings: %v", err)
	}
	a.Advance(len(span))
	if a.WantsWrite() {
		t.Fatal("expected wants_write false once the staged SETTINGS is fully advanced")
	}

	// b must have queued a SETTINGS ack in response.
	ackSpan := b.MemSend()
	if len(ackSpan) == 0 {
		t.Fatal("expected b to stage a SETTINGS ack")
	}
	if _, err := a.MemRecv(ackSpan); err != nil {
		t.Fatalf("a mem_recv ack: %v", err)
	}
	if !acked {
		t.Fatal("expected OnSettingsAck to fire on the original sender")
	}
}

// TestTerminateSendsGoAwayOnce checks the codec-level terminate
// idempotence the Session relies on.
func TestTerminateSendsGoAwayOnce(t *testing.T) {
	c := New(true, Callbacks{})
	if err := c.Terminate(http2.ErrCodeNo); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	n := c.out.Len()
	if n == 0 {
		t.Fatal("expected GOAWAY bytes staged")
	}
	if err := c.Terminate(http2.ErrCodeNo); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if c.out.Len() != n {
		t.Fatal("second terminate must not enqueue another GOAWAY")
	}
	if c.WantsRead() {
		t.Fatal("expected wants_read false once closing")
	}
}
