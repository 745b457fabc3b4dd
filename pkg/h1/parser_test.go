package h1

import (
	"bytes"
	"testing"
)

func TestParserServerGETRoundTrip(t *testing.T) {
	p := NewParser(RoleServer, false)
	raw := "GET /a HTTP/1.1\r\nHost: h:80\r\n\r\n"

	msgs, err := p.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Method != "GET" || m.Path != "/a" {
		t.Fatalf("expected GET /a, got %s %s", m.Method, m.Path)
	}
	if m.Authority != "h:80" {
		t.Fatalf("expected authority h:80, got %s", m.Authority)
	}
	if m.Scheme != "http" {
		t.Fatalf("expected http scheme, got %s", m.Scheme)
	}
}

func TestParserServerPOSTWithBody(t *testing.T) {
	p := NewParser(RoleServer, false)
	raw := "POST /x HTTP/1.1\r\nHost: h:80\r\nContent-Length: 5\r\n\r\nhello"

	msgs, err := p.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Method != "POST" || m.Path != "/x" {
		t.Fatalf("expected POST /x, got %s %s", m.Method, m.Path)
	}
	if string(m.Body) != "hello" {
		t.Fatalf("expected body hello, got %q", m.Body)
	}
}

func TestParserClientStatusLine(t *testing.T) {
	p := NewParser(RoleClient, false)
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"

	msgs, err := p.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != 200 {
		t.Fatalf("expected status 200, got %+v", msgs)
	}
	if string(msgs[0].Body) != "OK" {
		t.Fatalf("expected body OK, got %q", msgs[0].Body)
	}
}

// TestParserIsChunkAgnostic is spec property #3: for any partition of
// a valid message into byte chunks, feeding them in order yields
// exactly one message-complete event equal to parsing the message
// whole.
func TestParserIsChunkAgnostic(t *testing.T) {
	raw := []byte("POST /upload HTTP/1.1\r\nHost: example:443\r\nContent-Length: 11\r\n\r\nhello world")

	whole := NewParser(RoleServer, true)
	wholeMsgs, err := whole.Feed(raw)
	if err != nil {
		t.Fatalf("whole parse failed: %v", err)
	}
	if len(wholeMsgs) != 1 {
		t.Fatalf("expected one message parsing whole, got %d", len(wholeMsgs))
	}

	splits := [][]int{
		{1},
		{5, 1, 1},
		{len(raw) - 1},
		{3, 3, 3, 3, 3},
	}

	for _, sizes := range splits {
		p := NewParser(RoleServer, true)
		var got []byte
		offset := 0
		var collected int
		for _, n := range sizes {
			if offset+n > len(raw) {
				n = len(raw) - offset
			}
			chunk := raw[offset : offset+n]
			offset += n
			msgs, err := p.Feed(chunk)
			if err != nil {
				t.Fatalf("chunked parse failed at offset %d: %v", offset, err)
			}
			collected += len(msgs)
			for _, m := range msgs {
				got = append(got, []byte(m.Method+" "+m.Path+" "+string(m.Body))...)
			}
		}
		if offset < len(raw) {
			msgs, err := p.Feed(raw[offset:])
			if err != nil {
				t.Fatalf("final chunk parse failed: %v", err)
			}
			collected += len(msgs)
			for _, m := range msgs {
				got = append(got, []byte(m.Method+" "+m.Path+" "+string(m.Body))...)
			}
		}

		if collected != 1 {
			t.Fatalf("split %v: expected exactly one message-complete event, got %d", sizes, collected)
		}
		want := []byte(wholeMsgs[0].Method + " " + wholeMsgs[0].Path + " " + string(wholeMsgs[0].Body))
		if !bytes.Equal(got, want) {
			t.Fatalf("split %v: got %q want %q", sizes, got, want)
		}
	}
}

func TestParserRejectsChunkedEncoding(t *testing.T) {
	p := NewParser(RoleServer, false)
	raw := "POST /x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n"
	if _, err := p.Feed([]byte(raw)); err == nil {
		t.Fatal("expected chunked Transfer-Encoding to be rejected")
	}
}

func TestParserRejectsMissingVersion(t *testing.T) {
	p := NewParser(RoleServer, false)
	if _, err := p.Feed([]byte("GET /a HTTP/1.0\r\n\r\n")); err == nil {
		t.Fatal("expected non-1.1 request line to be rejected")
	}
}
