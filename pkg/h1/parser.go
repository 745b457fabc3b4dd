// Package h1 implements the incremental, chunk-agnostic HTTP/1.1
// parser: request-line or status-line, headers, and a Content-Length
// bounded body. Chunked transfer and folded headers are explicitly
// unsupported — Feed returns a parse error for both.
package h1

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/rbuf"
)

// Role selects request-line vs status-line parsing for the first line.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Parser holds per-session incremental parse state. It is restartable
// across arbitrary chunk boundaries: Feed may be called with any split
// of the underlying byte stream and yields the same completed messages.
type Parser struct {
	role Role
	tls  bool

	buf rbuf.RecvBuffer

	lineIdx       int
	headerDone    bool
	contentLength int

	msg *message.Message
}

// NewParser returns a parser for one session direction. isTLS controls
// the scheme assigned to parsed request messages.
func NewParser(role Role, isTLS bool) *Parser {
	return &Parser{role: role, tls: isTLS}
}

// Feed appends chunk to the internal buffer and parses as many
// complete messages as the buffered bytes allow. A non-nil error is a
// parse failure (BY_HTTP_ERR) and the parser must not be fed again.
func (p *Parser) Feed(chunk []byte) ([]*message.Message, error) {
	p.buf.Feed(chunk)

	var out []*message.Message
	for {
		if p.msg == nil {
			p.msg = message.New()
			p.lineIdx = 0
			p.headerDone = false
			p.contentLength = 0
		}

		if !p.headerDone {
			line, ok := p.nextLine()
			if !ok {
				break
			}
			if err := p.consumeLine(line); err != nil {
				return out, err
			}
			continue
		}

		if p.contentLength > len(p.msg.Body) {
			need := p.contentLength - len(p.msg.Body)
			avail := p.buf.Unread()
			if len(avail) < need {
				break
			}
			p.msg.Body = append(p.msg.Body, avail[:need]...)
			p.buf.Advance(need)
		}

		out = append(out, p.msg)
		p.msg = nil
		p.buf.ReclaimIfDrained()
	}
	return out, nil
}

// nextLine scans the unread region for a line terminator (CRLF or
// bare LF), returning the line with the terminator stripped and
// advancing past it. ok is false when no terminator is buffered yet.
func (p *Parser) nextLine() (string, bool) {
	unread := p.buf.Unread()
	nl := indexByte(unread, '\n')
	if nl < 0 {
		return "", false
	}
	end := nl
	if end > 0 && unread[end-1] == '\r' {
		end--
	}
	line := string(unread[:end])
	p.buf.Advance(nl + 1)
	return line, true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (p *Parser) consumeLine(line string) error {
	if p.lineIdx == 0 {
		p.lineIdx++
		return p.consumeFirstLine(line)
	}
	p.lineIdx++
	if line == "" {
		p.headerDone = true
		return nil
	}
	return p.consumeHeaderLine(line)
}

func (p *Parser) consumeFirstLine(line string) error {
	if p.role == RoleServer {
		method, path, err := parseRequestLine(line)
		if err != nil {
			return err
		}
		p.msg.Method = method
		p.msg.Path = path
		if p.tls {
			p.msg.Scheme = "https"
		} else {
			p.msg.Scheme = "http"
		}
		p.msg.Authority = "http"
		return nil
	}

	status, err := parseStatusLine(line)
	if err != nil {
		return err
	}
	p.msg.Status = status
	return nil
}

const httpVersionSuffix = "HTTP/1.1"

func parseRequestLine(line string) (method, path string, err error) {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasSuffix(trimmed, httpVersionSuffix) {
		return "", "", fmt.Errorf("h1: request line missing HTTP/1.1 version: %q", line)
	}
	before := trimmed[:len(trimmed)-len(httpVersionSuffix)]
	if before == "" || !isSpace(before[len(before)-1]) {
		return "", "", fmt.Errorf("h1: request line missing whitespace before version: %q", line)
	}
	before = strings.TrimRight(before, " \t")

	i := strings.IndexAny(before, " \t")
	if i < 0 {
		return "", "", fmt.Errorf("h1: request line missing path: %q", line)
	}
	method = before[:i]
	path = strings.TrimLeft(before[i+1:], " \t")
	if method == "" || path == "" {
		return "", "", fmt.Errorf("h1: malformed request line: %q", line)
	}
	return method, path, nil
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("h1: malformed status line: %q", line)
	}
	code := fields[1]
	if len(code) != 3 {
		return 0, fmt.Errorf("h1: status code must be 3 digits: %q", line)
	}
	if code[0] < '1' || code[0] > '5' {
		return 0, fmt.Errorf("h1: status code first digit out of range: %q", line)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("h1: status code not numeric: %q", line)
		}
	}
	return int(code[0]-'0')*100 + int(code[1]-'0')*10 + int(code[2]-'0'), nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func (p *Parser) consumeHeaderLine(line string) error {
	if isSpace(line[0]) {
		return fmt.Errorf("h1: folded header lines are not supported: %q", line)
	}
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return fmt.Errorf("h1: malformed header line: %q", line)
	}
	name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:i]))
	value := strings.TrimSpace(line[i+1:])

	switch name {
	case "Host":
		if p.role == RoleServer {
			p.msg.Authority = value
			return nil
		}
	case "Content-Length":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("h1: invalid Content-Length: %q", value)
		}
		p.contentLength = n
		return nil
	case "Transfer-Encoding":
		if strings.EqualFold(value, "chunked") {
			return fmt.Errorf("h1: chunked transfer encoding is not supported")
		}
	}
	p.msg.AddHeader(name, value)
	return nil
}
