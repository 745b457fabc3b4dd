package h1

import (
	"strconv"
	"strings"

	"github.com/quillhttp/engine/pkg/message"
)

// EncodeRequest renders msg as a raw HTTP/1.1 request: request-line,
// headers (Host derived from Authority, Content-Length derived from
// Body length when not already present), then the body.
func EncodeRequest(msg *message.Message) []byte {
	var b strings.Builder
	b.WriteString(msg.Method)
	b.WriteByte(' ')
	b.WriteString(msg.Path)
	b.WriteString(" HTTP/1.1\r\n")

	if _, ok := msg.HeaderValue("Host"); !ok && msg.Authority != "" {
		b.WriteString("Host: ")
		b.WriteString(msg.Authority)
		b.WriteString("\r\n")
	}
	writeHeaders(&b, msg)
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(msg.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, msg.Body...)
	return out
}

// EncodeResponse renders msg as a raw HTTP/1.1 response: status-line,
// headers, then the body.
func EncodeResponse(msg *message.Message) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(msg.Status))
	b.WriteString(" ")
	b.WriteString(reasonPhrase(msg.Status))
	b.WriteString("\r\n")
	writeHeaders(&b, msg)
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(msg.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, msg.Body...)
	return out
}

func writeHeaders(b *strings.Builder, msg *message.Message) {
	hasContentLength := false
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			hasContentLength = true
		}
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	if !hasContentLength {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(msg.Body)))
		b.WriteString("\r\n")
	}
}

func reasonPhrase(status int) string {
	switch status {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
