package session

import "github.com/quillhttp/engine/pkg/message"

// Stream represents one request/response exchange on a Session.
// Streams are linked on their owning Session in FIFO order — H1
// servers construct the tail stream from inbound bytes and drain the
// head stream's response first; H1 clients attach inbound bytes to
// the head stream and send from sendFrom forward.
type Stream struct {
	ID uint32

	Request  *message.Message
	Response *message.Message

	// h1Out is the pre-rendered raw HTTP/1.1 bytes (status-line or
	// request-line, headers, body) still owed to the wire. Only used
	// on H1 sessions — H2 sessions push bytes through the codec's own
	// outbound buffer instead. sendCursor indexes into it.
	h1Out      []byte
	h1Ready    bool
	sendCursor int

	UserData interface{}
	FreeFunc func(interface{})

	next *Stream
}

// pendingSend reports the unsent suffix of the rendered H1 bytes.
func (st *Stream) pendingSend() []byte {
	if !st.h1Ready || st.sendCursor >= len(st.h1Out) {
		return nil
	}
	return st.h1Out[st.sendCursor:]
}

// sendDone reports whether the rendered H1 bytes have been fully
// written — i.e. there is nothing left for this stream to contribute
// to the send path.
func (st *Stream) sendDone() bool {
	if !st.h1Ready {
		return false
	}
	return st.sendCursor >= len(st.h1Out)
}

func (st *Stream) free() {
	if st.FreeFunc != nil {
		st.FreeFunc(st.UserData)
	}
}
