// Package h2codec is the thin bridge between the engine's Session and
// the external, black-box HTTP/2 frame codec (golang.org/x/net/http2's
// Framer plus hpack). It exposes the same operation surface the rest
// of the engine is written against: submit_settings, mem_send,
// mem_recv, wants_read, wants_write, terminate.
package h2codec

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/quillhttp/engine/pkg/message"
)

// frameHeaderLen is the fixed HTTP/2 frame header size (length(3) +
// type(1) + flags(1) + stream-id(4)).
const frameHeaderLen = 9

// Callbacks translate codec events into message-level events, mirroring
// the H1 parser's request/response completion signal.
type Callbacks struct {
	// OnHeaders fires once a HEADERS block (plus any CONTINUATIONs) is
	// fully reassembled for a stream. endStream is true when no DATA
	// frames will follow.
	OnHeaders func(streamID uint32, msg *message.Message, endStream bool)
	// OnData fires for each DATA frame payload.
	OnData func(streamID uint32, data []byte, endStream bool)
	// OnStreamClosed fires when RST_STREAM is received, with the
	// frame's error code. A clean end of stream is reported only
	// through the endStream flag of OnHeaders/OnData.
	OnStreamClosed func(streamID uint32, errCode http2.ErrCode)
	// OnSettingsAck fires when the peer acknowledges our SETTINGS.
	OnSettingsAck func()
	// OnGoAway fires when the peer sends GOAWAY.
	OnGoAway func(lastStreamID uint32, errCode http2.ErrCode)
}

// Codec drives one Session's HTTP/2 frame traffic. It is not safe for
// concurrent use — the owning Session serializes all access from the
// single readiness-loop goroutine.
type Codec struct {
	isServer bool

	out    bytes.Buffer // accumulated, not-yet-sent serialized frames
	sent   int          // prefix of out.Bytes() already handed to the transport
	framer *http2.Framer

	hencBuf bytes.Buffer
	henc    *hpack.Encoder
	hdec    *hpack.Decoder

	recv bytes.Buffer // accumulated, not-yet-parsed inbound bytes

	nextStreamID uint32 // next id this side will allocate (odd=client, even=server push)
	streams      map[uint32]*streamAssembly

	wantsSettingsAck bool
	closing          bool
	goAwaySent       bool

	cb Callbacks
}

type streamAssembly struct {
	headerBlock bytes.Buffer
	msg         *message.Message
	endStream   bool
}

// New constructs a Codec for one session. isServer controls stream-id
// parity for locally-initiated streams (servers allocate even ids for
// pushes only; this engine does not initiate server push).
func New(isServer bool, cb Callbacks) *Codec {
	c := &Codec{
		isServer: isServer,
		streams:  make(map[uint32]*streamAssembly),
		cb:       cb,
	}
	if isServer {
		c.nextStreamID = 2
	} else {
		c.nextStreamID = 1
	}
	c.framer = http2.NewFramer(&c.out, nil)
	c.henc = hpack.NewEncoder(&c.hencBuf)
	c.hdec = hpack.NewDecoder(4096, nil)
	return c
}

// AllocateStreamID returns the next locally-initiated stream id and
// advances the counter by two, preserving odd/even parity.
func (c *Codec) AllocateStreamID() uint32 {
	id := c.nextStreamID
	c.nextStreamID += 2
	return id
}

// SubmitSettings enqueues a SETTINGS frame. A nil or empty slice
// submits an empty SETTINGS frame, as happens immediately after the
// handshake.
func (c *Codec) SubmitSettings(settings []http2.Setting) error {
	c.wantsSettingsAck = true
	return c.framer.WriteSettings(settings...)
}

// SubmitRequest HPACK-encodes msg's pseudo-headers and ordinary headers
// and writes a HEADERS frame (plus a DATA frame if msg.Body is set),
// returning the stream id used.
func (c *Codec) SubmitRequest(msg *message.Message, endStream bool) (uint32, error) {
	id := c.AllocateStreamID()
	if err := c.writeHeaders(id, requestPseudoHeaders(msg), msg.Headers, endStream && len(msg.Body) == 0); err != nil {
		return 0, err
	}
	if len(msg.Body) > 0 {
		if err := c.framer.WriteData(id, endStream, msg.Body); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// SubmitResponse HPACK-encodes msg and writes HEADERS/DATA for an
// existing stream id (the one the request arrived on).
func (c *Codec) SubmitResponse(id uint32, msg *message.Message, endStream bool) error {
	if err := c.writeHeaders(id, responsePseudoHeaders(msg), msg.Headers, endStream && len(msg.Body) == 0); err != nil {
		return err
	}
	if len(msg.Body) > 0 {
		if err := c.framer.WriteData(id, endStream, msg.Body); err != nil {
			return err
		}
	}
	return nil
}

func requestPseudoHeaders(msg *message.Message) []hpack.HeaderField {
	return []hpack.HeaderField{
		{Name: ":method", Value: msg.Method},
		{Name: ":scheme", Value: msg.Scheme},
		{Name: ":authority", Value: msg.Authority},
		{Name: ":path", Value: msg.Path},
	}
}

func responsePseudoHeaders(msg *message.Message) []hpack.HeaderField {
	return []hpack.HeaderField{
		{Name: ":status", Value: fmt.Sprintf("%d", msg.Status)},
	}
}

func (c *Codec) writeHeaders(id uint32, pseudo []hpack.HeaderField, hdrs []message.Header, endStream bool) error {
	c.hencBuf.Reset()
	for _, h := range pseudo {
		if err := c.henc.WriteField(h); err != nil {
			return err
		}
	}
	for _, h := range hdrs {
		if err := c.henc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			return err
		}
	}
	block := c.hencBuf.Bytes()
	return c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     endStream,
	})
}

// MemSend yields the next unsent byte span. An empty slice means
// nothing is pending. The returned slice is only valid until Advance
// is called with its full length or the next codec write.
func (c *Codec) MemSend() []byte {
	return c.out.Bytes()[c.sent:]
}

// Advance records that n bytes of the MemSend span were written to
// the transport. Once every byte has been consumed the backing buffer
// is reset so it does not grow without bound.
func (c *Codec) Advance(n int) {
	c.sent += n
	if c.sent >= c.out.Len() {
		c.out.Reset()
		c.sent = 0
	}
}

// MemRecv delivers inbound bytes, parsing and dispatching as many
// complete frames as are buffered. It returns the number of bytes
// consumed (always len(data) — undecodable trailing bytes stay
// buffered until more arrive) and a non-nil error on protocol failure.
func (c *Codec) MemRecv(data []byte) (int, error) {
	c.recv.Write(data)
	for {
		buf := c.recv.Bytes()
		if len(buf) < frameHeaderLen {
			break
		}
		length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
		total := frameHeaderLen + length
		if len(buf) < total {
			break
		}

		frameBytes := make([]byte, total)
		copy(frameBytes, buf[:total])
		fr := http2.NewFramer(nil, bytes.NewReader(frameBytes))
		f, err := fr.ReadFrame()
		if err != nil {
			return len(data), fmt.Errorf("h2codec: reading frame: %w", err)
		}
		if err := c.dispatch(f); err != nil {
			return len(data), err
		}

		remaining := make([]byte, len(buf)-total)
		copy(remaining, buf[total:])
		c.recv.Reset()
		c.recv.Write(remaining)
	}
	return len(data), nil
}

func (c *Codec) dispatch(f http2.Frame) error {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if fr.IsAck() {
			c.wantsSettingsAck = false
			if c.cb.OnSettingsAck != nil {
				c.cb.OnSettingsAck()
			}
			return nil
		}
		return c.framer.WriteSettingsAck()
	case *http2.HeadersFrame:
		return c.onHeadersFrame(fr)
	case *http2.ContinuationFrame:
		return c.onContinuationFrame(fr)
	case *http2.DataFrame:
		if c.cb.OnData != nil {
			c.cb.OnData(fr.StreamID, fr.Data(), fr.StreamEnded())
		}
		if fr.StreamEnded() {
			delete(c.streams, fr.StreamID)
		}
		return nil
	case *http2.RSTStreamFrame:
		if c.cb.OnStreamClosed != nil {
			c.cb.OnStreamClosed(fr.StreamID, fr.ErrCode)
		}
		delete(c.streams, fr.StreamID)
		return nil
	case *http2.GoAwayFrame:
		c.closing = true
		if c.cb.OnGoAway != nil {
			c.cb.OnGoAway(fr.LastStreamID, fr.ErrCode)
		}
		return nil
	case *http2.PingFrame:
		if !fr.IsAck() {
			return c.framer.WritePing(true, fr.Data)
		}
		return nil
	case *http2.WindowUpdateFrame:
		return nil
	default:
		return nil
	}
}

func (c *Codec) onHeadersFrame(fr *http2.HeadersFrame) error {
	asm := &streamAssembly{msg: message.New()}
	asm.headerBlock.Write(fr.HeaderBlockFragment())
	asm.endStream = fr.StreamEnded()
	c.streams[fr.StreamID] = asm
	if fr.HeadersEnded() {
		return c.finishHeaders(fr.StreamID, asm)
	}
	return nil
}

func (c *Codec) onContinuationFrame(fr *http2.ContinuationFrame) error {
	asm, ok := c.streams[fr.StreamID]
	if !ok {
		return fmt.Errorf("h2codec: CONTINUATION for unknown stream %d", fr.StreamID)
	}
	asm.headerBlock.Write(fr.HeaderBlockFragment())
	if fr.HeadersEnded() {
		return c.finishHeaders(fr.StreamID, asm)
	}
	return nil
}

func (c *Codec) finishHeaders(streamID uint32, asm *streamAssembly) error {
	fields, err := c.hdec.DecodeFull(asm.headerBlock.Bytes())
	if err != nil {
		return fmt.Errorf("h2codec: hpack decode: %w", err)
	}
	for _, f := range fields {
		switch f.Name {
		case ":method":
			asm.msg.Method = f.Value
		case ":scheme":
			asm.msg.Scheme = f.Value
		case ":authority":
			asm.msg.Authority = f.Value
		case ":path":
			asm.msg.Path = f.Value
		case ":status":
			fmt.Sscanf(f.Value, "%d", &asm.msg.Status)
		default:
			asm.msg.AddHeader(f.Name, f.Value)
		}
	}
	if c.cb.OnHeaders != nil {
		c.cb.OnHeaders(streamID, asm.msg, asm.endStream)
	}
	if asm.endStream {
		delete(c.streams, streamID)
	}
	return nil
}

// WantsRead reports whether the codec has productive use for more
// inbound bytes — true until the session is closing.
func (c *Codec) WantsRead() bool { return !c.closing }

// WantsWrite reports whether the codec has bytes staged via MemSend.
// A SETTINGS ack still outstanding from the peer does not count.
func (c *Codec) WantsWrite() bool { return c.out.Len() > c.sent }

// Terminate enqueues GOAWAY with the given error code and the last
// stream id this side allocated locally (0 when none), and marks the
// codec closing.
func (c *Codec) Terminate(code http2.ErrCode) error {
	if c.goAwaySent {
		return nil
	}
	c.goAwaySent = true
	c.closing = true
	last := c.nextStreamID
	if last > 0 {
		last -= 2
	}
	return c.framer.WriteGoAway(last, code, nil)
}
