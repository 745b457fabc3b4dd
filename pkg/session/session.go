// Package session implements one connection: either H2-framed or
// H1.1 line-based, owning its socket, optional TLS handle, codec
// state, and the Streams riding it.
package session

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/net/http2"

	"github.com/quillhttp/engine/pkg/h1"
	"github.com/quillhttp/engine/pkg/h2codec"
	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/rawerr"
	"github.com/quillhttp/engine/pkg/timing"
	"github.com/quillhttp/engine/pkg/wbuf"
)

// Protocol is the negotiated (or assumed) wire protocol for a Session.
type Protocol int

const (
	ProtoH1 Protocol = iota
	ProtoH2
	// ProtoH2Try is the reserved, unimplemented h2c upgrade placeholder
	// — accepted but never advertised as functional.
	ProtoH2Try
)

func (p Protocol) String() string {
	switch p {
	case ProtoH2:
		return "h2"
	case ProtoH2Try:
		return "h2-try"
	default:
		return "http/1.1"
	}
}

// State is a Session's closing-state FSM: open, draining for in-flight
// responses, or shutting down immediately.
type State int

const (
	StateOpen State = iota
	StateDraining
	StateTerminating
)

// writeAttemptBudget bounds how long a single send_once write attempt
// may block — translating the C core's non-blocking EAGAIN/WANT_WRITE
// into a short deadline on Go's blocking net.Conn.Write.
const writeAttemptBudget = 5 * time.Millisecond

// recvChunkSize is the fixed-size read per receive attempt.
const recvChunkSize = 16 * 1024

// Callbacks are the user-supplied hooks a Session invokes. On H1
// sessions a negative return value from OnRequest/OnResponse fails the
// session; on H2 sessions their return values are ignored.
type Callbacks struct {
	OnRequest func(s *Session, st *Stream, req *message.Message) int
	OnResponse func(s *Session, st *Stream, resp *message.Message) int
	SessionFree func(s *Session)
}

// Session is one established transport connection to a peer.
type Session struct {
	Conn net.Conn
	IsServer bool
	Proto Protocol
	Authority string
	LogPrefix string
	Logger *log.Logger

	head, tail *Stream
	sendFrom *Stream // client H1: next stream to resume sending from

	SendPending bool
	State State

	wb wbuf.SendBuffer
	h1 *h1.Parser
	h2 *h2codec.Codec

	tailIsCodec bool
	tailStream *Stream

	ReqCnt uint64
	RspCnt uint64
	RspRstCnt uint64
	StrmCloseCnt uint64

	CloseReason rawerr.CloseReason
	StartTime time.Time
	Timer *timing.Timer

	cb Callbacks
	UserData interface{}

	codecWantsReadFalse bool // never set; WantsRead queries the H2 codec directly
}

// NewServer constructs a server-side Session immediately after accept
// (and, if TLS, after handshake/ALPN resolution).
func NewServer(conn net.Conn, proto Protocol, cb Callbacks) *Session {
	return newSession(conn, true, proto, cb)
}

// NewClient constructs a client-side Session after connect (and, if
// TLS, after handshake/ALPN resolution).
func NewClient(conn net.Conn, proto Protocol, cb Callbacks) *Session {
	return newSession(conn, false, proto, cb)
}

func newSession(conn net.Conn, isServer bool, proto Protocol, cb Callbacks) *Session {
	authority := conn.RemoteAddr().String()
	prefix := fmt.Sprintf("[%s %s]", roleName(isServer), authority)
	s := &Session{
		Conn: conn,
		IsServer: isServer,
		Proto: proto,
		Authority: authority,
		LogPrefix: prefix,
		Logger: log.New(os.Stderr, prefix+" ", log.LstdFlags),
		StartTime: time.Now(),
		Timer: timing.NewTimer(),
		cb: cb,
	}
	switch proto {
	case ProtoH2:
		s.h2 = h2codec.New(isServer, h2codec.Callbacks{
			OnHeaders: s.onH2Headers,
			OnData: s.onH2Data,
			OnStreamClosed: s.onH2StreamClosed,
		})
	default:
		role := h1.RoleServer
		if !isServer {
			role = h1.RoleClient
		}
		_, isTLS := conn.(*tls.Conn)
		s.h1 = h1.NewParser(role, isTLS)
	}
	return s
}

func roleName(isServer bool) string {
	if isServer {
		return "server"
	}
	return "client"
}

// --- Stream FIFO -----------------------------------------------------

func (s *Session) pushStream(st *Stream) {
	if s.tail == nil {
		s.head, s.tail = st, st
		return
	}
	s.tail.next = st
	s.tail = st
}

func (s *Session) popHead() *Stream {
	st := s.head
	if st == nil {
		return nil
	}
	s.head = st.next
	if s.head == nil {
		s.tail = nil
	}
	st.next = nil
	return st
}

// --- Interest --------------------------------------------

// WantsRead reports whether the readiness loop should register read
// interest for this session.
func (s *Session) WantsRead() bool {
	if s.Proto == ProtoH2 {
		return s.h2.WantsRead()
	}
	return s.State != StateTerminating
}

// WantsWrite reports whether the readiness loop should register write
// interest for this session.
func (s *Session) WantsWrite() bool {
	if s.Proto == ProtoH2 {
		return s.SendPending || s.h2.WantsWrite()
	}
	return s.SendPending
}

// Idle reports that neither interest is requested — the session has
// completed its business and should be closed with BY_HTTP_END /
// BY_NGHTTP2_END.
func (s *Session) Idle() bool { return !s.WantsRead() && !s.WantsWrite() }

// --- Receive path -----------------------------------------

// Receive reads one chunk and feeds it to the parser or codec. It
// returns false and sets CloseReason on EOF or a fatal error; true
// otherwise (including the transient would-block case, which is not
// an error in Go's net.Conn model and simply yields no bytes read on
// the next reactor tick).
func (s *Session) Receive() bool {
	buf := make([]byte, recvChunkSize)
	n, err := s.Conn.Read(buf)
	if n > 0 {
		if !s.feed(buf[:n]) {
			return false
		}
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		if errors.Is(err, io.EOF) {
			s.CloseReason = rawerr.CloseBySockEOF
		} else {
			s.CloseReason = rawerr.CloseBySockErr
		}
		return false
	}
	return true
}

// FeedRecv delivers bytes obtained by the caller (e.g. a reactor's
// dedicated per-session reader goroutine) as if they had just been
// read from the socket. Returns false on a parse/codec failure.
func (s *Session) FeedRecv(data []byte) bool { return s.feed(data) }

// MarkClosed tags CloseReason for a session whose socket reported EOF
// or an error outside of Session.Receive's own read path.
func (s *Session) MarkClosed(reason rawerr.CloseReason) { s.CloseReason = reason }

func (s *Session) feed(data []byte) bool {
	if s.Proto == ProtoH2 {
		if _, err := s.h2.MemRecv(data); err != nil {
			s.CloseReason = rawerr.CloseByCodecErr
			return false
		}
		return true
	}

	msgs, err := s.h1.Feed(data)
	if err != nil {
		s.CloseReason = rawerr.CloseByHTTPErr
		return false
	}
	for _, m := range msgs {
		if !s.onH1Message(m) {
			return false
		}
	}
	return true
}

func (s *Session) onH1Message(m *message.Message) bool {
	if s.IsServer {
		s.ReqCnt++
		st := &Stream{ID: uint32(s.ReqCnt*2 + 1), Request: m}
		s.pushStream(st)
		if s.cb.OnRequest != nil && s.cb.OnRequest(s, st, m) < 0 {
			return false
		}
		return true
	}

	st := s.popHead()
	if st == nil {
		s.CloseReason = rawerr.CloseByHTTPErr
		return false
	}
	st.Response = m
	s.RspCnt++
	ok := true
	if s.cb.OnResponse != nil {
		ok = s.cb.OnResponse(s, st, m) >= 0
	}
	st.free()
	s.StrmCloseCnt++
	s.checkDrainComplete()
	return ok
}

// checkDrainComplete closes out a client session's draining wait once
// every request it was holding for has received its response —
// entering StateTerminating here (rather than on Terminate's draining
// branch) is what lets the session keep wanting reads while responses
// are still outstanding.
func (s *Session) checkDrainComplete() {
	if s.State != StateDraining || s.ReqCnt > s.RspCnt {
		return
	}
	s.State = StateTerminating
	if s.Proto == ProtoH2 {
		s.h2.Terminate(http2.ErrCodeNo)
	} else {
		s.Conn.Close()
	}
	s.SendPending = true
}

func (s *Session) onH2Headers(streamID uint32, m *message.Message, endStream bool) {
	if s.IsServer {
		st := &Stream{ID: streamID, Request: m}
		s.pushStream(st)
		if endStream {
			s.ReqCnt++
			if s.cb.OnRequest != nil {
				s.cb.OnRequest(s, st, m)
			}
		}
		return
	}
	st := s.findStream(streamID)
	if st == nil {
		return
	}
	st.Response = m
	if endStream {
		s.RspCnt++
		if s.cb.OnResponse != nil {
			s.cb.OnResponse(s, st, m)
		}
		s.checkDrainComplete()
	}
}

func (s *Session) onH2Data(streamID uint32, data []byte, endStream bool) {
	st := s.findStream(streamID)
	if st == nil {
		return
	}
	if s.IsServer {
		st.Request.Body = append(st.Request.Body, data...)
		if endStream {
			s.ReqCnt++
			if s.cb.OnRequest != nil {
				s.cb.OnRequest(s, st, st.Request)
			}
		}
		return
	}
	if st.Response == nil {
		return
	}
	st.Response.Body = append(st.Response.Body, data...)
	if endStream {
		s.RspCnt++
		if s.cb.OnResponse != nil {
			s.cb.OnResponse(s, st, st.Response)
		}
		s.checkDrainComplete()
	}
}

// SubmitInitialSettings submits the handshake-time SETTINGS frame for
// an H2 session. A nil or empty slice submits an
// empty SETTINGS frame, signalling defaults.
func (s *Session) SubmitInitialSettings(settings []http2.Setting) error {
	if s.Proto != ProtoH2 {
		return nil
	}
	if err := s.h2.SubmitSettings(settings); err != nil {
		return err
	}
	s.SendPending = true
	return nil
}

// SendRequest enqueues req as a new outbound request (client-side
// only), creating its Stream and returning it.
func (s *Session) SendRequest(req *message.Message) (*Stream, error) {
	if s.Proto == ProtoH2 {
		id, err := s.h2.SubmitRequest(req, true)
		if err != nil {
			return nil, err
		}
		st := &Stream{ID: id, Request: req}
		s.pushStream(st)
		s.ReqCnt++
		s.SendPending = true
		return st, nil
	}

	st := &Stream{Request: req, h1Out: h1.EncodeRequest(req), h1Ready: true}
	s.pushStream(st)
	s.ReqCnt++
	s.SendPending = true
	return st, nil
}

// SendResponse attaches resp to st as the outbound response (server
// side only) and marks the session ready to send it.
func (s *Session) SendResponse(st *Stream, resp *message.Message) error {
	st.Response = resp
	if s.Proto == ProtoH2 {
		if err := s.h2.SubmitResponse(st.ID, resp, true); err != nil {
			return err
		}
	} else {
		st.h1Out = h1.EncodeResponse(resp)
		st.h1Ready = true
	}
	s.SendPending = true
	return nil
}

func (s *Session) onH2StreamClosed(streamID uint32, errCode http2.ErrCode) {
	if errCode != http2.ErrCodeNo {
		s.RspRstCnt++
	}
	s.StrmCloseCnt++
}

func (s *Session) findStream(id uint32) *Stream {
	for st := s.head; st != nil; st = st.next {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// --- Send path --------------------------------------------

// SendOnce refills the write buffer if idle, attempts exactly one
// write, and reports the number of bytes written (0 on would-block,
// -1 on fatal error — CloseReason is set in that case).
func (s *Session) SendOnce() int {
	s.refill()

	var span []byte
	fromTail := false
	switch {
	case s.wb.HasMerge():
		span = s.wb.MergeBytes()
	case s.wb.HasTail():
		span = s.wb.TailBytes()
		fromTail = true
	default:
		s.SendPending = false
		return 0
	}

	s.Conn.SetWriteDeadline(time.Now().Add(writeAttemptBudget))
	n, err := s.Conn.Write(span)
	s.Conn.SetWriteDeadline(time.Time{})

	if n > 0 {
		if fromTail {
			s.wb.AdvanceTail(n)
			if s.tailIsCodec {
				s.h2.Advance(n)
			} else if s.tailStream != nil {
				s.tailStream.sendCursor += n
			}
			if !s.wb.HasTail() {
				s.tailIsCodec = false
				s.tailStream = nil
			}
		} else {
			s.wb.AdvanceMerge(n)
		}
	}

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.SendPending = true
			return n
		}
		s.CloseReason = rawerr.CloseBySockErr
		return -1
	}

	if s.wb.Idle() {
		s.refill()
	}
	s.SendPending = !s.wb.Idle()
	return n
}

// Send drains SendOnce until it returns zero or fewer bytes.
func (s *Session) Send() bool {
	for {
		n := s.SendOnce()
		if n < 0 {
			return false
		}
		if n == 0 {
			return true
		}
	}
}

func (s *Session) refill() {
	if !s.wb.Idle() {
		return
	}
	if s.Proto == ProtoH2 {
		s.refillFromCodec()
		return
	}
	if s.IsServer {
		s.refillServerH1()
		return
	}
	s.refillClientH1()
}

func (s *Session) refillFromCodec() {
	span := s.h2.MemSend()
	if len(span) == 0 {
		return
	}
	if s.wb.Put(span) {
		s.h2.Advance(len(span))
		return
	}
	s.wb.SetTail(span)
	s.tailIsCodec = true
}

func (s *Session) refillServerH1() {
	for s.head != nil && s.head.sendDone() {
		done := s.popHead()
		done.free()
		s.StrmCloseCnt++
	}
	if s.head == nil || !s.head.h1Ready {
		return
	}
	data := s.head.pendingSend()
	if len(data) == 0 {
		return
	}
	if s.wb.Put(data) {
		s.head.sendCursor += len(data)
		return
	}
	s.wb.SetTail(data)
	s.tailStream = s.head
}

func (s *Session) refillClientH1() {
	cur := s.sendFrom
	if cur == nil {
		cur = s.head
	}
	for cur != nil && cur.sendDone() {
		cur = cur.next
	}
	s.sendFrom = cur
	if cur == nil || !cur.h1Ready {
		return
	}
	data := cur.pendingSend()
	if len(data) == 0 {
		return
	}
	if s.wb.Put(data) {
		cur.sendCursor += len(data)
		return
	}
	s.wb.SetTail(data)
	s.tailStream = cur
}

// --- Termination ------------------------------------------

// Terminate implements the terminate(wait_rsp) state machine. It is
// idempotent: a second call after the session has already entered a
// terminal state returns "already" and has no side effects.
func (s *Session) Terminate(waitRsp bool) string {
	if s.State != StateOpen {
		return "already"
	}

	if waitRsp && !s.IsServer && s.ReqCnt > s.RspCnt {
		s.State = StateDraining
		if tc, ok := s.Conn.(*tls.Conn); ok {
			tc.CloseWrite()
		} else if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		// H2: rely on the peer observing stream completion rather than
		// sending GOAWAY here — Codec.Terminate latches closing=true,
		// which would make WantsRead false and let the reactor reap the
		// session before the outstanding responses it's draining for
		// ever arrive.
		return "draining"
	}

	s.State = StateTerminating
	if s.Proto == ProtoH2 {
		s.h2.Terminate(http2.ErrCodeNo)
	} else {
		s.Conn.Close()
	}
	s.SendPending = true
	return "immediate"
}

// Free tears the session down: frees every stream (invoking free
// callbacks), invokes the session free callback, and closes the
// transport. A one-line summary is logged only for server sessions
// that handled more than one request.
func (s *Session) Free() {
	for st := s.popHead(); st != nil; st = s.popHead() {
		st.free()
	}
	if s.cb.SessionFree != nil {
		s.cb.SessionFree(s)
	}
	s.Conn.Close()
	if s.IsServer && s.ReqCnt > 1 {
		if cerr := rawerr.NewSessionCloseError(s.Authority, roleName(s.IsServer), s.Proto.String(), s.CloseReason); cerr != nil {
			s.Logger.Printf("closed after %d requests: %s", s.ReqCnt, cerr)
		} else {
			s.Logger.Printf("closed after %d requests, reason=%s", s.ReqCnt, s.CloseReason)
		}
	}
}
