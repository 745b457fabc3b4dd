// Package reactor implements the Context: the owner of all Sessions,
// Listeners, and Peers, and the readiness loop that drives them.
//
// Go's netpoller already hides raw fd readiness behind blocking
// net.Conn calls, so a literal epoll_wait translation is not
// idiomatic here. Instead each Session and Listener gets a dedicated
// goroutine performing blocking reads/accepts, funnelling results as
// tagged events into one channel that the single loop goroutine
// drains — the same shape as the channel-based frame dispatch in the
// wider HTTP/2 server examples this module is grounded on. All
// session mutation still happens on the one loop goroutine, so no
// lock is needed between the reader goroutines and the loop.
package reactor

import (
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/quillhttp/engine/pkg/listener"
	"github.com/quillhttp/engine/pkg/peer"
	"github.com/quillhttp/engine/pkg/rawerr"
	"github.com/quillhttp/engine/pkg/session"
)

// tickTimeout bounds each readiness wait.
const tickTimeout = 100 * time.Millisecond

const recvChunkSize = 16 * 1024

type eventKind int

const (
	evData eventKind = iota
	evReadErr
	evAccepted
	evAcceptErr
)

type event struct {
	kind eventKind
	sess *session.Session
	ln *listener.Listener
	data []byte
	err error
}

// Context owns the registered Sessions, Listeners, and Peers and runs
// the readiness loop on the goroutine that calls Run.
type Context struct {
	Verbose bool
	Logger *log.Logger

	listeners []*listenerReg
	peers []*peer.Peer
	sessions map[*session.Session]struct{}

	events chan event
	running bool
	stop chan struct{}
}

type listenerReg struct {
	ln *listener.Listener
	cb session.Callbacks
}

// New constructs an empty Context.
func New() *Context {
	return &Context{
		Logger: log.New(os.Stderr, "[reactor] ", log.LstdFlags),
		sessions: make(map[*session.Session]struct{}),
		events: make(chan event, 256),
		stop: make(chan struct{}),
	}
}

// AddListener registers a Listener; a dedicated goroutine accepts on
// it and posts finished Sessions back to the loop.
func (c *Context) AddListener(ln *listener.Listener, cb session.Callbacks) {
	reg := &listenerReg{ln: ln, cb: cb}
	c.listeners = append(c.listeners, reg)
	go c.acceptLoop(reg)
}

func (c *Context) acceptLoop(reg *listenerReg) {
	for {
		s, err := reg.ln.Accept(reg.cb)
		if err != nil {
			select {
			case c.events <- event{kind: evAcceptErr, ln: reg.ln, err: err}:
			case <-c.stop:
				return
			}
			continue
		}
		select {
		case c.events <- event{kind: evAccepted, sess: s}:
		case <-c.stop:
			s.Free()
			return
		}
	}
}

// AddPeer registers a Peer; every one of its currently active
// Sessions gets a dedicated reader goroutine. Replacement sessions
// created by the Peer's own reconnect-on-free logic are picked up by
// reconcilePeers on the next tick.
func (c *Context) AddPeer(p *peer.Peer) {
	c.peers = append(c.peers, p)
	for _, s := range p.Sessions() {
		c.addSession(s)
	}
}

// AddSession registers a standalone Session (typically server-side,
// produced directly rather than via a Listener or Peer).
func (c *Context) AddSession(s *session.Session) {
	c.addSession(s)
}

func (c *Context) addSession(s *session.Session) {
	if _, ok := c.sessions[s]; ok {
		return
	}
	c.sessions[s] = struct{}{}
	go c.readerLoop(s)
}

func (c *Context) readerLoop(s *session.Session) {
	buf := make([]byte, recvChunkSize)
	for {
		n, err := s.Conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.events <- event{kind: evData, sess: s, data: data}:
			case <-c.stop:
				return
			}
		}
		if err != nil {
			select {
			case c.events <- event{kind: evReadErr, sess: s, err: err}:
			case <-c.stop:
			}
			return
		}
	}
}

// Run enters the readiness loop. It returns once Stop is called and
// the in-flight tick completes.
func (c *Context) Run() {
	c.running = true
	for c.running {
		c.tick()
	}
}

// Stop clears the running flag; the loop exits after its current tick.
func (c *Context) Stop() {
	c.running = false
	close(c.stop)
}

func (c *Context) tick() {
	deadline := time.Now().Add(tickTimeout)
drain:
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break drain
		}
		timer := time.NewTimer(remaining)
		select {
		case ev := <-c.events:
			timer.Stop()
			c.handleEvent(ev)
		case <-timer.C:
			break drain
		}
	}

	c.reconcilePeers()
	c.sendPhase()
	c.reapIdle()
}

func (c *Context) handleEvent(ev event) {
	switch ev.kind {
	case evData:
		if !ev.sess.FeedRecv(ev.data) {
			c.freeSession(ev.sess)
		}
	case evReadErr:
		if isTransient(ev.err) {
			return
		}
		if isEOF(ev.err) {
			ev.sess.MarkClosed(rawerr.CloseBySockEOF)
		} else {
			ev.sess.MarkClosed(rawerr.CloseBySockErr)
		}
		c.freeSession(ev.sess)
	case evAccepted:
		c.addSession(ev.sess)
	case evAcceptErr:
		if c.Verbose {
			c.Logger.Printf("accept error on %s: %v", ev.ln.Authority, ev.err)
		}
	}
}

func (c *Context) sendPhase() {
	for s := range c.sessions {
		if !s.WantsWrite() {
			continue
		}
		if !s.Send() {
			c.freeSession(s)
		}
	}
}

func (c *Context) reapIdle() {
	for s := range c.sessions {
		if s.Idle() {
			reason := rawerr.CloseByHTTPEnd
			if s.Proto == session.ProtoH2 {
				reason = rawerr.CloseByCodecEnd
			}
			s.MarkClosed(reason)
			c.freeSession(s)
		}
	}
}

func (c *Context) freeSession(s *session.Session) {
	if _, ok := c.sessions[s]; !ok {
		return
	}
	delete(c.sessions, s)
	s.Free()
}

// reconcilePeers picks up replacement Sessions created by a Peer's
// internal reconnect-on-free logic and registers reader goroutines
// for them.
func (c *Context) reconcilePeers() {
	for _, p := range c.peers {
		for _, s := range p.Sessions() {
			c.addSession(s)
		}
	}
}

func isTransient(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	if te, ok := err.(timeoutErr); ok {
		return te.Timeout()
	}
	return false
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
