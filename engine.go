// Package engine is the top-level convenience API tying the Context,
// Listener, Peer, and Session packages together behind a small
// Serve/Connect/Run surface.
package engine

import (
	"time"

	"golang.org/x/net/http2"

	"github.com/quillhttp/engine/pkg/listener"
	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/peer"
	"github.com/quillhttp/engine/pkg/reactor"
	"github.com/quillhttp/engine/pkg/session"
	"github.com/quillhttp/engine/pkg/tlsopts"
)

// Options bundles the knobs most callers need: TLS/ALPN preference,
// H2 SETTINGS to forward, pool sizing, and the proxy an outbound Peer
// dials through.
type Options struct {
	TLS *tlsopts.Config
	H2Settings []http2.Setting
	PeerSize int
	ReqThreshold int
	Proxy *tlsopts.ProxyConfig
	DialTimeout int // seconds, 0 = default
	Verbose bool
}

// DefaultOptions returns a cleartext HTTP/1.1-only configuration with
// a single-session peer pool and no rotation threshold.
func DefaultOptions() Options {
	return Options{PeerSize: 1}
}

// Engine owns one Context and the Listeners/Peers registered on it.
type Engine struct {
	ctx *reactor.Context
}

// New constructs an Engine around a fresh Context.
func New(opts Options) *Engine {
	ctx := reactor.New()
	ctx.Verbose = opts.Verbose
	return &Engine{ctx: ctx}
}

// Serve registers a Listener bound to authority; onRequest is invoked
// synchronously on the reactor goroutine for every completed inbound
// request.
func (e *Engine) Serve(authority string, opts Options, onRequest func(s *session.Session, st *session.Stream, req *message.Message) int) error {
	ln, err := listener.Listen(authority, func(host string, port int) (listener.AcceptResult, error) {
		mandatory := opts.TLS != nil && opts.TLS.Protocol == tlsopts.ProtoH2Mandatory
		return listener.AcceptResult{TLS: opts.TLS, Mandatory: mandatory}, nil
	})
	if err != nil {
		return err
	}
	e.ctx.AddListener(ln, session.Callbacks{OnRequest: onRequest})
	return nil
}

// Connect builds a Peer pool of opts.PeerSize sessions to authority
// and registers it on the Engine's Context.
func (e *Engine) Connect(authority string, opts Options, onResponse func(s *session.Session, st *session.Stream, resp *message.Message) int) (*peer.Peer, error) {
	n := opts.PeerSize
	if n <= 0 {
		n = 1
	}
	p, err := peer.Connect(peer.Options{
		N: n,
		ReqThreshold: opts.ReqThreshold,
		Authority: authority,
		TLS: opts.TLS,
		H2Settings: opts.H2Settings,
		Proxy: opts.Proxy,
		DialTimeout: time.Duration(opts.DialTimeout) * time.Second,
		OnResponse: onResponse,
	})
	if err != nil {
		return nil, err
	}
	e.ctx.AddPeer(p)
	return p, nil
}

// Run enters the readiness loop; it blocks until Stop is called.
func (e *Engine) Run() { e.ctx.Run() }

// Stop signals the readiness loop to exit after its current tick.
func (e *Engine) Stop() { e.ctx.Stop() }
