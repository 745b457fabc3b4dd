// Package peer implements the client-side pool of N parallel Sessions
// to one authority: round-robin request routing, per-session request
// thresholds that trigger proactive rotation, and reconnect-on-free.
package peer

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/rawerr"
	"github.com/quillhttp/engine/pkg/session"
	"github.com/quillhttp/engine/pkg/sockopt"
	"github.com/quillhttp/engine/pkg/tlsopts"
)

// Options configures Peer construction.
type Options struct {
	N int
	ReqThreshold int // 0 disables proactive rotation
	Authority string
	TLS *tlsopts.Config
	H2Settings []http2.Setting
	Proxy *tlsopts.ProxyConfig
	DialTimeout time.Duration
	OnRequest func(s *session.Session, st *session.Stream, req *message.Message) int
	OnResponse func(s *session.Session, st *session.Stream, resp *message.Message) int
}

// Stats is the aggregated, point-in-time snapshot of a Peer's pool
// activity: how many sessions are active, how many requests the pool
// has routed in total, and how often rotation or reconnect has fired.
type Stats struct {
	SessionsActive int
	RequestsRouted uint64
	Rotations uint64
	Reconnects uint64
}

type slot struct {
	sess *session.Session
	active bool
}

// Peer is a pool of N Sessions sharing one authority and configuration,
// presenting one logical client endpoint with load balancing.
type Peer struct {
	opts Options

	slots []*slot
	activeCount int
	nextIdx int

	terminating bool
	stats Stats

	Start time.Time
	End time.Time
}

// Connect dials N sessions to opts.Authority. If every slot fails to
// connect, construction fails entirely.
func Connect(opts Options) (*Peer, error) {
	if opts.N <= 0 {
		return nil, rawerr.NewValidationError("peer N must be positive")
	}
	p := &Peer{opts: opts, slots: make([]*slot, opts.N), Start: time.Now()}

	connected := 0
	for i := 0; i < opts.N; i++ {
		s, err := p.dialSlot(i)
		if err != nil {
			p.slots[i] = &slot{}
			continue
		}
		p.slots[i] = &slot{sess: s, active: true}
		p.activeCount++
		connected++
	}
	if connected == 0 {
		return nil, rawerr.NewConnectionError(opts.Authority, "client", fmt.Errorf("all %d peer slots failed to connect", opts.N))
	}
	return p, nil
}

func (p *Peer) dialSlot(idx int) (*session.Session, error) {
	conn, err := dial(p.opts)
	if err != nil {
		return nil, err
	}

	proto := session.ProtoH1
	if p.opts.TLS != nil {
		tlsCfg, err := p.opts.TLS.ClientTLSConfig(hostOf(p.opts.Authority))
		if err != nil {
			conn.Close()
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, rawerr.NewTLSError(p.opts.Authority, "client", err)
		}
		negotiated := tlsConn.ConnectionState().NegotiatedProtocol
		if negotiated == "h2" {
			proto = session.ProtoH2
		} else if p.opts.TLS.Protocol == tlsopts.ProtoH2Mandatory {
			tlsConn.Close()
			return nil, rawerr.NewTLSError(p.opts.Authority, "client",
				fmt.Errorf("ALPN negotiated %q, h2 mandatory", negotiated))
		}
		conn = tlsConn
	}

	s := session.NewClient(conn, proto, session.Callbacks{
		OnRequest: p.opts.OnRequest,
		OnResponse: p.opts.OnResponse,
		SessionFree: func(freed *session.Session) {
			p.onSessionFree(idx, freed)
		},
	})
	if proto == session.ProtoH2 {
		s.SubmitInitialSettings(p.opts.H2Settings)
	}
	return s, nil
}

func hostOf(authority string) string {
	h, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return h
}

func dial(opts Options) (net.Conn, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var conn net.Conn
	var err error
	if opts.Proxy == nil {
		conn, err = net.DialTimeout("tcp", opts.Authority, timeout)
	} else {
		conn, err = dialViaProxy(opts.Proxy, opts.Authority, timeout)
	}
	if err != nil {
		return nil, err
	}
	if err := sockopt.ConfigureConn(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func dialViaProxy(pc *tlsopts.ProxyConfig, target string, timeout time.Duration) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(pc.Host, strconv.Itoa(pc.DefaultPort()))
	switch pc.Type {
	case "http", "https":
		return dialViaHTTPConnect(pc, proxyAddr, target, timeout)
	case "socks4":
		return dialViaSOCKS4(proxyAddr, target, timeout)
	default: // socks5
		d, err := proxy.SOCKS5("tcp", proxyAddr, socksAuth(pc), &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return d.Dial("tcp", target)
	}
}

func socksAuth(pc *tlsopts.ProxyConfig) *proxy.Auth {
	if pc.Username == "" {
		return nil
	}
	return &proxy.Auth{User: pc.Username, Password: pc.Password}
}

func dialViaHTTPConnect(pc *tlsopts.ProxyConfig, proxyAddr, target string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", proxyAddr, timeout)
	if err != nil {
		return nil, err
	}
	if pc.Type == "https" {
		tlsConn := tls.Client(conn, pc.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if pc.Username != "" {
		req += "Proxy-Authorization: Basic " + basicAuth(pc.Username, pc.Password) + "\r\n"
	}
	req += "\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, err
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, err
	}
	if len(line) < 12 || line[9] != '2' {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", line)
	}
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, err
		}
		if l == "\r\n" || l == "\n" {
			break
		}
	}
	return conn, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func dialViaSOCKS4(proxyAddr, target string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", proxyAddr, timeout)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		conn.Close()
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			conn.Close()
			return nil, err
		}
		ip = addrs.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		conn.Close()
		return nil, fmt.Errorf("socks4 requires an IPv4 target, got %s", host)
	}

	req := make([]byte, 0, 9)
	req = append(req, 0x04, 0x01, byte(port>>8), byte(port))
	req = append(req, ip4...)
	req = append(req, 0x00)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, err
	}

	resp := make([]byte, 8)
	if _, err := conn.Read(resp); err != nil {
		conn.Close()
		return nil, err
	}
	if resp[1] != 0x5a {
		conn.Close()
		return nil, fmt.Errorf("socks4 connect rejected, code=%d", resp[1])
	}
	return conn, nil
}

// SendRequest routes req to a healthy session, rotating out any slot
// that has crossed its request threshold, and returns the new Stream.
func (p *Peer) SendRequest(req *message.Message) (*session.Stream, error) {
	if p.terminating {
		return nil, rawerr.NewPoolError(p.opts.Authority, "peer is terminating")
	}

	for i := 0; i < len(p.slots); i++ {
		idx := (p.nextIdx + i) % len(p.slots)
		sl := p.slots[idx]
		if sl == nil || !sl.active {
			continue
		}

		if p.opts.ReqThreshold > 0 && sl.sess.ReqCnt >= uint64(p.opts.ReqThreshold) && p.activeCount >= len(p.slots) {
			sl.active = false
			p.activeCount--
			p.stats.Rotations++
			sl.sess.Terminate(true)
			continue
		}

		st, err := sl.sess.SendRequest(req)
		p.nextIdx = (idx + 1) % len(p.slots)
		if err != nil {
			return nil, err
		}
		p.stats.RequestsRouted++
		return st, nil
	}
	return nil, rawerr.NewPoolError(p.opts.Authority, "no active session available")
}

// onSessionFree is the per-slot session_free_cb: clear the active flag
// and reconnect unless the peer is terminating. The Context's running
// state is not consulted.
func (p *Peer) onSessionFree(idx int, freed *session.Session) {
	sl := p.slots[idx]
	if sl.active {
		sl.active = false
		p.activeCount--
	}
	sl.sess = nil

	if p.terminating {
		return
	}
	replacement, err := p.dialSlot(idx)
	if err != nil {
		return
	}
	sl.sess = replacement
	sl.active = true
	p.activeCount++
	p.stats.Reconnects++
}

// Terminate marks the peer terminating, deactivates every slot, and
// terminates each session with wait_rsp=waitRsp.
func (p *Peer) Terminate(waitRsp bool) {
	p.terminating = true
	p.End = time.Now()
	for _, sl := range p.slots {
		if sl == nil || sl.sess == nil {
			continue
		}
		sl.active = false
		sl.sess.Terminate(waitRsp)
	}
	p.activeCount = 0
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *Peer) Stats() Stats {
	s := p.stats
	s.SessionsActive = p.activeCount
	return s
}

// Sessions returns the live, active sessions for diagnostics/tests.
func (p *Peer) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(p.slots))
	for _, sl := range p.slots {
		if sl != nil && sl.active && sl.sess != nil {
			out = append(out, sl.sess)
		}
	}
	return out
}
