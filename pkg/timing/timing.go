// Package timing provides per-connection phase timing. Each Session
// carries a Timer started at construction; the Session and Peer code
// records no phase boundaries on it, and Streams carry no metrics.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the phase breakdown of one connection attempt plus
// time-to-first-byte for the request that rode it.
type Metrics struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	TotalTime    time.Duration
}

// Timer accumulates phase boundaries for a single connection/request.
type Timer struct {
	start                        time.Time
	dnsStart, dnsEnd             time.Time
	tcpStart, tcpEnd             time.Time
	tlsStart, tlsEnd             time.Time
	ttfbStart, ttfbEnd           time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS()  { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()    { t.dnsEnd = time.Now() }
func (t *Timer) StartTCP()  { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()    { t.tcpEnd = time.Now() }
func (t *Timer) StartTLS()  { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()    { t.tlsEnd = time.Now() }
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }
func (t *Timer) EndTTFB()   { t.ttfbEnd = time.Now() }

// Metrics renders the collected boundaries, omitting phases never started.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

func (m Metrics) ConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v tcp=%v tls=%v ttfb=%v total=%v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}
