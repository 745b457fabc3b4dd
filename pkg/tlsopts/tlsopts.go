// Package tlsopts provides TLS/ALPN configuration shared by Listener
// (server side) and Peer (client side), plus upstream proxy dialing
// configuration for Peer.
package tlsopts

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Protocol is the caller's protocol preference, advertised via ALPN
// on the client side and used to pick the fallback on the server side.
type Protocol int

const (
	// ProtoH2Try advertises both h2 and http/1.1; either is acceptable.
	ProtoH2Try Protocol = iota
	// ProtoH2Mandatory advertises only h2 on the client side (the server
	// side advertises h2 and http/1.1); a non-h2 ALPN result fails the session.
	ProtoH2Mandatory
	// ProtoH1Only advertises only http/1.1.
	ProtoH1Only
)

// Config is the TLS-related subset of Session/Peer/Listener options.
type Config struct {
	SNI        string
	DisableSNI bool

	InsecureSkipVerify bool
	CustomCACerts      [][]byte

	ClientCertPEM  []byte
	ClientKeyPEM   []byte
	ClientCertFile string
	ClientKeyFile  string

	// RequireClientCert, server side only, enables mTLS: the listener
	// verifies inbound client certificates against ClientCACerts.
	RequireClientCert bool
	ClientCACerts     [][]byte

	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16

	Protocol Protocol

	// Base, if set, is cloned rather than built from scratch — lets a
	// caller pass arbitrary crypto/tls.Config knobs through untouched.
	Base *tls.Config
}

// ClientTLSConfig builds a *tls.Config for a Peer session connecting
// to host, with ALPN set according to c.Protocol.
func (c Config) ClientTLSConfig(host string) (*tls.Config, error) {
	cfg, err := c.build(host)
	if err != nil {
		return nil, err
	}
	switch c.Protocol {
	case ProtoH2Mandatory:
		cfg.NextProtos = []string{"h2"}
	case ProtoH1Only:
		cfg.NextProtos = []string{"http/1.1"}
	default:
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}
	return cfg, nil
}

// ServerTLSConfig builds a *tls.Config for a Listener, with ALPN
// advertised according to c.Protocol.
func (c Config) ServerTLSConfig() (*tls.Config, error) {
	cfg, err := c.build("")
	if err != nil {
		return nil, err
	}
	switch c.Protocol {
	case ProtoH1Only:
		cfg.NextProtos = []string{"http/1.1"}
	default:
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}
	if c.RequireClientCert {
		pool := x509.NewCertPool()
		for i, pem := range c.ClientCACerts {
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("failed to parse client CA certificate at index %d", i)
			}
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (c Config) build(fallbackHost string) (*tls.Config, error) {
	var cfg *tls.Config
	if c.Base != nil {
		cfg = c.Base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if c.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}

	if len(c.CustomCACerts) > 0 {
		pool := x509.NewCertPool()
		for i, pem := range c.CustomCACerts {
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("failed to parse CA certificate at index %d", i)
			}
		}
		cfg.RootCAs = pool
	}

	ConfigureSNI(cfg, c.SNI, c.DisableSNI, fallbackHost)

	if c.MinVersion > 0 && cfg.MinVersion == 0 {
		cfg.MinVersion = c.MinVersion
	}
	if c.MaxVersion > 0 && cfg.MaxVersion == 0 {
		cfg.MaxVersion = c.MaxVersion
	}
	if len(c.CipherSuites) > 0 && len(cfg.CipherSuites) == 0 {
		cfg.CipherSuites = c.CipherSuites
	}

	cert, err := c.loadCertificate()
	if err != nil {
		return nil, err
	}
	if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}

	return cfg, nil
}

// ConfigureSNI applies host-name indication with the priority order:
// an already-set ServerName wins, then DisableSNI leaves it blank,
// then an explicit override, then the fallback host.
func ConfigureSNI(cfg *tls.Config, sni string, disable bool, fallback string) {
	if cfg == nil || cfg.ServerName != "" || disable {
		return
	}
	if sni != "" {
		cfg.ServerName = sni
		return
	}
	cfg.ServerName = fallback
}

func (c Config) loadCertificate() (*tls.Certificate, error) {
	hasPEM := len(c.ClientCertPEM) > 0 && len(c.ClientKeyPEM) > 0
	hasFile := c.ClientCertFile != "" && c.ClientKeyFile != ""
	if !hasPEM && !hasFile {
		return nil, nil
	}

	certPEM, keyPEM := c.ClientCertPEM, c.ClientKeyPEM
	if !hasPEM {
		var err error
		certPEM, err = os.ReadFile(c.ClientCertFile)
		if err != nil {
			return nil, fmt.Errorf("reading client certificate file %s: %w", c.ClientCertFile, err)
		}
		keyPEM, err = os.ReadFile(c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading client key file %s: %w", c.ClientKeyFile, err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client certificate/key: %w", err)
	}
	return &cert, nil
}

// ProxyConfig describes an upstream proxy a Peer dials through before
// reaching the target authority (HTTP CONNECT or SOCKS4/5).
type ProxyConfig struct {
	Type        string // "http", "https", "socks4", "socks5"
	Host        string
	Port        int
	Username    string
	Password    string
	ConnTimeout time.Duration
	TLSConfig   *tls.Config
}

func (p *ProxyConfig) DefaultPort() int {
	if p.Port != 0 {
		return p.Port
	}
	switch p.Type {
	case "http":
		return 8080
	case "https":
		return 443
	default:
		return 1080
	}
}
