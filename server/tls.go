package main

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// TLSMode selects where the HTTPS certificate comes from.
type TLSMode string

const (
	TLSModeOff         TLSMode = "off"
	TLSModeSelfSigned  TLSMode = "self-signed"
	TLSModeCustom      TLSMode = "custom"
	TLSModeLetsEncrypt TLSMode = "letsencrypt"
)

// TLSConfig enables HTTPS on the main listener. Agents then dial wss://.
type TLSConfig struct {
	Mode TLSMode `toml:"mode"`

	// Domain goes into the self-signed certificate and is the only host
	// Let's Encrypt will issue for.
	Domain string `toml:"domain"`

	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
	CertDir  string `toml:"cert_dir"`

	Email     string `toml:"email"`
	CacheDir  string `toml:"cache_dir"`
	AcceptTOS bool   `toml:"accept_tos"`

	// ACMEPort serves HTTP-01 challenges in letsencrypt mode; 0 disables it.
	ACMEPort int `toml:"acme_port"`
}

// Enabled reports whether the listener should speak TLS.
func (c TLSConfig) Enabled() bool {
	return c.Mode != "" && c.Mode != TLSModeOff
}

func (c TLSConfig) validate() error {
	switch c.Mode {
	case "", TLSModeOff, TLSModeSelfSigned:
	case TLSModeCustom:
		if c.CertPath == "" || c.KeyPath == "" {
			return fmt.Errorf("tls.cert_path and tls.key_path are required for custom mode")
		}
	case TLSModeLetsEncrypt:
		if c.Domain == "" {
			return fmt.Errorf("tls.domain is required for letsencrypt mode")
		}
		if !c.AcceptTOS {
			return fmt.Errorf("letsencrypt mode requires tls.accept_tos = true")
		}
	default:
		return fmt.Errorf("invalid tls mode %q", c.Mode)
	}
	return nil
}

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}
}

// Build returns the listener's tls.Config. In letsencrypt mode the
// autocert manager is returned too so its challenge handler can be served.
func (c TLSConfig) Build() (*tls.Config, *autocert.Manager, error) {
	switch c.Mode {
	case TLSModeLetsEncrypt:
		m, err := c.acmeManager()
		if err != nil {
			return nil, nil, err
		}
		tc := baseTLSConfig()
		tc.GetCertificate = m.GetCertificate
		tc.NextProtos = append(tc.NextProtos, "acme-tls/1")
		return tc, m, nil
	case TLSModeCustom:
		tc, err := loadKeyPair(c.CertPath, c.KeyPath)
		return tc, nil, err
	case TLSModeSelfSigned:
		tc, err := c.selfSigned()
		return tc, nil, err
	default:
		return nil, nil, fmt.Errorf("tls mode %q has no certificate", c.Mode)
	}
}

func (c TLSConfig) acmeManager() (*autocert.Manager, error) {
	cacheDir := c.CacheDir
	if cacheDir == "" {
		cacheDir = "letsencrypt-cache"
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create letsencrypt cache: %w", err)
	}
	return &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		Cache:       autocert.DirCache(cacheDir),
		HostPolicy:  autocert.HostWhitelist(c.Domain),
		Email:       c.Email,
		RenewBefore: 30 * 24 * time.Hour,
	}, nil
}

func loadKeyPair(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	tc := baseTLSConfig()
	tc.Certificates = []tls.Certificate{cert}
	return tc, nil
}

// selfSigned reuses certs/server.{crt,key} when present and generates
// them otherwise.
func (c TLSConfig) selfSigned() (*tls.Config, error) {
	dir := c.CertDir
	if dir == "" {
		dir = "certs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr != nil || keyErr != nil {
		logInfo("Generating self-signed TLS certificate", "domain", c.Domain, "cert", certPath)
		if err := generateSelfSignedCert(certPath, keyPath, c.Domain); err != nil {
			return nil, err
		}
	} else {
		logDebug("Loading existing self-signed certificate", "cert", certPath)
	}
	return loadKeyPair(certPath, keyPath)
}

func generateSelfSignedCert(certPath, keyPath, domain string) error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}
	if domain == "" {
		domain = "localhost"
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"PyPNM GUI"},
			CommonName:   domain,
		},
		NotBefore:             now,
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{domain, "localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// redirectListener answers plain HTTP on the TLS port with a redirect to
// https:// instead of letting the handshake fail.
type redirectListener struct {
	net.Listener
	port int
}

func newRedirectListener(inner net.Listener, port int) net.Listener {
	return &redirectListener{Listener: inner, port: port}
}

func (l *redirectListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		pc := &peekConn{Conn: conn, reader: bufio.NewReader(conn)}
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		first, err := pc.reader.Peek(1)
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			conn.Close()
			continue
		}
		// 0x16 is the TLS handshake record type.
		if first[0] == 0x16 {
			return pc, nil
		}
		go l.redirect(pc)
	}
}

func (l *redirectListener) redirect(conn *peekConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req, err := http.ReadRequest(conn.reader)
	if err != nil {
		return
	}
	host := req.Host
	if host == "" {
		host = "localhost"
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if l.port != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(l.port))
	}
	target := "https://" + host + req.URL.RequestURI()

	body := fmt.Sprintf("<html><body>This server requires HTTPS: <a href=%q>%s</a></body></html>", target, target)
	fmt.Fprintf(conn, "HTTP/1.1 301 Moved Permanently\r\nLocation: %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		target, len(body), body)
	logDebug("Redirected plain HTTP to HTTPS", "remote_addr", conn.RemoteAddr().String(), "location", target)
}

type peekConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *peekConn) Read(b []byte) (int, error) {
	return c.reader.Read(b)
}
