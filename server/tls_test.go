package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestTLSConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     TLSConfig
		wantErr bool
	}{
		{"off", TLSConfig{Mode: TLSModeOff}, false},
		{"empty", TLSConfig{}, false},
		{"self-signed", TLSConfig{Mode: TLSModeSelfSigned}, false},
		{"custom without files", TLSConfig{Mode: TLSModeCustom}, true},
		{"custom", TLSConfig{Mode: TLSModeCustom, CertPath: "a.crt", KeyPath: "a.key"}, false},
		{"letsencrypt without tos", TLSConfig{Mode: TLSModeLetsEncrypt, Domain: "gui.example.net"}, true},
		{"letsencrypt without domain", TLSConfig{Mode: TLSModeLetsEncrypt, AcceptTOS: true}, true},
		{"unknown", TLSConfig{Mode: "acme"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelfSignedBuildReusesCertificate(t *testing.T) {
	t.Parallel()

	cfg := TLSConfig{Mode: TLSModeSelfSigned, Domain: "gui.lab", CertDir: filepath.Join(t.TempDir(), "certs")}
	first, mgr, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if mgr != nil {
		t.Error("self-signed mode returned an ACME manager")
	}
	if len(first.Certificates) != 1 || first.MinVersion != tls.VersionTLS12 {
		t.Fatalf("tls config = %+v", first)
	}
	second, _, err := cfg.Build()
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Certificates[0].Certificate[0]) != string(second.Certificates[0].Certificate[0]) {
		t.Error("second Build generated a new certificate")
	}
}

func TestRedirectListenerRedirectsPlainHTTP(t *testing.T) {
	t.Parallel()

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln := newRedirectListener(inner, 8443)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	conn, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprint(conn, "GET /api/health?x=1 HTTP/1.1\r\nHost: gui.lab:5050\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://gui.lab:8443/api/health?x=1" {
		t.Errorf("Location = %q", loc)
	}
}
