// Package sshexec runs commands on the jump-host neighbours (CM proxy, TFTP
// server, CMTS CLI) over SSH. Host settings missing from the agent config
// are resolved from ~/.ssh/config.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoAuth is returned when neither an agent nor a usable key file exists.
var ErrNoAuth = errors.New("no SSH auth methods available")

// Host is one SSH endpoint. Empty fields are filled from ssh_config.
type Host struct {
	Host    string `json:"host"`
	Port    int    `json:"port,omitempty"`
	User    string `json:"username,omitempty"`
	KeyFile string `json:"key_file,omitempty"`
}

// Configured reports whether a host name is set.
func (h Host) Configured() bool { return strings.TrimSpace(h.Host) != "" }

// Result is the outcome of one remote command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// OK reports a zero exit status.
func (r *Result) OK() bool { return r != nil && r.ExitCode == 0 }

// Runner executes one command on a host.
type Runner interface {
	Run(ctx context.Context, h Host, cmd string) (*Result, error)
}

// Client is the x/crypto/ssh Runner. A connection is opened per command;
// the CM proxy batches its work into single commands.
type Client struct {
	// ConfigFile defaults to ~/.ssh/config.
	ConfigFile string
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile string
	// StrictHostKeyChecking rejects hosts missing from KnownHostsFile.
	// When false unknown host keys are accepted.
	StrictHostKeyChecking bool
	DialTimeout           time.Duration

	agentOnce   sync.Once
	agentClient agent.ExtendedAgent
}

// New returns a Client with strict host key checking.
func New() *Client {
	return &Client{StrictHostKeyChecking: true, DialTimeout: 10 * time.Second}
}

// settings are the resolved connection parameters for a Host.
type settings struct {
	hostname     string
	port         string
	user         string
	identityFile string
}

func (s settings) address() string { return net.JoinHostPort(s.hostname, s.port) }

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.Getenv("HOME")
}

func expandPath(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func currentUser() string {
	for _, k := range []string{"USER", "USERNAME", "LOGNAME"} {
		if u := os.Getenv(k); u != "" {
			return u
		}
	}
	return "root"
}

func (c *Client) configPath() string {
	if c.ConfigFile != "" {
		return expandPath(c.ConfigFile)
	}
	return filepath.Join(homeDir(), ".ssh", "config")
}

// resolve merges h with its ssh_config entry. Explicit fields win.
func (c *Client) resolve(h Host) settings {
	s := settings{hostname: h.Host, port: "22", user: currentUser()}

	if raw, err := os.ReadFile(c.configPath()); err == nil {
		if cfg, err := ssh_config.Decode(bytes.NewReader(raw)); err == nil {
			if v, _ := cfg.Get(h.Host, "HostName"); v != "" {
				s.hostname = v
			}
			if v, _ := cfg.Get(h.Host, "Port"); v != "" {
				s.port = v
			}
			if v, _ := cfg.Get(h.Host, "User"); v != "" {
				s.user = v
			}
			if v, _ := cfg.Get(h.Host, "IdentityFile"); v != "" {
				s.identityFile = expandPath(v)
			}
		}
	}

	if h.Port > 0 {
		s.port = strconv.Itoa(h.Port)
	}
	if h.User != "" {
		s.user = h.User
	}
	if h.KeyFile != "" {
		s.identityFile = expandPath(h.KeyFile)
	}
	return s
}

func (c *Client) sshAgent() agent.ExtendedAgent {
	c.agentOnce.Do(func() {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return
		}
		c.agentClient = agent.NewClient(conn)
	})
	return c.agentClient
}

func keyFileAuth(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ssh.PublicKeys(signer), nil
}

func (c *Client) authMethods(s settings) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if s.identityFile != "" {
		if m, err := keyFileAuth(s.identityFile); err == nil {
			methods = append(methods, m)
		}
	}
	if ag := c.sshAgent(); ag != nil {
		if signers, err := ag.Signers(); err == nil && len(signers) > 0 {
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		}
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(homeDir(), ".ssh", name)
		if path == s.identityFile {
			continue
		}
		if m, err := keyFileAuth(path); err == nil {
			methods = append(methods, m)
		}
	}
	return methods
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := c.KnownHostsFile
	if path == "" {
		path = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	path = expandPath(path)
	if _, err := os.Stat(path); err != nil {
		if c.StrictHostKeyChecking {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // strict checking disabled in config
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	if c.StrictHostKeyChecking {
		return cb, nil
	}
	// Known hosts are still verified; unknown ones pass.
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return nil
		}
		return err
	}, nil
}

func (c *Client) dial(ctx context.Context, h Host) (*ssh.Client, error) {
	if !h.Configured() {
		return nil, errors.New("ssh host not configured")
	}
	s := c.resolve(h)
	auth := c.authMethods(s)
	if len(auth) == 0 {
		return nil, fmt.Errorf("%s: %w", h.Host, ErrNoAuth)
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            s.user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", s.address())
	if err != nil {
		return nil, fmt.Errorf("can't reach %s at %s: %w", h.Host, s.address(), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, s.address(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", h.Host, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd on h. A non-zero exit status is reported in the Result,
// not as an error. Cancelling ctx closes the connection.
func (c *Client) Run(ctx context.Context, h Host, cmd string) (*Result, error) {
	client, err := c.dial(ctx, h)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run on %s: %w", h.Host, err)
		}
		res.ExitCode = exitErr.ExitStatus()
	}
	return res, nil
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
