package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/config"
)

// AgentConfig is the agent_config.json layout.
type AgentConfig struct {
	AgentID     string               `json:"agent_id"`
	PyPNMServer ServerConfig         `json:"pypnm_server"`
	CMTSAccess  CMTSAccessConfig     `json:"cmts_access"`
	CMProxy     sshexec.Host         `json:"cm_proxy"`
	TFTPServer  TFTPConfig           `json:"tftp_server"`
	SNMP        SNMPConfig           `json:"snmp"`
	SSH         SSHConfig            `json:"ssh"`
	Cache       CacheConfig          `json:"cache"`
	Logging     config.LoggingConfig `json:"logging"`
}

// ServerConfig is the backend WebSocket endpoint.
type ServerConfig struct {
	URL       string `json:"url"`
	AuthToken string `json:"auth_token"`
	// ReconnectInterval is the first retry delay in seconds.
	ReconnectInterval  int    `json:"reconnect_interval"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	CAPath             string `json:"ca_path,omitempty"`
}

// CMTSAccessConfig controls how the agent reaches CMTSes.
type CMTSAccessConfig struct {
	SNMPDirect bool   `json:"snmp_direct"`
	SSHEnabled bool   `json:"ssh_enabled"`
	SSHUser    string `json:"ssh_user,omitempty"`
	SSHKeyFile string `json:"ssh_key_file,omitempty"`
}

// TFTPConfig is the SSH login of the server receiving PNM uploads.
type TFTPConfig struct {
	sshexec.Host
	Path string `json:"tftp_path"`
}

// SNMPConfig holds defaults for commands that do not name them.
type SNMPConfig struct {
	Version        string `json:"version"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Retries        int    `json:"retries"`
}

// SSHConfig configures the SSH client shared by all jump-host neighbours.
type SSHConfig struct {
	ConfigFile            string `json:"config_file,omitempty"`
	KnownHostsFile        string `json:"known_hosts_file,omitempty"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking"`
}

// CacheConfig locates the modem list cache. An empty Dir keeps it in memory.
type CacheConfig struct {
	Dir        string `json:"dir,omitempty"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// DefaultAgentConfig returns the settings used when neither the file nor
// the environment says otherwise.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		AgentID: "agent-01",
		PyPNMServer: ServerConfig{
			URL:               "ws://127.0.0.1:5050/ws/agent",
			ReconnectInterval: 5,
		},
		CMTSAccess: CMTSAccessConfig{SNMPDirect: true},
		CMProxy:    sshexec.Host{Port: 22},
		TFTPServer: TFTPConfig{Host: sshexec.Host{Port: 22}, Path: "/tftpboot"},
		SNMP:       SNMPConfig{Version: "2c", TimeoutSeconds: 5, Retries: 1},
		SSH:        SSHConfig{StrictHostKeyChecking: true},
		Cache:      CacheConfig{TTLSeconds: 300},
		Logging:    config.LoggingConfig{Level: "info"},
	}
}

// LoadAgentConfig reads path when it exists and applies PYPNM_* overrides.
// A missing file is an error only when required is set.
func LoadAgentConfig(path string, required bool) (*AgentConfig, *config.SourceTracker, error) {
	cfg := DefaultAgentConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := config.LoadJSON(path, cfg); err != nil {
				return nil, nil, err
			}
		} else if required {
			return nil, nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	tracker := config.NewSourceTracker()
	applyEnv(cfg, tracker)
	config.ApplyLoggingEnvOverrides(&cfg.Logging, "PYPNM")
	return cfg, tracker, nil
}

func applyEnv(cfg *AgentConfig, t *config.SourceTracker) {
	t.String("PYPNM_AGENT_ID", "agent_id", &cfg.AgentID)
	t.String("PYPNM_SERVER_URL", "pypnm_server.url", &cfg.PyPNMServer.URL)
	t.String("PYPNM_AUTH_TOKEN", "pypnm_server.auth_token", &cfg.PyPNMServer.AuthToken)
	t.Int("PYPNM_RECONNECT_INTERVAL", "pypnm_server.reconnect_interval", &cfg.PyPNMServer.ReconnectInterval)
	t.Bool("PYPNM_INSECURE_SKIP_VERIFY", "pypnm_server.insecure_skip_verify", &cfg.PyPNMServer.InsecureSkipVerify)

	t.Bool("PYPNM_CMTS_SNMP_DIRECT", "cmts_access.snmp_direct", &cfg.CMTSAccess.SNMPDirect)
	t.Bool("PYPNM_CMTS_SSH_ENABLED", "cmts_access.ssh_enabled", &cfg.CMTSAccess.SSHEnabled)
	t.String("PYPNM_CMTS_SSH_USER", "cmts_access.ssh_user", &cfg.CMTSAccess.SSHUser)
	t.String("PYPNM_CMTS_SSH_KEY", "cmts_access.ssh_key_file", &cfg.CMTSAccess.SSHKeyFile)

	t.String("PYPNM_CM_PROXY_HOST", "cm_proxy.host", &cfg.CMProxy.Host)
	t.Int("PYPNM_CM_PROXY_PORT", "cm_proxy.port", &cfg.CMProxy.Port)
	t.String("PYPNM_CM_PROXY_USER", "cm_proxy.username", &cfg.CMProxy.User)
	t.String("PYPNM_CM_PROXY_KEY", "cm_proxy.key_file", &cfg.CMProxy.KeyFile)

	t.String("PYPNM_TFTP_SSH_HOST", "tftp_server.host", &cfg.TFTPServer.Host.Host)
	t.Int("PYPNM_TFTP_SSH_PORT", "tftp_server.port", &cfg.TFTPServer.Port)
	t.String("PYPNM_TFTP_SSH_USER", "tftp_server.username", &cfg.TFTPServer.User)
	t.String("PYPNM_TFTP_SSH_KEY", "tftp_server.key_file", &cfg.TFTPServer.KeyFile)
	t.String("PYPNM_TFTP_PATH", "tftp_server.tftp_path", &cfg.TFTPServer.Path)

	t.String("PYPNM_SNMP_VERSION", "snmp.version", &cfg.SNMP.Version)
	t.Int("PYPNM_SNMP_TIMEOUT", "snmp.timeout_seconds", &cfg.SNMP.TimeoutSeconds)
	t.Int("PYPNM_SNMP_RETRIES", "snmp.retries", &cfg.SNMP.Retries)

	t.String("PYPNM_SSH_CONFIG", "ssh.config_file", &cfg.SSH.ConfigFile)
	t.String("PYPNM_SSH_KNOWN_HOSTS", "ssh.known_hosts_file", &cfg.SSH.KnownHostsFile)
	t.Bool("PYPNM_SSH_STRICT_HOST_KEY_CHECKING", "ssh.strict_host_key_checking", &cfg.SSH.StrictHostKeyChecking)

	t.String("PYPNM_CACHE_DIR", "cache.dir", &cfg.Cache.Dir)
	t.Int("PYPNM_CACHE_TTL", "cache.ttl_seconds", &cfg.Cache.TTLSeconds)
}

// Validate rejects settings the agent cannot start with.
func (c *AgentConfig) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("agent_id is required"))
	}
	if c.PyPNMServer.URL == "" {
		errs = append(errs, errors.New("pypnm_server.url is required"))
	}
	if c.PyPNMServer.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("pypnm_server.reconnect_interval must be positive"))
	}
	if c.CMTSAccess.SSHEnabled && c.CMTSAccess.SSHUser == "" {
		errs = append(errs, errors.New("cmts_access.ssh_user is required when ssh_enabled is set"))
	}
	return errors.Join(errs...)
}

func (c *AgentConfig) reconnectInterval() time.Duration {
	return time.Duration(c.PyPNMServer.ReconnectInterval) * time.Second
}

func (c *AgentConfig) snmpTimeout() time.Duration {
	if c.SNMP.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SNMP.TimeoutSeconds) * time.Second
}

func (c *AgentConfig) cacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// cmtsSSH is the login template for cmts_command; the host comes from the
// command.
func (c *AgentConfig) cmtsSSH() sshexec.Host {
	return sshexec.Host{User: c.CMTSAccess.SSHUser, KeyFile: c.CMTSAccess.SSHKeyFile}
}
