package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/common/config"
	"github.com/svdleer/PyPNMGui/server/handlers"
	"github.com/svdleer/PyPNMGui/server/inventory"
	"github.com/svdleer/PyPNMGui/server/storage"
)

// Config represents the server configuration
type Config struct {
	Server   ServerConfig           `toml:"server"`
	TLS      TLSConfig              `toml:"tls"`
	PyPNM    PyPNMConfig            `toml:"pypnm"`
	SNMP     SNMPConfig             `toml:"snmp"`
	Data     DataConfig             `toml:"data"`
	Agents   AgentsConfig           `toml:"agents"`
	AppDB    AppDBConfig            `toml:"appdb"`
	Lab      LabConfig              `toml:"lab"`
	Security SecurityConfig         `toml:"security"`
	Database storage.DatabaseConfig `toml:"database"`
	Logging  config.LoggingConfig   `toml:"logging"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Port                   int    `toml:"port"`
	BindAddress            string `toml:"bind_address"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	HistoryRetentionDays   int    `toml:"history_retention_days"`
}

// PyPNMConfig points at the external PyPNM API.
type PyPNMConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	TFTPIPv4       string `toml:"tftp_ipv4"`
	TFTPIPv6       string `toml:"tftp_ipv6"`
	TFTPPath       string `toml:"tftp_path"`
}

// SNMPConfig holds the default communities handed to PyPNM and agents.
type SNMPConfig struct {
	ModemCommunity     string `toml:"modem_community"`
	CMTSCommunity      string `toml:"cmts_community"`
	CMTSWriteCommunity string `toml:"cmts_write_community"`
	Version            string `toml:"version"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	Retries            int    `toml:"retries"`
}

// DataConfig selects the data source and where captures and plots live.
type DataConfig struct {
	Mode       string   `toml:"mode"` // mock, agent or direct
	DataDir    string   `toml:"data_dir"`
	PlotDir    string   `toml:"plot_dir"`
	CaptureDir string   `toml:"capture_dir"`
	CacheDir   string   `toml:"cache_dir"`
	PNMDirs    []string `toml:"pnm_dirs"`
}

// AgentsConfig controls the /ws/agent endpoint.
type AgentsConfig struct {
	Enabled            bool   `toml:"enabled"`
	AuthToken          string `toml:"auth_token"`
	MinVersion         string `toml:"min_version"`
	TaskTimeoutSeconds int    `toml:"task_timeout_seconds"`
}

// AppDBConfig is the CMTS inventory API.
type AppDBConfig struct {
	URL             string `toml:"url"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	VerifyTLS       bool   `toml:"verify_tls"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// LabConfig replaces the inventory API with a static CMTS list.
type LabConfig struct {
	Enabled bool                  `toml:"enabled"`
	Systems []inventory.LabSystem `toml:"systems"`
}

// SecurityConfig holds agent authentication rate limiting settings
type SecurityConfig struct {
	RateLimitEnabled       bool `toml:"rate_limit_enabled"`
	RateLimitMaxAttempts   int  `toml:"rate_limit_max_attempts"`
	RateLimitBlockMinutes  int  `toml:"rate_limit_block_minutes"`
	RateLimitWindowMinutes int  `toml:"rate_limit_window_minutes"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   5050,
			BindAddress:            "0.0.0.0",
			ShutdownTimeoutSeconds: 15,
			HistoryRetentionDays:   30,
		},
		TLS: TLSConfig{Mode: TLSModeOff},
		PyPNM: PyPNMConfig{
			URL:            "http://127.0.0.1:8000",
			TimeoutSeconds: 30,
			TFTPIPv4:       "192.168.1.100",
			TFTPPath:       "/tftpboot",
		},
		SNMP: SNMPConfig{
			ModemCommunity:     "private",
			CMTSCommunity:      "public",
			CMTSWriteCommunity: "private",
			Version:            "v2c",
			TimeoutSeconds:     5,
			Retries:            3,
		},
		Data: DataConfig{
			Mode:    handlers.ModeMock,
			DataDir: "/app/data",
			PlotDir: "/app/data/plots",
		},
		Agents: AgentsConfig{
			Enabled:            false,
			TaskTimeoutSeconds: 60,
		},
		AppDB: AppDBConfig{
			CacheTTLSeconds: int(inventory.DefaultTTL / time.Second),
		},
		Security: SecurityConfig{
			RateLimitEnabled:       true,
			RateLimitMaxAttempts:   5,
			RateLimitBlockMinutes:  5,
			RateLimitWindowMinutes: 2,
		},
		Logging: config.LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from TOML file with environment variable overrides.
// Returns the config and a tracker indicating which keys were set by environment variables.
func LoadConfig(configPath string) (*Config, *config.SourceTracker, error) {
	cfg := DefaultConfig()
	tracker := config.NewSourceTracker()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := config.LoadTOML(configPath, cfg); err != nil {
				return nil, nil, err
			}
		}
	}

	tracker.Int("SERVER_PORT", "server.port", &cfg.Server.Port)
	tracker.String("BIND_ADDRESS", "server.bind_address", &cfg.Server.BindAddress)

	var tlsMode string
	tracker.String("TLS_MODE", "tls.mode", &tlsMode)
	if tlsMode != "" {
		cfg.TLS.Mode = TLSMode(strings.ToLower(tlsMode))
	}
	tracker.String("TLS_DOMAIN", "tls.domain", &cfg.TLS.Domain)
	tracker.String("TLS_CERT_PATH", "tls.cert_path", &cfg.TLS.CertPath)
	tracker.String("TLS_KEY_PATH", "tls.key_path", &cfg.TLS.KeyPath)

	tracker.String("PYPNM_API_URL", "pypnm.url", &cfg.PyPNM.URL)
	tracker.Int("PYPNM_API_TIMEOUT", "pypnm.timeout_seconds", &cfg.PyPNM.TimeoutSeconds)
	tracker.String("TFTP_IPV4", "pypnm.tftp_ipv4", &cfg.PyPNM.TFTPIPv4)
	tracker.String("TFTP_IPV6", "pypnm.tftp_ipv6", &cfg.PyPNM.TFTPIPv6)
	tracker.String("TFTP_PATH", "pypnm.tftp_path", &cfg.PyPNM.TFTPPath)

	tracker.String("DEFAULT_SNMP_COMMUNITY", "snmp.modem_community", &cfg.SNMP.ModemCommunity)
	tracker.String("CMTS_SNMP_COMMUNITY", "snmp.cmts_community", &cfg.SNMP.CMTSCommunity)
	tracker.String("CMTS_SNMP_WRITE_COMMUNITY", "snmp.cmts_write_community", &cfg.SNMP.CMTSWriteCommunity)
	tracker.String("SNMP_VERSION", "snmp.version", &cfg.SNMP.Version)
	tracker.Int("SNMP_TIMEOUT", "snmp.timeout_seconds", &cfg.SNMP.TimeoutSeconds)
	tracker.Int("SNMP_RETRIES", "snmp.retries", &cfg.SNMP.Retries)

	tracker.String("DATA_MODE", "data.mode", &cfg.Data.Mode)
	tracker.String("PNM_DATA_DIR", "data.data_dir", &cfg.Data.DataDir)
	tracker.String("PNM_PLOT_DIR", "data.plot_dir", &cfg.Data.PlotDir)
	tracker.String("PNM_CAPTURE_DIR", "data.capture_dir", &cfg.Data.CaptureDir)
	tracker.String("CACHE_DIR", "data.cache_dir", &cfg.Data.CacheDir)
	if val := strings.TrimSpace(os.Getenv("PNM_DIRS")); val != "" {
		cfg.Data.PNMDirs = splitList(val)
		tracker.EnvKeys["data.pnm_dirs"] = true
	}

	tracker.Bool("ENABLE_AGENT_WEBSOCKET", "agents.enabled", &cfg.Agents.Enabled)
	tracker.String("AGENT_AUTH_TOKEN", "agents.auth_token", &cfg.Agents.AuthToken)
	tracker.String("AGENT_MIN_VERSION", "agents.min_version", &cfg.Agents.MinVersion)
	tracker.Int("AGENT_TASK_TIMEOUT", "agents.task_timeout_seconds", &cfg.Agents.TaskTimeoutSeconds)

	tracker.String("APPDB_API_URL", "appdb.url", &cfg.AppDB.URL)
	tracker.String("APPDB_USER", "appdb.user", &cfg.AppDB.User)
	tracker.String("APPDB_PASS", "appdb.password", &cfg.AppDB.Password)
	tracker.Bool("APPDB_VERIFY_TLS", "appdb.verify_tls", &cfg.AppDB.VerifyTLS)
	tracker.Int("APPDB_CACHE_TTL", "appdb.cache_ttl_seconds", &cfg.AppDB.CacheTTLSeconds)

	if val := strings.TrimSpace(os.Getenv("PYPNM_MODE")); val != "" {
		cfg.Lab.Enabled = strings.EqualFold(val, "lab")
		tracker.EnvKeys["lab.enabled"] = true
	}

	if config.ApplyLoggingEnvOverrides(&cfg.Logging, "SERVER") {
		tracker.EnvKeys["logging.level"] = true
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	tracker.String("SERVER_DB_PATH", "database.path", &cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, tracker, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Data.Mode {
	case handlers.ModeMock, handlers.ModeAgent, handlers.ModeDirect:
	default:
		return fmt.Errorf("invalid data mode %q (want mock, agent or direct)", c.Data.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.PyPNM.TimeoutSeconds <= 0 {
		return fmt.Errorf("pypnm.timeout_seconds must be positive")
	}
	return c.TLS.validate()
}

// Settings converts the config into what the HTTP handlers need.
func (c *Config) Settings() handlers.Settings {
	captureDir := c.Data.CaptureDir
	if captureDir == "" {
		captureDir = c.PyPNM.TFTPPath
	}
	pnmDirs := c.Data.PNMDirs
	if len(pnmDirs) == 0 {
		pnmDirs = []string{c.Data.DataDir, c.Data.PlotDir}
	}
	return handlers.Settings{
		DataMode:           c.Data.Mode,
		ModemCommunity:     c.SNMP.ModemCommunity,
		CMTSCommunity:      c.SNMP.CMTSCommunity,
		CMTSWriteCommunity: c.SNMP.CMTSWriteCommunity,
		TFTPIPv4:           c.PyPNM.TFTPIPv4,
		TFTPIPv6:           c.PyPNM.TFTPIPv6,
		DataDir:            c.Data.DataDir,
		PlotDir:            c.Data.PlotDir,
		CaptureDir:         captureDir,
		PNMDirs:            pnmDirs,
		AgentTimeout:       time.Duration(c.Agents.TaskTimeoutSeconds) * time.Second,
	}
}

// Effective returns the config as served on /api/config: secrets are
// masked and every key reports whether the environment set it.
func (c *Config) Effective(tracker *config.SourceTracker) map[string]interface{} {
	source := func(key string) string {
		if tracker != nil && tracker.EnvKeys[key] {
			return "env"
		}
		return "file"
	}
	entry := func(key string, value interface{}) map[string]interface{} {
		return map[string]interface{}{"value": value, "source": source(key)}
	}
	return map[string]interface{}{
		"server.port":                 entry("server.port", c.Server.Port),
		"tls.mode":                    entry("tls.mode", string(c.TLS.Mode)),
		"pypnm.url":                   entry("pypnm.url", c.PyPNM.URL),
		"pypnm.timeout_seconds":       entry("pypnm.timeout_seconds", c.PyPNM.TimeoutSeconds),
		"pypnm.tftp_ipv4":             entry("pypnm.tftp_ipv4", c.PyPNM.TFTPIPv4),
		"pypnm.tftp_ipv6":             entry("pypnm.tftp_ipv6", c.PyPNM.TFTPIPv6),
		"pypnm.tftp_path":             entry("pypnm.tftp_path", c.PyPNM.TFTPPath),
		"snmp.modem_community":        entry("snmp.modem_community", mask(c.SNMP.ModemCommunity)),
		"snmp.cmts_community":         entry("snmp.cmts_community", mask(c.SNMP.CMTSCommunity)),
		"snmp.cmts_write_community":   entry("snmp.cmts_write_community", mask(c.SNMP.CMTSWriteCommunity)),
		"snmp.version":                entry("snmp.version", c.SNMP.Version),
		"data.mode":                   entry("data.mode", c.Data.Mode),
		"data.data_dir":               entry("data.data_dir", c.Data.DataDir),
		"data.plot_dir":               entry("data.plot_dir", c.Data.PlotDir),
		"agents.enabled":              entry("agents.enabled", c.Agents.Enabled),
		"agents.auth_token":           entry("agents.auth_token", mask(c.Agents.AuthToken)),
		"agents.task_timeout_seconds": entry("agents.task_timeout_seconds", c.Agents.TaskTimeoutSeconds),
		"appdb.url":                   entry("appdb.url", c.AppDB.URL),
		"appdb.user":                  entry("appdb.user", c.AppDB.User),
		"appdb.password":              entry("appdb.password", mask(c.AppDB.Password)),
		"lab.enabled":                 entry("lab.enabled", c.Lab.Enabled),
		"logging.level":               entry("logging.level", c.Logging.Level),
	}
}

// mask keeps the first two characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + strings.Repeat("*", len(s)-2)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ':' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteDefaultConfig writes a default configuration file
func WriteDefaultConfig(configPath string) error {
	return config.WriteDefaultTOML(configPath, DefaultConfig())
}
