package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteDefaultConfig(t *testing.T) {
	t.Parallel()

	t.Run("creates new config file", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := WriteDefaultConfig(configPath); err != nil {
			t.Fatalf("WriteDefaultConfig() failed: %v", err)
		}

		content, err := os.ReadFile(configPath)
		if err != nil {
			t.Fatalf("Failed to read config file: %v", err)
		}
		contentStr := string(content)
		for _, section := range []string{"[server]", "[pypnm]", "[snmp]", "[data]", "[agents]", "[database]", "[logging]"} {
			if !strings.Contains(contentStr, section) {
				t.Errorf("Config file missing expected section: %s", section)
			}
		}
		if !strings.Contains(contentStr, "port = 5050") {
			t.Error("Config file missing default port value")
		}
	})

	t.Run("does not overwrite existing config", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("# custom\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteDefaultConfig(configPath); err == nil {
			t.Error("Expected error when config file exists")
		}
		content, _ := os.ReadFile(configPath)
		if string(content) != "# custom\n" {
			t.Error("Existing config file was modified")
		}
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 8080

[pypnm]
url = "http://pypnm:8000"
timeout_seconds = 120

[data]
mode = "agent"

[agents]
enabled = true
auth_token = "s3cret-token"

[lab]
enabled = true

[[lab.systems]]
name = "lab-cmts"
ip = "172.16.6.1"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, tracker, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.PyPNM.URL != "http://pypnm:8000" || cfg.PyPNM.TimeoutSeconds != 120 {
		t.Errorf("file values not applied: %+v %+v", cfg.Server, cfg.PyPNM)
	}
	if !cfg.Agents.Enabled || cfg.Data.Mode != "agent" {
		t.Errorf("agents = %+v mode = %s", cfg.Agents, cfg.Data.Mode)
	}
	if len(cfg.Lab.Systems) != 1 || cfg.Lab.Systems[0].IP != "172.16.6.1" {
		t.Errorf("lab systems = %+v", cfg.Lab.Systems)
	}
	// Untouched sections keep their defaults.
	if cfg.SNMP.ModemCommunity != "private" || cfg.Security.RateLimitMaxAttempts != 5 {
		t.Errorf("defaults lost: %+v %+v", cfg.SNMP, cfg.Security)
	}

	eff := cfg.Effective(tracker)
	token := eff["agents.auth_token"].(map[string]interface{})
	if token["value"] != "s3**********" || token["source"] != "file" {
		t.Errorf("auth token entry = %v", token)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "6060")
	t.Setenv("PYPNM_API_URL", "http://10.0.0.9:8000")
	t.Setenv("DATA_MODE", "direct")
	t.Setenv("ENABLE_AGENT_WEBSOCKET", "true")
	t.Setenv("AGENT_AUTH_TOKEN", "abc")
	t.Setenv("PYPNM_MODE", "lab")
	t.Setenv("PNM_DIRS", "/data/a, /data/b")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, tracker, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Port != 6060 || cfg.PyPNM.URL != "http://10.0.0.9:8000" || cfg.Data.Mode != "direct" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if !cfg.Agents.Enabled || cfg.Agents.AuthToken != "abc" || !cfg.Lab.Enabled {
		t.Errorf("agents/lab = %+v %+v", cfg.Agents, cfg.Lab)
	}
	if len(cfg.Data.PNMDirs) != 2 || cfg.Data.PNMDirs[1] != "/data/b" {
		t.Errorf("pnm dirs = %v", cfg.Data.PNMDirs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	for _, key := range []string{"server.port", "pypnm.url", "data.mode", "agents.enabled", "lab.enabled", "data.pnm_dirs", "logging.level"} {
		if !tracker.EnvKeys[key] {
			t.Errorf("%s not tracked as env-set", key)
		}
	}
	if tracker.EnvKeys["snmp.version"] {
		t.Error("snmp.version should come from defaults")
	}
	if got := cfg.Effective(tracker)["agents.auth_token"].(map[string]interface{})["value"]; got != "****" {
		t.Errorf("short token should be fully masked, got %v", got)
	}
}

func TestLoadConfigRejectsBadMode(t *testing.T) {
	t.Setenv("DATA_MODE", "fake")
	if _, _, err := LoadConfig(""); err == nil {
		t.Fatal("expected invalid data mode to fail")
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Agents.TaskTimeoutSeconds = 45
	s := cfg.Settings()
	if s.CaptureDir != "/tftpboot" {
		t.Errorf("capture dir should default to the TFTP path, got %q", s.CaptureDir)
	}
	if len(s.PNMDirs) != 2 || s.PNMDirs[0] != "/app/data" {
		t.Errorf("pnm dirs = %v", s.PNMDirs)
	}
	if s.AgentTimeout != 45*time.Second || s.CMTSWriteCommunity != "private" {
		t.Errorf("settings = %+v", s)
	}
}
