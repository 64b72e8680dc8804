// Command pypnm-agent is the jump-host relay for the PyPNM GUI backend. It
// dials out to the backend over WebSocket and runs SNMP, SSH and CMTS PNM
// commands on its behalf.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Masterminds/semver/v3"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/svdleer/PyPNMGui/agent/agent"
	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/cache"
	"github.com/svdleer/PyPNMGui/common/config"
	"github.com/svdleer/PyPNMGui/common/logger"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// cliFlags are the command-line overrides; they win over file and env.
type cliFlags struct {
	configPath string
	url        string
	token      string
	agentID    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	root := &cobra.Command{
		Use:   "pypnm-agent",
		Short: "PyPNM GUI jump-host agent",
		Long: `Connect to the PyPNM GUI backend and execute SNMP, SSH and CMTS
PNM commands from a host that can reach the cable plant.

Settings come from the JSON config file, then PYPNM_* environment
variables, then flags.

Examples:
  pypnm-agent -c /etc/pypnmgui/agent/agent_config.json
  pypnm-agent --url wss://gui.example.net/ws/agent --token s3cret -v`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.Interactive() {
				return handleServiceCommand("run", flags.configPath)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, flags, false)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "Path to agent_config.json")
	root.Flags().StringVar(&flags.url, "url", "", "Backend WebSocket URL (overrides config)")
	root.Flags().StringVar(&flags.token, "token", "", "Agent auth token (overrides config)")
	root.Flags().StringVar(&flags.agentID, "agent-id", "", "Agent ID (overrides config)")
	root.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(newServiceCmd(&flags), newVersionCmd(), newCheckConfigCmd(&flags))
	return root
}

func defaultConfigPath() string {
	return config.ResolveConfigPath("PYPNM_AGENT", "agent_config.json")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PyPNM GUI Agent %s\n", agentVersion())
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newCheckConfigCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tracker, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			fmt.Printf("agent_id:     %s\n", cfg.AgentID)
			fmt.Printf("server:       %s\n", cfg.PyPNMServer.URL)
			fmt.Printf("cm_proxy:     %s\n", orNone(cfg.CMProxy.Host))
			fmt.Printf("tftp_server:  %s\n", orNone(cfg.TFTPServer.Host.Host))
			fmt.Printf("snmp_direct:  %v\n", cfg.CMTSAccess.SNMPDirect)
			fmt.Printf("env override: %d key(s)\n", len(tracker.EnvKeys))
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

// agentVersion normalizes Version to semver so the backend's minimum
// version check can parse it.
func agentVersion() string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return "0.0.0-" + Version
	}
	return v.String()
}

func loadConfig(flags cliFlags) (*AgentConfig, *config.SourceTracker, error) {
	explicit := flags.configPath != defaultConfigPath()
	cfg, tracker, err := LoadAgentConfig(flags.configPath, explicit)
	if err != nil {
		return nil, nil, err
	}
	if flags.url != "" {
		cfg.PyPNMServer.URL = flags.url
	}
	if flags.token != "" {
		cfg.PyPNMServer.AuthToken = flags.token
	}
	if flags.agentID != "" {
		cfg.AgentID = flags.agentID
	}
	if flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, tracker, nil
}

func tlsConfig(cfg ServerConfig) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read ca_path: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_path %s holds no certificates", cfg.CAPath)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// runAgent wires the dispatcher and client and blocks until ctx ends.
func runAgent(ctx context.Context, flags cliFlags, isService bool) error {
	cfg, tracker, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logDir, err := config.GetLogDirectory("agent", isService)
	if err != nil {
		logDir = "logs"
	}
	log := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	log.SetBaseName("agent")
	log.SetRotationPolicy(logger.RotationPolicy{Enabled: true, MaxSizeMB: 10, MaxAgeDays: 7, MaxFiles: 5})
	defer log.Close()

	version := agentVersion()
	log.Info("PyPNM GUI agent starting", "version", version, "agent_id", cfg.AgentID, "server", cfg.PyPNMServer.URL)
	for key := range tracker.EnvKeys {
		log.Debug("Config from environment", "key", key)
	}
	if cfg.PyPNMServer.AuthToken == "" {
		log.Warn("No auth token configured; the backend will reject this agent")
	}

	cacheCfg := cache.InMemoryConfig()
	if cfg.Cache.Dir != "" {
		cacheCfg = cache.DefaultConfig(cfg.Cache.Dir)
	}
	cacheCfg.Logger = log
	store, err := cache.Open(cacheCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sshClient := sshexec.New()
	sshClient.ConfigFile = cfg.SSH.ConfigFile
	sshClient.KnownHostsFile = cfg.SSH.KnownHostsFile
	sshClient.StrictHostKeyChecking = cfg.SSH.StrictHostKeyChecking
	if !cfg.SSH.StrictHostKeyChecking {
		log.Warn("SSH host key checking relaxed; unknown hosts are accepted")
	}

	dispatcher := agent.NewDispatcher(agent.DispatcherOptions{
		SNMP: snmp.NewClient(),
		SNMPDefaults: agent.SNMPDefaults{
			Version: cfg.SNMP.Version,
			Timeout: cfg.snmpTimeout(),
			Retries: cfg.SNMP.Retries,
		},
		SNMPDirect:     cfg.CMTSAccess.SNMPDirect,
		SSH:            sshClient,
		CMProxy:        cfg.CMProxy,
		TFTP:           cfg.TFTPServer.Host,
		TFTPPath:       cfg.TFTPServer.Path,
		CMTSSSH:        cfg.cmtsSSH(),
		CMTSSSHEnabled: cfg.CMTSAccess.SSHEnabled,
		Cache:          store,
		CacheTTL:       cfg.cacheTTL(),
		Logger:         log,
	})
	log.Info("Capabilities", "list", dispatcher.Capabilities())

	tc, err := tlsConfig(cfg.PyPNMServer)
	if err != nil {
		return err
	}
	client, err := agent.NewClient(agent.ClientOptions{
		AgentID:           cfg.AgentID,
		ServerURL:         cfg.PyPNMServer.URL,
		Token:             cfg.PyPNMServer.AuthToken,
		Version:           version,
		TLSConfig:         tc,
		ReconnectInterval: cfg.reconnectInterval(),
		Executor:          dispatcher,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	err = client.Run(ctx)
	log.Info("PyPNM GUI agent stopped", "sessions", client.Sessions())
	if ctx.Err() != nil {
		return nil
	}
	return err
}
