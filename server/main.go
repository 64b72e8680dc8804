// PyPNM GUI Server - web backend for the PyPNM cable modem dashboard.
// Proxies PyPNM, relays jump-host agents and streams UTSC spectrum.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/kardianos/service"

	"github.com/svdleer/PyPNMGui/common/cache"
	"github.com/svdleer/PyPNMGui/common/config"
	"github.com/svdleer/PyPNMGui/common/logger"
	"github.com/svdleer/PyPNMGui/common/snmp"
	"github.com/svdleer/PyPNMGui/common/ws"
	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/handlers"
	"github.com/svdleer/PyPNMGui/server/inventory"
	"github.com/svdleer/PyPNMGui/server/metrics"
	"github.com/svdleer/PyPNMGui/server/pypnm"
	"github.com/svdleer/PyPNMGui/server/storage"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var processStart = time.Now()

func main() {
	configFlag := flag.String("config", "config.toml", "Configuration file path")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	serviceCmd := flag.String("service", "", "Service control: install, uninstall, start, stop, restart, run")
	healthCheck := flag.Bool("health", false, "Probe /health on the local server and exit (container HEALTHCHECK)")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("PyPNM GUI Server %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	configPath := config.ResolveConfigPath("SERVER", *configFlag)

	if *healthCheck {
		p := *port
		if p == 0 {
			if cfg, _, err := LoadConfig(configPath); err == nil {
				p = cfg.Server.Port
			}
		}
		if err := handlers.RunHealthCheck(p); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if *generateConfig {
		if err := WriteDefaultConfig(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at %s\n", configPath)
		return
	}

	if *serviceCmd != "" {
		if err := handleServiceCommand(*serviceCmd, configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if !service.Interactive() {
		if err := handleServiceCommand("run", configPath); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *port != 0 {
		os.Setenv("SERVER_PORT", strconv.Itoa(*port))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runServer(ctx, configPath, false); err != nil {
		logFatal("Server failed", "error", err)
	}
}

// runServer wires every component and serves until ctx ends.
func runServer(ctx context.Context, configPath string, isService bool) error {
	cfg, tracker, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logDir, err := config.GetLogDirectory("server", isService)
	if err != nil {
		return err
	}
	serverLogger = logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	serverLogger.SetBaseName("server")
	serverLogger.SetRotationPolicy(logger.RotationPolicy{
		Enabled:    true,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxFiles:   5,
	})
	defer serverLogger.Close()
	storage.SetLogger(serverLogger)

	logInfo("PyPNM GUI server starting",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
		"config", configPath,
		"data_mode", cfg.Data.Mode)

	if cfg.Database.Path == "" && isService {
		cfg.Database.Path = filepath.Join(serviceWorkingDir(), "pypnmgui.db")
	}
	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()
	logInfo("History store ready", "path", cfg.Database.Path)

	cacheCfg := cache.InMemoryConfig()
	if cfg.Data.CacheDir != "" {
		cacheCfg = cache.DefaultConfig(cfg.Data.CacheDir)
	}
	cacheCfg.Logger = serverLog{}
	kv, err := cache.Open(cacheCfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer kv.Close()

	var inv *inventory.Provider
	if cfg.Data.Mode != handlers.ModeMock {
		inv, err = inventory.New(inventory.Options{
			APIURL:     cfg.AppDB.URL,
			User:       cfg.AppDB.User,
			Password:   cfg.AppDB.Password,
			VerifyTLS:  cfg.AppDB.VerifyTLS,
			TTL:        time.Duration(cfg.AppDB.CacheTTLSeconds) * time.Second,
			LabMode:    cfg.Lab.Enabled,
			LabSystems: cfg.Lab.Systems,
			Cache:      kv,
			Logger:     serverLog{},
		})
		if err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
	}

	m := metrics.New()
	client := pypnm.NewClient(pypnm.Options{
		BaseURL:  cfg.PyPNM.URL,
		Timeout:  time.Duration(cfg.PyPNM.TimeoutSeconds) * time.Second,
		TFTPIPv4: cfg.PyPNM.TFTPIPv4,
		TFTPIPv6: cfg.PyPNM.TFTPIPv6,
		Observer: m.ObservePyPNM,
	})

	hub := ws.NewHub()
	defer hub.Stop()

	manager, err := agents.NewManager(agents.Options{
		Token:      cfg.Agents.AuthToken,
		MinVersion: cfg.Agents.MinVersion,
		Logger:     serverLog{},
		Hooks:      agentHooks(store, hub, m),
	})
	if err != nil {
		return err
	}
	if cfg.Agents.Enabled && cfg.Agents.AuthToken == "" {
		logWarn("Agent WebSocket enabled without AGENT_AUTH_TOKEN; every agent will be rejected")
	}

	settings := cfg.Settings()
	mux := http.NewServeMux()

	handlers.NewHealthAPI(handlers.HealthAPIOptions{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		ProcessStart: processStart,
		DataMode:     cfg.Data.Mode,
		PyPNMURL:     cfg.PyPNM.URL,
		PyPNMCheck:   client.Health,
		AgentCount:   func() int { return len(manager.Agents()) },
	}).RegisterRoutes(mux)
	handlers.NewSystemAPI(
		func() map[string]interface{} { return cfg.Effective(tracker) },
		serverLogger.GetBufferFiltered,
	).RegisterRoutes(mux)
	handlers.NewPNMAPI(handlers.PNMAPIOptions{
		Client:   client,
		Settings: settings,
		History:  store,
		Logger:   serverLog{},
	}).RegisterRoutes(mux)
	handlers.NewModemAPI(handlers.ModemAPIOptions{
		Client:   client,
		Settings: settings,
		Logger:   serverLog{},
	}).RegisterRoutes(mux)
	handlers.NewUpstreamAPI(handlers.UpstreamAPIOptions{
		Agents:   manager,
		Settings: settings,
		History:  store,
		Logger:   serverLog{},
	}).RegisterRoutes(mux)
	handlers.NewCMTSAPI(handlers.CMTSAPIOptions{
		Inventory: inv,
		Agents:    manager,
		Settings:  settings,
		History:   store,
		Logger:    serverLog{},
	}).RegisterRoutes(mux)
	handlers.NewAgentsAPI(handlers.AgentsAPIOptions{
		Agents:   manager,
		Settings: settings,
		History:  store,
		Logger:   serverLog{},
	}).RegisterRoutes(mux)
	handlers.NewStreamAPI(handlers.StreamAPIOptions{
		Controller: captureController(cfg, client, manager),
		Files:      utsc.DirFiles(settings.CaptureDir),
		Settings:   settings,
		Hub:        hub,
		Agents:     manager,
		Metrics:    m,
		Logger:     serverLog{},
	}).RegisterRoutes(mux)

	var limiter *AuthRateLimiter
	if cfg.Security.RateLimitEnabled {
		limiter = NewAuthRateLimiter(
			cfg.Security.RateLimitMaxAttempts,
			time.Duration(cfg.Security.RateLimitBlockMinutes)*time.Minute,
			time.Duration(cfg.Security.RateLimitWindowMinutes)*time.Minute,
		)
		go limiter.Run(ctx, time.Minute)
		mux.HandleFunc("GET /api/agents/auth-stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(limiter.Stats())
		})
	}
	if cfg.Agents.Enabled {
		mux.Handle("GET /ws/agent", &agentSocket{manager: manager, limiter: limiter, store: store, metrics: m})
		go runAgentKeepalive(ctx, manager, 30*time.Second)
		logInfo("Agent WebSocket enabled", "path", "/ws/agent", "min_version", cfg.Agents.MinVersion)
	}
	mux.Handle("GET /metrics", m.Handler())

	collector := metrics.NewCollector(m, store, connectionCounter{agents: manager, hub: hub}, metrics.CollectorConfig{
		Retention: time.Duration(cfg.Server.HistoryRetentionDays) * 24 * time.Hour,
		Logger:    serverLog{},
	})
	collector.Start()
	defer collector.Stop()

	addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           instrument(mux, m),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          log.New(logBridgeWriter{level: logger.WARN}, "", 0),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	var acme *http.Server
	if cfg.TLS.Enabled() {
		tc, certManager, err := cfg.TLS.Build()
		if err != nil {
			ln.Close()
			return fmt.Errorf("tls: %w", err)
		}
		srv.TLSConfig = tc
		ln = newRedirectListener(ln, cfg.Server.Port)
		if certManager != nil && cfg.TLS.ACMEPort > 0 {
			acme = &http.Server{
				Addr:              net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.TLS.ACMEPort)),
				Handler:           certManager.HTTPHandler(nil),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := acme.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logError("ACME challenge listener failed", "error", err)
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			logInfo("Starting HTTPS server", "addr", addr, "tls_mode", cfg.TLS.Mode)
			err = srv.ServeTLS(ln, "", "")
		} else {
			logInfo("Starting HTTP server", "addr", addr)
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logInfo("Shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if acme != nil {
		acme.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logError("HTTP server shutdown error", "error", err)
	} else {
		logInfo("HTTP server stopped gracefully")
	}
	return nil
}

// captureController picks who drives UTSC captures for the data mode.
func captureController(cfg *Config, client *pypnm.Client, manager *agents.Manager) utsc.Controller {
	switch cfg.Data.Mode {
	case handlers.ModeAgent:
		return &utsc.AgentController{Agents: manager, Timeout: time.Duration(cfg.Agents.TaskTimeoutSeconds) * time.Second}
	case handlers.ModeDirect:
		return &utsc.SNMPController{
			Client:  snmp.NewClient(),
			Version: cfg.SNMP.Version,
			Timeout: time.Duration(cfg.SNMP.TimeoutSeconds) * time.Second,
			Retries: cfg.SNMP.Retries,
		}
	default:
		return &utsc.PyPNMController{Client: client, TFTPIPv4: cfg.PyPNM.TFTPIPv4}
	}
}

// instrument counts every request under the mux pattern that served it.
func instrument(mux *http.ServeMux, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		m.Instrument(pattern, mux.ServeHTTP)(w, r)
	})
}

type connectionCounter struct {
	agents *agents.Manager
	hub    *ws.Hub
}

func (c connectionCounter) AgentCount() int      { return len(c.agents.Agents()) }
func (c connectionCounter) SubscriberCount() int { return c.hub.Count() }
