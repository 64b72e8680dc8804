package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

const serviceName = "PyPNMGuiServer"

// program runs the server under the OS service manager.
type program struct {
	configPath string
	cancel     context.CancelFunc
	done       chan struct{}
	svcLogger  service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	p.info("PyPNM GUI server service starting")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := runServer(ctx, p.configPath, true); err != nil {
			if p.svcLogger != nil {
				p.svcLogger.Error(err)
			}
			logError("Server exited with error", "error", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.info("PyPNM GUI server service stop requested")
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
		p.info("PyPNM GUI server service stopped")
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("PyPNM GUI server service stopped with timeout")
		}
	}
	return nil
}

func (p *program) info(msg string) {
	if p.svcLogger != nil {
		p.svcLogger.Info(msg)
	}
}

func serviceWorkingDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "PyPNMGui", "server")
	case "darwin":
		return "/Library/Application Support/PyPNMGui/server"
	default:
		return "/var/lib/pypnmgui/server"
	}
}

func getServiceConfig(configPath string) *service.Config {
	args := []string{"--service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "PyPNM GUI Server",
		Description:      "Web backend for PyPNM cable modem diagnostics. Proxies PyPNM, relays jump-host agents and streams UTSC spectrum.",
		WorkingDirectory: serviceWorkingDir(),
		Arguments:        args,
		Option: service.KeyValue{
			"StartType":              "automatic",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",

			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillSignal":        "SIGTERM",

			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// setupServiceDirectories creates the system directories and writes a
// default config.toml on install.
func setupServiceDirectories() (string, error) {
	base := serviceWorkingDir()
	dirs := []string{base, filepath.Join(base, "cache")}
	var configPath string

	switch runtime.GOOS {
	case "windows", "darwin":
		dirs = append(dirs, filepath.Join(base, "logs"))
		configPath = filepath.Join(base, "config.toml")
	default:
		dirs = append(dirs, "/var/log/pypnmgui/server", "/etc/pypnmgui/server")
		configPath = "/etc/pypnmgui/server/config.toml"
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := WriteDefaultConfig(configPath); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to generate default config at %s: %w", configPath, err)
		}
		fmt.Printf("Configuration already exists at: %s\n", configPath)
	} else {
		fmt.Printf("Generated default configuration at: %s\n", configPath)
	}
	return configPath, nil
}

// handleServiceCommand runs one of install, uninstall, start, stop, restart
// or run against the OS service manager.
func handleServiceCommand(action, configPath string) error {
	prg := &program{configPath: configPath}

	if action == "install" {
		path, err := setupServiceDirectories()
		if err != nil {
			return err
		}
		if configPath == "" {
			configPath = path
		}
	}

	svc, err := service.New(prg, getServiceConfig(configPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch action {
	case "run":
		return svc.Run()
	case "install", "uninstall", "start", "stop", "restart":
		if err := service.Control(svc, action); err != nil {
			return fmt.Errorf("service %s failed: %w", action, err)
		}
		fmt.Printf("Service %s: %s\n", serviceName, action)
		return nil
	default:
		return fmt.Errorf("unknown service action %q (valid: %v)", action, service.ControlAction)
	}
}
