package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "PyPNMGuiAgent"

// program runs the agent under the OS service manager.
type program struct {
	flags     cliFlags
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	p.info("PyPNM GUI agent service starting")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := runAgent(ctx, p.flags, true); err != nil && p.svcLogger != nil {
			p.svcLogger.Error(err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.info("PyPNM GUI agent service stop requested")
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
		p.info("PyPNM GUI agent service stopped")
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("PyPNM GUI agent service stopped with timeout")
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
		return filepath.Join(os.Getenv("ProgramData"), "PyPNMGui", "agent")
	case "darwin":
		return "/Library/Application Support/PyPNMGui/agent"
	default:
		return "/var/lib/pypnmgui/agent"
	}
}

func getServiceConfig(configPath string) *service.Config {
	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "PyPNM GUI Agent",
		Description:      "Jump-host relay for the PyPNM GUI. Executes SNMP, SSH and CMTS PNM commands for the web backend.",
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

func setupServiceDirectories() error {
	dirs := []string{serviceWorkingDir()}
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		dirs = append(dirs, "/var/log/pypnmgui/agent", "/etc/pypnmgui/agent")
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// handleServiceCommand runs one of install, uninstall, start, stop, restart
// or run against the OS service manager.
func handleServiceCommand(action, configPath string) error {
	if action == "install" {
		if err := setupServiceDirectories(); err != nil {
			return err
		}
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}
	prg := &program{flags: cliFlags{configPath: configPath}}
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

func newServiceCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|run>",
		Short:     "Manage the agent as an OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleServiceCommand(args[0], flags.configPath)
		},
	}
}
