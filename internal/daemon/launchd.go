//go:build darwin

// Package daemon provides platform service installers for ripd.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// launchdPlistTemplate's %s is the rendered <string> lines of the
// ProgramArguments array, built from ripd's actual argv (run <config_file>
// [--verbose]) instead of a fixed three-element template.
const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>net.ripd.daemon</string>
	<key>ProgramArguments</key>
	<array>
%s	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>/var/log/ripd.out.log</string>
	<key>StandardErrorPath</key>
	<string>/var/log/ripd.err.log</string>
	<key>WorkingDirectory</key>
	<string>/usr/local/bin</string>
</dict>
</plist>`

// LaunchdPlistPath is the path to the installed launchd plist file.
const LaunchdPlistPath = "/Library/LaunchDaemons/net.ripd.plist"

// LaunchdService manages ripd as a launchd daemon.
type LaunchdService struct {
	execPath   string
	configPath string
	verbose    bool
}

var _ PlatformService = (*LaunchdService)(nil)

// NewLaunchdService builds a LaunchdService targeting execPath/configPath.
// When verbose is set, the generated plist's ProgramArguments carry
// --verbose.
func NewLaunchdService(execPath, configPath string, verbose bool) *LaunchdService {
	return &LaunchdService{
		execPath:   execPath,
		configPath: configPath,
		verbose:    verbose,
	}
}

func (s *LaunchdService) programArguments() string {
	args := []string{s.execPath, "run", s.configPath}
	if s.verbose {
		args = append(args, "--verbose")
	}

	var b strings.Builder
	for _, a := range args {
		fmt.Fprintf(&b, "\t\t<string>%s</string>\n", a)
	}
	return b.String()
}

// Install writes and loads the launchd plist.
func (s *LaunchdService) Install() error {
	if err := requireRoot("install launchd service"); err != nil {
		return err
	}

	plist := fmt.Sprintf(launchdPlistTemplate, s.programArguments())
	if err := os.WriteFile(LaunchdPlistPath, []byte(plist), 0644); err != nil {
		return fmt.Errorf("failed to write plist file: %w", err)
	}

	if err := exec.Command("launchctl", "load", LaunchdPlistPath).Run(); err != nil {
		return fmt.Errorf("failed to load launchd service: %w", err)
	}

	return nil
}

// Uninstall unloads and removes the launchd plist.
func (s *LaunchdService) Uninstall() error {
	if err := requireRoot("uninstall launchd service"); err != nil {
		return err
	}

	if err := exec.Command("launchctl", "unload", LaunchdPlistPath).Run(); err != nil {
		fmt.Printf("Warning: failed to unload service: %v\n", err)
	}

	if err := os.Remove(LaunchdPlistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist file: %w", err)
	}

	return nil
}

// Start loads the plist, starting the daemon.
func (s *LaunchdService) Start() error {
	return exec.Command("launchctl", "load", LaunchdPlistPath).Run()
}

// Stop unloads the plist, stopping the daemon.
func (s *LaunchdService) Stop() error {
	return exec.Command("launchctl", "unload", LaunchdPlistPath).Run()
}

// Status reports whether launchd currently lists the daemon as loaded.
func (s *LaunchdService) Status() (string, error) {
	output, err := exec.Command("launchctl", "list", "net.ripd.daemon").Output()
	if err != nil {
		return "stopped", nil
	}
	if len(output) > 0 {
		return "running", nil
	}
	return "unknown", nil
}

// IsInstalled reports whether the plist file exists.
func (s *LaunchdService) IsInstalled() bool {
	_, err := os.Stat(LaunchdPlistPath)
	return err == nil
}
