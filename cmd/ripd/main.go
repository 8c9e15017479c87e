// Command ripd is a distance-vector routing daemon: one instance per
// simulated router, discovering and maintaining shortest paths to every
// other router over loopback UDP via Bellman-Ford with split-horizon and
// poisoned reverse.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dpeckett/ripd/internal/config"
	"github.com/dpeckett/ripd/internal/daemon"
	"github.com/dpeckett/ripd/internal/engine"
	"github.com/dpeckett/ripd/internal/logger"
)

var version = "1.0.0"

var verboseMode bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "ripd",
		Short: "Distance-vector routing daemon",
		Long:  `ripd runs one router of a distance-vector routing simulation, exchanging periodic and triggered updates with its configured neighbours over loopback UDP.`,
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "Verbose mode (debug level logging)")

	var loadFlag bool
	runCmd := &cobra.Command{
		Use:   "run <config_file>",
		Short: "Run the router using the given configuration file",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			runRouter(args[0], loadFlag)
		},
	}
	runCmd.Flags().BoolVar(&loadFlag, "load", false, "Restore a previously persisted routing table before starting")

	validateCmd := &cobra.Command{
		Use:   "validate <config_file>",
		Short: "Validate a configuration file without starting the router",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			validateConfig(args[0])
		},
	}

	convergeCmd := &cobra.Command{
		Use:   "converge <config_file> <expected_table.json>",
		Short: "Run one convergence self-check against an expected routing table",
		Args:  cobra.ExactArgs(2),
		Run: func(_ *cobra.Command, args []string) {
			runConvergeCheck(args[0], args[1])
		},
	}

	installCmd := &cobra.Command{
		Use:   "install <config_file>",
		Short: "Install ripd as a system service",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			installService(args[0])
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the ripd system service",
		Run: func(_ *cobra.Command, _ []string) {
			uninstallService()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show system service status",
		Run: func(_ *cobra.Command, _ []string) {
			showStatus()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			showVersion()
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd, convergeCmd, installCmd, uninstallCmd, statusCmd, versionCmd)

	// Preserve the legacy positional form `ripd <config_file> [load] [verbose]`
	// from the original implementation, when the first argument isn't one
	// of the known subcommands or flags.
	knownSubcommands := map[string]bool{
		"run": true, "validate": true, "converge": true,
		"install": true, "uninstall": true, "status": true, "version": true,
		"help": true, "completion": true,
	}
	if len(os.Args) > 1 && os.Args[1][0] != '-' && !knownSubcommands[os.Args[1]] {
		runLegacyPositional(os.Args[1:])
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logLevel() string {
	if verboseMode {
		return "debug"
	}
	return "info"
}

func loadConfigOrExit(log *logger.Logger, path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(exitCodeFor(err))
	}
	return cfg
}

// exitCodeFor mirrors the source implementation's distinct exit codes for
// malformed (11) versus incomplete (1) configuration.
func exitCodeFor(err error) int {
	if cerr, ok := err.(*config.Error); ok && cerr.Kind == config.KindMalformed {
		return 11
	}
	return 1
}

func runRouter(path string, load bool) {
	log := logger.New(logLevel())
	cfg := loadConfigOrExit(log, path)

	sm, err := daemon.NewServiceManager(cfg, log, load)
	if err != nil {
		log.Error("failed to create service manager", "error", err)
		os.Exit(1)
	}

	if err := sm.Start(); err != nil {
		log.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	if err := sm.Wait(); err != nil {
		var bindErr *engine.BindError
		if errors.As(err, &bindErr) {
			log.Error("failed to bind input port", "error", err)
			os.Exit(12)
		}
		log.Error("router stopped with error", "error", err)
		os.Exit(1)
	}
}

// runLegacyPositional supports `ripd <config_file> [load] [verbose]`, the
// calling convention of the original implementation, so existing
// invocations keep working unmodified.
func runLegacyPositional(args []string) {
	load := false
	for _, a := range args[1:] {
		switch a {
		case "load":
			load = true
		case "verbose":
			verboseMode = true
		}
	}
	runRouter(args[0], load)
}

func validateConfig(path string) {
	log := logger.New(logLevel())
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
	log.ConfigLoaded(path, cfg.RouterID, len(cfg.Neighbours), len(cfg.InputPorts))
	fmt.Println("configuration is valid")
}

func runConvergeCheck(configPath, expectedPath string) {
	log := logger.New(logLevel())
	cfg := loadConfigOrExit(log, configPath)
	cfg.ExpectedTablePath = expectedPath

	sm, err := daemon.NewServiceManager(cfg, log, true)
	if err != nil {
		log.Error("failed to create service manager", "error", err)
		os.Exit(1)
	}

	res, err := sm.RunConvergenceCheck()
	if err != nil {
		fmt.Fprintf(os.Stderr, "convergence check failed: %v\n", err)
		os.Exit(1)
	}
	if !res.Converged {
		fmt.Printf("NOT CONVERGED:\n%s\n", res.Diff)
		os.Exit(2)
	}
	fmt.Println("converged")
}

func installService(configPath string) {
	if os.Getuid() != 0 {
		fmt.Fprintf(os.Stderr, "Error: install command requires root privileges\n")
		fmt.Printf("Please run: sudo ripd install %s\n", configPath)
		os.Exit(1)
	}

	currentExecPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	installDir := "/usr/local/bin"
	if err := daemon.InstallBinary(currentExecPath, installDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to install binary: %v\n", err)
		os.Exit(1)
	}
	targetPath := filepath.Join(installDir, "ripd")

	fmt.Printf("Installing system service...\n")
	service := daemon.NewPlatformService(targetPath, configPath, verboseMode)
	if err := service.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to install service: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service installed successfully (%s)\n", runtime.GOOS)
}

func uninstallService() {
	if os.Getuid() != 0 {
		fmt.Fprintf(os.Stderr, "Error: uninstall command requires root privileges\n")
		fmt.Printf("Please run: sudo ripd uninstall\n")
		os.Exit(1)
	}

	fmt.Printf("Uninstalling system service...\n")
	service := daemon.NewPlatformService("", "", false)
	if err := service.Uninstall(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to uninstall service: %v\n", err)
	} else {
		fmt.Printf("System service uninstalled\n")
	}

	systemBinPath := "/usr/local/bin/ripd"
	if _, err := os.Stat(systemBinPath); err == nil {
		if err := os.Remove(systemBinPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove binary: %v\n", err)
		} else {
			fmt.Printf("Binary file removed\n")
		}
	}
}

func showStatus() {
	service := daemon.NewPlatformService("", "", false)
	status, err := service.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get service status: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service status: %s\n", status)
	fmt.Printf("Service installed: %t\n", service.IsInstalled())
}

func showVersion() {
	fmt.Printf("ripd v%s\n", version)
	fmt.Printf("Runtime: %s\n", runtime.Version())
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
