package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// requireRoot returns an error naming action if the process isn't running
// as root. Every privileged operation below (binary install, service
// install/uninstall) shares this check rather than repeating the uid test.
func requireRoot(action string) error {
	if os.Getuid() != 0 {
		return fmt.Errorf("root privileges required to %s", action)
	}
	return nil
}

// InstallBinary copies the binary at sourcePath into targetDir, naming it
// ripd and marking it executable. `ripd install` calls it on every
// platform; plain file I/O needs no per-platform variant.
func InstallBinary(sourcePath, targetDir string) error {
	if err := requireRoot("install binary"); err != nil {
		return err
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	targetPath := filepath.Join(targetDir, "ripd")

	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	target, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer target.Close()

	if _, err := target.ReadFrom(source); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	return nil
}
