// Package daemon installs the flowcal daemon as a systemd service.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const unitTemplate = `[Unit]
Description=flowcal flow sensor calibration daemon
After=network.target

[Service]
Type=simple
ExecStart=/path/to/flowcal daemon --config=/path/to/config
Restart=on-failure
ExecReload=/bin/kill -HUP $MAINPID

[Install]
WantedBy=multi-user.target
`

var (
	unitPath = "/etc/systemd/system/flowcal.service"

	// systemctl runs systemctl with args. Replaced in tests.
	systemctl = func(args ...string) error {
		return exec.Command("systemctl", args...).Run()
	}
)

// Unit renders the service unit for the executable at exePath.
func Unit(exePath, configPath string) string {
	return strings.NewReplacer(
		"/path/to/flowcal", exePath,
		"/path/to/config", configPath,
	).Replace(unitTemplate)
}

// Install writes the service unit for the current executable, then enables
// and starts it.
func Install(configPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	dir := filepath.Dir(unitPath)
	logrus.Infof("writing service unit to %s", dir)

	// mkdir -p
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, []byte(Unit(exePath, configPath)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting flowcal")

	if err := systemctl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	if err := systemctl("enable", "--now", filepath.Base(unitPath)); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unitPath, err)
	}

	return nil
}
