// Package device drives a real Android device: adb for device-level
// plumbing and a WebDriver automation server for UI interaction.
package device

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ADB wraps the adb binary for a single device.
type ADB struct {
	serial  string
	adbPath string
}

// DeviceInfo describes a connected device.
type DeviceInfo struct {
	Serial     string `json:"serial"`
	State      string `json:"state"`
	Model      string `json:"model,omitempty"`
	SDK        string `json:"sdk,omitempty"`
	Brand      string `json:"brand,omitempty"`
	IsEmulator bool   `json:"emulator"`
}

// NewADB binds to the device with the given serial, auto-detecting the
// first connected device when serial is empty.
func NewADB(serial string) (*ADB, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}

	if serial == "" {
		serial, err = detectSerial(adbPath)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
	}

	a := &ADB{serial: serial, adbPath: adbPath}
	if err := a.waitForDevice(5 * time.Second); err != nil {
		return nil, fmt.Errorf("device not found: %w", err)
	}
	return a, nil
}

// ListDevices enumerates every device adb knows about, annotated with
// model and SDK where the device is reachable.
func ListDevices() ([]DeviceInfo, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}

	out, err := exec.Command(adbPath, "devices").Output()
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}

	var devices []DeviceInfo
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		info := DeviceInfo{Serial: parts[0], State: parts[1]}
		if info.State == "device" {
			a := &ADB{serial: info.Serial, adbPath: adbPath}
			if full, err := a.Info(); err == nil {
				info = full
			}
		}
		devices = append(devices, info)
	}
	return devices, nil
}

func detectSerial(adbPath string) (string, error) {
	out, err := exec.Command(adbPath, "devices").Output()
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no connected devices found")
}

// Serial returns the device serial number.
func (a *ADB) Serial() string {
	return a.serial
}

// Shell executes a shell command on the device.
func (a *ADB) Shell(cmd string) (string, error) {
	return a.run("shell", cmd)
}

// LaunchApp starts the given package, using an explicit activity when
// one is configured and the launcher intent otherwise.
func (a *ADB) LaunchApp(pkg, activity string) error {
	var err error
	if activity != "" {
		_, err = a.Shell(fmt.Sprintf("am start -n %s/%s", pkg, activity))
	} else {
		_, err = a.Shell(fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	}
	return err
}

// OpenLink fires a VIEW intent for the given URI.
func (a *ADB) OpenLink(uri string) error {
	_, err := a.Shell(fmt.Sprintf("am start -a android.intent.action.VIEW -d '%s'", uri))
	return err
}

// StopApp force-stops the given package.
func (a *ADB) StopApp(pkg string) error {
	_, err := a.Shell("am force-stop " + pkg)
	return err
}

// IsInstalled checks if a package is installed.
func (a *ADB) IsInstalled(pkg string) bool {
	out, err := a.Shell("pm list packages " + pkg)
	if err != nil {
		return false
	}
	return strings.Contains(out, "package:"+pkg)
}

// GrantPermission grants a runtime permission to the package. Errors
// are expected for permissions the app does not declare.
func (a *ADB) GrantPermission(pkg, permission string) error {
	_, err := a.Shell(fmt.Sprintf("pm grant %s %s", pkg, permission))
	return err
}

// ScreenSize reads the physical display size via wm size.
func (a *ADB) ScreenSize() (int, int, error) {
	out, err := a.Shell("wm size")
	if err != nil {
		return 0, 0, fmt.Errorf("wm size: %w", err)
	}

	// "Physical size: 1080x2400"
	out = strings.TrimSpace(out)
	if idx := strings.LastIndex(out, ":"); idx != -1 {
		out = strings.TrimSpace(out[idx+1:])
	}
	parts := strings.Split(out, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected wm size output: %s", out)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("cannot parse screen size: %s", out)
	}
	return w, h, nil
}

// Forward creates a TCP port forward from host to device.
func (a *ADB) Forward(localPort, remotePort int) error {
	_, err := a.run("forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a TCP port forward.
func (a *ADB) RemoveForward(localPort int) error {
	_, err := a.run("forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// Info returns device identity properties.
func (a *ADB) Info() (DeviceInfo, error) {
	info := DeviceInfo{Serial: a.serial, State: "device"}

	if model, err := a.Shell("getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := a.Shell("getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if brand, err := a.Shell("getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}
	qemu, _ := a.Shell("getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(qemu) == "1"

	return info, nil
}

func (a *ADB) run(args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if a.serial != "" {
		cmdArgs = append(cmdArgs, "-s", a.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command(a.adbPath, cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, errMsg)
	}
	return stdout.String(), nil
}

func (a *ADB) waitForDevice(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.isConnected() {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for device %s", a.serial)
}

func (a *ADB) isConnected() bool {
	out, err := a.run("get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the adb binary via PATH, then ANDROID_HOME.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	if home := os.Getenv("ANDROID_HOME"); home != "" {
		candidate := filepath.Join(home, "platform-tools", "adb")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
