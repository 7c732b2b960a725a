package emulator

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// BootStatus is a snapshot of the staged readiness checks.
type BootStatus struct {
	StateReady     bool // adb get-state == "device"
	BootCompleted  bool // sys.boot_completed == "1"
	SettingsReady  bool // settings service answers
	PackageManager bool // pm answers
}

// Ready reports whether every stage passed.
func (s BootStatus) Ready() bool {
	return s.StateReady && s.BootCompleted && s.SettingsReady && s.PackageManager
}

// Boot starts an AVD and waits until it is fully ready. Port conflicts
// advance to the next even console port and retry.
func (m *Manager) Boot(avdName string, timeout time.Duration) (string, error) {
	port := m.allocatePort(avdName)
	var lastErr error

	for attempt := 1; attempt <= maxBootAttempts; attempt++ {
		m.log.Info("starting emulator", map[string]interface{}{
			"avd":     avdName,
			"port":    port,
			"attempt": attempt,
		})

		serial, err := m.bootOnce(avdName, port, timeout)
		if err == nil {
			return serial, nil
		}
		lastErr = err

		if !isPortConflict(err) {
			return "", err
		}
		m.log.Warn("console port in use, trying next", map[string]interface{}{
			"avd":  avdName,
			"port": port,
		})
		port += 2
	}
	return "", fmt.Errorf("boot %s: no free console port after %d attempts: %w", avdName, maxBootAttempts, lastErr)
}

func (m *Manager) bootOnce(avdName string, port int, timeout time.Duration) (string, error) {
	emulatorPath, err := findEmulator()
	if err != nil {
		return "", err
	}

	serial := fmt.Sprintf("emulator-%d", port)
	start := time.Now()

	cmd := exec.Command(emulatorPath, //#nosec G204 -- binary resolved from the SDK
		"-avd", avdName,
		"-port", fmt.Sprintf("%d", port),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
		"-no-snapshot-load",
	)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start emulator process: %w", err)
	}

	if err := waitForDeviceState(serial, 60*time.Second); err != nil {
		_ = cmd.Process.Kill()
		return "", err
	}

	remaining := timeout - time.Since(start)
	if remaining < 30*time.Second {
		remaining = 30 * time.Second
	}
	if err := waitForBoot(serial, remaining); err != nil {
		_ = cmd.Process.Kill()
		return "", err
	}

	inst := &Instance{
		AVDName:      avdName,
		Serial:       serial,
		ConsolePort:  port,
		Process:      cmd,
		BootStart:    start,
		BootDuration: time.Since(start),
	}
	m.track(inst)

	m.log.Info("emulator booted", map[string]interface{}{
		"serial":   serial,
		"duration": inst.BootDuration.String(),
	})
	return serial, nil
}

func isPortConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "port") && strings.Contains(msg, "use")
}

// checkBootStatus runs the staged readiness probes.
func checkBootStatus(serial string) BootStatus {
	var status BootStatus

	out, err := exec.Command("adb", "-s", serial, "get-state").Output()
	status.StateReady = err == nil && strings.TrimSpace(string(out)) == "device"
	if !status.StateReady {
		return status
	}

	out, err = exec.Command("adb", "-s", serial, "shell", "getprop", "sys.boot_completed").Output()
	status.BootCompleted = err == nil && strings.TrimSpace(string(out)) == "1"

	_, err = exec.Command("adb", "-s", serial, "shell", "settings", "list", "global").Output()
	status.SettingsReady = err == nil

	_, err = exec.Command("adb", "-s", serial, "shell", "pm", "get-max-users").Output()
	status.PackageManager = err == nil

	return status
}

func waitForDeviceState(serial string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		out, err := exec.Command("adb", "-s", serial, "get-state").Output()
		if err == nil && strings.TrimSpace(string(out)) == "device" {
			return nil
		}
		<-ticker.C
	}
	return fmt.Errorf("device %s not visible to adb after %v", serial, timeout)
}

func waitForBoot(serial string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if checkBootStatus(serial).Ready() {
			return nil
		}
		<-ticker.C
	}

	status := checkBootStatus(serial)
	return fmt.Errorf("emulator %s boot timeout after %v (state:%v boot:%v settings:%v pm:%v)",
		serial, timeout, status.StateReady, status.BootCompleted, status.SettingsReady, status.PackageManager)
}

// Shutdown gracefully stops an emulator this manager booted. Serials
// the manager does not own are left alone.
func (m *Manager) Shutdown(serial string) error {
	inst := m.untrack(serial)
	if inst == nil {
		return nil
	}

	m.log.Info("shutting down emulator", map[string]interface{}{"serial": serial})

	if err := exec.Command("adb", "-s", serial, "emu", "kill").Run(); err != nil {
		m.log.Warn("adb emu kill failed", map[string]interface{}{
			"serial": serial,
			"error":  err.Error(),
		})
	}

	deadline := time.Now().Add(30 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if _, err := exec.Command("adb", "-s", serial, "get-state").Output(); err != nil {
			inst.BootDuration = time.Since(inst.BootStart)
			return nil
		}
		<-ticker.C
	}

	// Graceful kill timed out; we own the process, so kill it directly.
	if inst.Process != nil && inst.Process.Process != nil {
		if err := inst.Process.Process.Kill(); err != nil {
			return fmt.Errorf("force kill emulator %s: %w", serial, err)
		}
		return nil
	}
	return fmt.Errorf("emulator %s did not shut down", serial)
}

// ShutdownAll stops every emulator this manager booted, in parallel.
func (m *Manager) ShutdownAll() error {
	serials := m.Started()
	if len(serials) == 0 {
		return nil
	}

	errCh := make(chan error, len(serials))
	for _, serial := range serials {
		go func(s string) { errCh <- m.Shutdown(s) }(serial)
	}

	var errs []error
	for range serials {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("emulator shutdown: %v", errs)
	}
	return nil
}
