// Package emulator manages Android Virtual Devices: discovery, boot
// with staged readiness verification, and shutdown of emulators this
// process started.
package emulator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/logger"
)

const (
	// Console ports are even numbers starting at 5554; adb listens on
	// console+1.
	firstConsolePort = 5554
	maxBootAttempts  = 5
)

// AVD is one installed virtual device.
type AVD struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Instance tracks one emulator booted by this manager.
type Instance struct {
	AVDName      string
	Serial       string
	ConsolePort  int
	Process      *exec.Cmd
	BootStart    time.Time
	BootDuration time.Duration
}

// Manager boots and shuts down emulators, remembering which ones it
// owns so external emulators are never touched.
type Manager struct {
	mu      sync.Mutex
	ports   map[string]int       // AVD name -> console port
	started map[string]*Instance // serial -> instance
	log     *logger.Logger
}

// NewManager returns an empty manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		ports:   make(map[string]int),
		started: make(map[string]*Instance),
		log:     log.WithComponent("emulator"),
	}
}

// IsEmulator reports whether a device serial names an emulator.
func IsEmulator(serial string) bool {
	return strings.HasPrefix(serial, "emulator-")
}

// androidHome resolves the SDK root from the usual environment
// variables.
func androidHome() string {
	for _, key := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		if home := os.Getenv(key); home != "" {
			return home
		}
	}
	return ""
}

// findEmulator locates the emulator binary in the SDK or on PATH.
func findEmulator() (string, error) {
	if home := androidHome(); home != "" {
		for _, rel := range []string{
			filepath.Join("emulator", "emulator"),
			filepath.Join("tools", "emulator"), // pre-2017 SDK layout
		} {
			p := filepath.Join(home, rel)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	if p, err := exec.LookPath("emulator"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("emulator binary not found: set ANDROID_HOME or add emulator to PATH")
}

// List enumerates installed AVDs, marking the ones this manager booted
// as running.
func (m *Manager) List() ([]AVD, error) {
	emulatorPath, err := findEmulator()
	if err != nil {
		return nil, err
	}

	out, err := exec.Command(emulatorPath, "-list-avds").Output() //#nosec G204 -- binary resolved from the SDK
	if err != nil {
		return nil, fmt.Errorf("list AVDs: %w", err)
	}

	running := map[string]bool{}
	m.mu.Lock()
	for _, inst := range m.started {
		running[inst.AVDName] = true
	}
	m.mu.Unlock()

	var avds []AVD
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		avds = append(avds, AVD{Name: name, Running: running[name]})
	}
	return avds, nil
}

// allocatePort hands out the console port for an AVD, reusing the
// session allocation when the same AVD boots twice.
func (m *Manager) allocatePort(avdName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if port, ok := m.ports[avdName]; ok {
		return port
	}

	next := firstConsolePort
	for _, port := range m.ports {
		if port >= next {
			next = port + 2
		}
	}
	m.ports[avdName] = next
	return next
}

// Owns reports whether this manager booted the given serial.
func (m *Manager) Owns(serial string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.started[serial]
	return ok
}

// Started returns the serials of every emulator this manager booted.
func (m *Manager) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	serials := make([]string, 0, len(m.started))
	for serial := range m.started {
		serials = append(serials, serial)
	}
	return serials
}

func (m *Manager) track(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[inst.Serial] = inst
	m.ports[inst.AVDName] = inst.ConsolePort
}

func (m *Manager) untrack(serial string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.started[serial]
	delete(m.started, serial)
	return inst
}
