package emulator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepguard-dev/stepguard/pkg/logger"
)

func TestIsEmulator(t *testing.T) {
	assert.True(t, IsEmulator("emulator-5554"))
	assert.False(t, IsEmulator("R58M1234567"))
	assert.False(t, IsEmulator(""))
}

func TestAllocatePortIsStablePerAVD(t *testing.T) {
	m := NewManager(logger.Nop())

	first := m.allocatePort("Pixel_7_API_33")
	assert.Equal(t, firstConsolePort, first)

	// Same AVD reuses its allocation; a second AVD gets the next even
	// port.
	assert.Equal(t, first, m.allocatePort("Pixel_7_API_33"))
	assert.Equal(t, first+2, m.allocatePort("Pixel_8_API_34"))
}

func TestTrackAndOwnership(t *testing.T) {
	m := NewManager(logger.Nop())

	m.track(&Instance{AVDName: "Pixel_7_API_33", Serial: "emulator-5554", ConsolePort: 5554})

	assert.True(t, m.Owns("emulator-5554"))
	assert.False(t, m.Owns("emulator-5556"))
	assert.Equal(t, []string{"emulator-5554"}, m.Started())

	inst := m.untrack("emulator-5554")
	assert.NotNil(t, inst)
	assert.False(t, m.Owns("emulator-5554"))
	assert.Nil(t, m.untrack("emulator-5554"))
}

func TestShutdownIgnoresForeignSerials(t *testing.T) {
	m := NewManager(logger.Nop())
	assert.NoError(t, m.Shutdown("emulator-5554"))
	assert.NoError(t, m.ShutdownAll())
}

func TestAndroidHomeEnvPrecedence(t *testing.T) {
	t.Setenv("ANDROID_HOME", "")
	t.Setenv("ANDROID_SDK_ROOT", "/opt/sdk")
	t.Setenv("ANDROID_SDK_HOME", "/home/user/.android")

	assert.Equal(t, "/opt/sdk", androidHome())

	t.Setenv("ANDROID_HOME", "/usr/local/android")
	assert.Equal(t, "/usr/local/android", androidHome())
}

func TestBootStatusReady(t *testing.T) {
	assert.False(t, BootStatus{}.Ready())
	assert.False(t, BootStatus{StateReady: true, BootCompleted: true}.Ready())
	assert.True(t, BootStatus{
		StateReady:     true,
		BootCompleted:  true,
		SettingsReady:  true,
		PackageManager: true,
	}.Ready())
}

func TestIsPortConflict(t *testing.T) {
	assert.True(t, isPortConflict(errors.New("console port 5554 already in use")))
	assert.False(t, isPortConflict(errors.New("avd not found")))
	assert.False(t, isPortConflict(nil))
}
