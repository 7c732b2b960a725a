package device

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Options configure an Android automation session.
type Options struct {
	// ServerURL is the WebDriver automation server base URL.
	ServerURL string

	// Serial selects the device; empty auto-detects.
	Serial string

	// AppPackage and AppActivity are the app under test. Terminate
	// actions and session restarts target this package.
	AppPackage  string
	AppActivity string

	// NoReset keeps app state across sessions.
	NoReset bool

	// ScreenshotDir is where captured frames land. Empty uses the
	// system temp directory.
	ScreenshotDir string

	// CommandTimeout bounds every server round trip.
	CommandTimeout time.Duration

	// LongPressMs and SwipeMs are gesture durations.
	LongPressMs int
	SwipeMs     int
}

// DefaultOptions returns session settings for a local Appium server.
func DefaultOptions() Options {
	return Options{
		ServerURL:      "http://127.0.0.1:4723",
		CommandTimeout: 2 * time.Minute,
		LongPressMs:    800,
		SwipeMs:        300,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ServerURL == "" {
		o.ServerURL = def.ServerURL
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = def.CommandTimeout
	}
	if o.LongPressMs <= 0 {
		o.LongPressMs = def.LongPressMs
	}
	if o.SwipeMs <= 0 {
		o.SwipeMs = def.SwipeMs
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = os.TempDir()
	}
	return o
}

// AndroidSession drives one Android device through a WebDriver server,
// with adb as the side channel for intents and display queries.
type AndroidSession struct {
	client *Client
	adb    *ADB
	opts   Options
	log    *logger.Logger

	screenW int
	screenH int
}

// Android keycodes for named keys.
var keycodes = map[string]int{
	"enter":     66,
	"back":      4,
	"home":      3,
	"recent":    187,
	"recents":   187,
	"overview":  187,
	"delete":    67,
	"backspace": 67,
	"space":     62,
	"tab":       61,
	"search":    84,
	"menu":      82,
	"escape":    111,
	"volumeup":  24,
	"volume_up": 24,
	"power":     26,
}

// NewAndroidSession connects to the automation server and opens a
// session. adb is optional: when unavailable, intent-based actions and
// the display-size fallback are disabled but the session still works.
func NewAndroidSession(opts Options, log *logger.Logger) (*AndroidSession, error) {
	opts = opts.withDefaults()
	log = log.WithComponent("device")

	adb, err := NewADB(opts.Serial)
	if err != nil {
		log.Warn("adb unavailable, intent actions disabled", map[string]interface{}{
			"error": err.Error(),
		})
		adb = nil
	}

	s := &AndroidSession{
		client: NewClient(opts.ServerURL, opts.CommandTimeout),
		adb:    adb,
		opts:   opts,
		log:    log,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AndroidSession) connect() error {
	caps := map[string]interface{}{
		"platformName":             "Android",
		"appium:automationName":    "UiAutomator2",
		"appium:newCommandTimeout": 300,
		"appium:noReset":           s.opts.NoReset,
	}
	if s.opts.Serial != "" {
		caps["appium:udid"] = s.opts.Serial
	}
	if s.opts.AppPackage != "" {
		caps["appium:appPackage"] = s.opts.AppPackage
	}
	if s.opts.AppActivity != "" {
		caps["appium:appActivity"] = s.opts.AppActivity
	}

	if err := s.client.Connect(caps); err != nil {
		return core.ErrSessionUnreachable.WithCause(err)
	}

	if w, h, err := s.client.WindowSize(); err == nil {
		s.screenW, s.screenH = w, h
	}

	s.log.Info("session started", map[string]interface{}{
		"session": s.client.SessionID(),
		"server":  s.opts.ServerURL,
	})
	return nil
}

// Snapshot returns the current UI hierarchy XML.
func (s *AndroidSession) Snapshot() (string, error) {
	xml, err := s.client.Source()
	if err != nil {
		return "", s.classify(err, "snapshot")
	}
	return xml, nil
}

// Screenshot captures the screen to a PNG file and returns its path.
func (s *AndroidSession) Screenshot() (string, error) {
	data, err := s.client.Screenshot()
	if err != nil {
		return "", s.classify(err, "screenshot")
	}

	path := filepath.Join(s.opts.ScreenshotDir, fmt.Sprintf("frame-%s.png", uuid.NewString()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// ScreenSize returns the device display dimensions, cached after the
// first successful query.
func (s *AndroidSession) ScreenSize() (int, int, error) {
	if s.screenW > 0 && s.screenH > 0 {
		return s.screenW, s.screenH, nil
	}

	w, h, err := s.client.WindowSize()
	if err != nil && s.adb != nil {
		w, h, err = s.adb.ScreenSize()
	}
	if err != nil {
		return 0, 0, s.classify(err, "screen size")
	}
	s.screenW, s.screenH = w, h
	return w, h, nil
}

// Dispatch executes one resolved action against the device. All
// failures come back in the result, never as a panic.
func (s *AndroidSession) Dispatch(a core.ResolvedAction) core.DispatchResult {
	start := time.Now()
	res := core.DispatchResult{Action: a, Attempts: 1}

	err := s.dispatch(a)
	res.Duration = time.Since(start)
	if err == nil {
		res.Status = core.DispatchSuccess
		return res
	}

	res.Detail = err.Error()
	if core.IsSessionError(s.classify(err, "dispatch")) {
		res.Status = core.DispatchError
	} else {
		res.Status = core.DispatchFailure
	}
	return res
}

func (s *AndroidSession) dispatch(a core.ResolvedAction) error {
	switch a.Kind {
	case core.ActionClick:
		if a.Point == nil {
			return fmt.Errorf("click without a point")
		}
		return s.client.Tap(a.Point.X, a.Point.Y)

	case core.ActionLongPress:
		if a.Point == nil {
			return fmt.Errorf("long press without a point")
		}
		return s.client.LongPress(a.Point.X, a.Point.Y, s.opts.LongPressMs)

	case core.ActionSwipe:
		if a.Point == nil || a.Point2 == nil {
			return fmt.Errorf("swipe needs two points")
		}
		return s.client.Swipe(a.Point.X, a.Point.Y, a.Point2.X, a.Point2.Y, s.opts.SwipeMs)

	case core.ActionType:
		return s.client.SendKeys(a.Text)

	case core.ActionKey:
		code, ok := keycodes[strings.ToLower(strings.TrimSpace(a.Button))]
		if !ok {
			return fmt.Errorf("unknown key %q", a.Button)
		}
		return s.client.PressKeyCode(code)

	case core.ActionSystemButton:
		code, ok := keycodes[strings.ToLower(strings.TrimSpace(a.Button))]
		if !ok {
			return fmt.Errorf("unknown system button %q", a.Button)
		}
		return s.client.PressKeyCode(code)

	case core.ActionOpen:
		return s.open(a.Text)

	case core.ActionWait:
		time.Sleep(a.WaitDuration())
		return nil

	case core.ActionTerminate:
		if s.opts.AppPackage == "" {
			return fmt.Errorf("no app package configured to terminate")
		}
		return s.client.TerminateApp(s.opts.AppPackage)

	default:
		return fmt.Errorf("unsupported action %q", a.Kind)
	}
}

// open launches an app by package name, or fires a VIEW intent when
// the target looks like a URI.
func (s *AndroidSession) open(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		target = s.opts.AppPackage
	}
	if target == "" {
		return fmt.Errorf("open without a target")
	}

	if strings.Contains(target, "://") {
		if s.adb == nil {
			return fmt.Errorf("cannot open link %q without adb", target)
		}
		return s.adb.OpenLink(target)
	}

	if err := s.client.ActivateApp(target); err != nil {
		if s.adb != nil {
			return s.adb.LaunchApp(target, s.opts.AppActivity)
		}
		return err
	}
	return nil
}

// HasSystemAlert reports whether a system alert dialog is on screen.
func (s *AndroidSession) HasSystemAlert() bool {
	text, err := s.client.AlertText()
	return err == nil && text != ""
}

// RestartSession tears down the current session and opens a fresh one.
func (s *AndroidSession) RestartSession() error {
	s.log.Warn("restarting session")
	if err := s.client.Disconnect(); err != nil {
		s.log.Debug("disconnect before restart failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.screenW, s.screenH = 0, 0
	return s.connect()
}

// Close ends the session.
func (s *AndroidSession) Close() error {
	return s.client.Disconnect()
}

// classify maps transport and protocol failures onto the engine's
// error categories so the caller can decide whether a restart helps.
func (s *AndroidSession) classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var perr *protocolError
	if errors.As(err, &perr) {
		switch perr.Name {
		case "invalid session id", "session not created", "no such driver":
			return core.ErrSessionCrashed.WithCause(err).WithDetails(map[string]interface{}{"op": op})
		}
		return core.ErrActionFailed.WithCause(err).WithDetails(map[string]interface{}{"op": op})
	}

	var nerr net.Error
	if errors.As(err, &nerr) || strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "EOF") {
		return core.ErrSessionUnreachable.WithCause(err).WithDetails(map[string]interface{}{"op": op})
	}
	return err
}
