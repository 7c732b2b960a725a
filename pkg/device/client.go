package device

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client speaks the W3C WebDriver protocol to an automation server
// (Appium with the UiAutomator2 driver, or anything wire-compatible).
type Client struct {
	serverURL string
	sessionID string
	http      *http.Client
}

// NewClient creates a client for the given server URL. No session is
// opened until Connect.
func NewClient(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		http:      &http.Client{Timeout: timeout},
	}
}

// SessionID returns the active session ID, empty when disconnected.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Connect opens a session with the given capabilities.
func (c *Client) Connect(capabilities map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	resp, err := c.post("/session", body)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid session response")
	}
	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}
	return nil
}

// Disconnect ends the session. Safe to call when no session is open.
func (c *Client) Disconnect() error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.delete(c.sessionPath())
	c.sessionID = ""
	return err
}

// Status reports whether the server is up and ready.
func (c *Client) Status() (bool, error) {
	resp, err := c.get("/status")
	if err != nil {
		return false, err
	}
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if ready, ok := value["ready"].(bool); ok {
			return ready, nil
		}
	}
	return true, nil
}

// Source returns the current UI hierarchy XML.
func (c *Client) Source() (string, error) {
	resp, err := c.get(c.sessionPath() + "/source")
	if err != nil {
		return "", err
	}
	source, _ := resp["value"].(string)
	return source, nil
}

// Screenshot returns the current screen as PNG bytes.
func (c *Client) Screenshot() ([]byte, error) {
	resp, err := c.get(c.sessionPath() + "/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// WindowSize returns the viewport dimensions.
func (c *Client) WindowSize() (int, int, error) {
	resp, err := c.get(c.sessionPath() + "/window/rect")
	if err != nil {
		return 0, 0, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return 0, 0, fmt.Errorf("invalid window rect response")
	}
	w, _ := value["width"].(float64)
	h, _ := value["height"].(float64)
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid window rect %vx%v", w, h)
	}
	return int(w), int(h), nil
}

// AlertText returns the text of an open system alert. Errors when no
// alert is showing, which is the common case.
func (c *Client) AlertText() (string, error) {
	resp, err := c.get(c.sessionPath() + "/alert/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// Tap performs a single tap at device coordinates.
func (c *Client) Tap(x, y int) error {
	return c.performPointerActions([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerUp", "button": 0},
	})
}

// LongPress holds a press at device coordinates for the duration.
func (c *Client) LongPress(x, y, durationMs int) error {
	return c.performPointerActions([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": durationMs},
		{"type": "pointerUp", "button": 0},
	})
}

// Swipe drags from start to end over the duration.
func (c *Client) Swipe(startX, startY, endX, endY, durationMs int) error {
	return c.performPointerActions([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": startX, "y": startY},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerMove", "duration": durationMs, "x": endX, "y": endY},
		{"type": "pointerUp", "button": 0},
	})
}

// SendKeys types text into the focused element, falling back to the
// Appium active-element endpoint for non-keyboard characters.
func (c *Client) SendKeys(text string) error {
	var keyActions []map[string]interface{}
	for _, ch := range text {
		keyActions = append(keyActions,
			map[string]interface{}{"type": "keyDown", "value": string(ch)},
			map[string]interface{}{"type": "keyUp", "value": string(ch)},
		)
	}

	_, err := c.post(c.sessionPath()+"/actions", map[string]interface{}{
		"actions": []map[string]interface{}{
			{"type": "key", "id": "keyboard", "actions": keyActions},
		},
	})
	if err != nil {
		_, err = c.post(c.sessionPath()+"/appium/element/active/value", map[string]interface{}{
			"text": text,
		})
	}
	return err
}

// HideKeyboard dismisses the on-screen keyboard if shown.
func (c *Client) HideKeyboard() error {
	_, err := c.post(c.sessionPath()+"/appium/device/hide_keyboard", nil)
	return err
}

// PressKeyCode presses an Android keycode.
func (c *Client) PressKeyCode(keycode int) error {
	_, err := c.post(c.sessionPath()+"/appium/device/press_keycode", map[string]interface{}{
		"keycode": keycode,
	})
	return err
}

// ActivateApp brings the given package to the foreground.
func (c *Client) ActivateApp(appID string) error {
	_, err := c.post(c.sessionPath()+"/appium/device/activate_app", map[string]interface{}{
		"appId": appID,
	})
	return err
}

// TerminateApp stops the given package.
func (c *Client) TerminateApp(appID string) error {
	_, err := c.post(c.sessionPath()+"/appium/device/terminate_app", map[string]interface{}{
		"appId": appID,
	})
	return err
}

func (c *Client) performPointerActions(actions []map[string]interface{}) error {
	_, err := c.post(c.sessionPath()+"/actions", map[string]interface{}{
		"actions": []map[string]interface{}{
			{
				"type": "pointer",
				"id":   "finger1",
				"parameters": map[string]interface{}{
					"pointerType": "touch",
				},
				"actions": actions,
			},
		},
	})
	return err
}

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) post(path string, body interface{}) (map[string]interface{}, error) {
	return c.request(http.MethodPost, path, body)
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	return c.request(http.MethodGet, path, nil)
}

func (c *Client) delete(path string) (map[string]interface{}, error) {
	return c.request(http.MethodDelete, path, nil)
}

func (c *Client) request(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else if method == http.MethodPost {
		reqBody = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequest(method, c.serverURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("parse response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		if value, ok := parsed["value"].(map[string]interface{}); ok {
			errName, _ := value["error"].(string)
			errMsg, _ := value["message"].(string)
			if errName != "" {
				return nil, &protocolError{Name: errName, Message: errMsg, StatusCode: resp.StatusCode}
			}
		}
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, truncateBody(respBody))
	}
	return parsed, nil
}

// protocolError is a WebDriver error response with its wire name, kept
// so callers can tell a dead session from a failed command.
type protocolError struct {
	Name       string
	Message    string
	StatusCode int
}

func (e *protocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Name
}

func truncateBody(b []byte) string {
	s := string(b)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
