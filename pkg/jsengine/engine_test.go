package jsengine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stepguard-dev/stepguard/pkg/logger"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(logger.Nop())
	t.Cleanup(e.Close)
	return e
}

func TestEvalArithmetic(t *testing.T) {
	e := newEngine(t)

	result, err := e.Eval("2 + 3")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if result != int64(5) {
		t.Errorf("result = %v (%T), want 5", result, result)
	}
}

func TestSetVariableVisibleToScripts(t *testing.T) {
	e := newEngine(t)
	e.SetVariable("USERNAME", "tester")

	result, err := e.EvalString("USERNAME.toUpperCase()")
	if err != nil {
		t.Fatalf("EvalString failed: %v", err)
	}
	if result != "TESTER" {
		t.Errorf("result = %q, want TESTER", result)
	}
}

func TestExpandVariables(t *testing.T) {
	e := newEngine(t)
	e.SetVariables(map[string]interface{}{
		"APP":   "com.example.app",
		"COUNT": 3,
	})

	tests := []struct {
		in   string
		want string
	}{
		{"open ${APP}", "open com.example.app"},
		{"${COUNT} items", "3 items"},
		{"${COUNT + 1} items", "4 items"},
		{"no variables here", "no variables here"},
		{"${UNDEFINED_VAR}", "${UNDEFINED_VAR}"}, // failed expansion stays
	}

	for _, tt := range tests {
		got, err := e.ExpandVariables(tt.in)
		if err != nil {
			t.Errorf("ExpandVariables(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandVariables(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandVariablesNestedBraces(t *testing.T) {
	e := newEngine(t)

	got, err := e.ExpandVariables("value: ${JSON.stringify({a: 1})}")
	if err != nil {
		t.Fatalf("ExpandVariables failed: %v", err)
	}
	if got != `value: {"a":1}` {
		t.Errorf("got %q", got)
	}
}

func TestOutputStore(t *testing.T) {
	e := newEngine(t)

	if err := e.RunScript("output.token = 'abc123'; output.count = 2"); err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}

	out := e.GetOutput()
	if out["token"] != "abc123" {
		t.Errorf("token = %v", out["token"])
	}
}

func TestJSONHelper(t *testing.T) {
	e := newEngine(t)

	result, err := e.EvalString(`json('{"name":"demo"}').name`)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if result != "demo" {
		t.Errorf("result = %q, want demo", result)
	}
}

func TestDefineUndefinedIfMissing(t *testing.T) {
	e := newEngine(t)
	e.DefineUndefinedIfMissing("MAYBE")

	result, err := e.EvalString("typeof MAYBE")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if result != "undefined" {
		t.Errorf("typeof = %q", result)
	}

	// An existing variable is not clobbered.
	e.SetVariable("PRESENT", "yes")
	e.DefineUndefinedIfMissing("PRESENT")
	if v, _ := e.EvalString("PRESENT"); v != "yes" {
		t.Errorf("PRESENT = %q after DefineUndefinedIfMissing", v)
	}
}

func TestHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"up"}`))
	}))
	defer server.Close()

	e := newEngine(t)

	result, err := e.EvalString(`http.get("` + server.URL + `").json.status`)
	if err != nil {
		t.Fatalf("http.get failed: %v", err)
	}
	if result != "up" {
		t.Errorf("result = %q, want up", result)
	}
}

func TestHTTPPostSendsBody(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		if r.Body != nil {
			b := make([]byte, 1024)
			for {
				n, err := r.Body.Read(b)
				buf.Write(b[:n])
				if err != nil {
					break
				}
			}
		}
		received = buf.String()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	e := newEngine(t)

	result, err := e.Eval(`http.post("` + server.URL + `", {body: {key: "value"}}).status`)
	if err != nil {
		t.Fatalf("http.post failed: %v", err)
	}
	if result != int64(201) {
		t.Errorf("status = %v", result)
	}
	if !strings.Contains(received, `"key":"value"`) {
		t.Errorf("server received %q", received)
	}
}

func TestRunScriptError(t *testing.T) {
	e := newEngine(t)

	if err := e.RunScript("this is not javascript"); err == nil {
		t.Fatal("invalid script did not error")
	}
}
