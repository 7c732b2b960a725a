package jsengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dop251/goja"
)

// httpModule returns the http object exposed to scripts: get, post,
// put, delete, and a generic request.
func (e *Engine) httpModule() *goja.Object {
	obj := e.runtime.NewObject()

	for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
		method := method
		name := map[string]string{"GET": "get", "POST": "post", "PUT": "put", "DELETE": "delete"}[method]
		if err := obj.Set(name, func(call goja.FunctionCall) goja.Value {
			return e.doHTTPRequest(method, call)
		}); err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("failed to set http.%s: %v", name, err)))
		}
	}

	if err := obj.Set("request", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("http.request requires method and url"))
		}
		method := call.Arguments[0].String()
		newCall := goja.FunctionCall{
			This:      call.This,
			Arguments: call.Arguments[1:],
		}
		return e.doHTTPRequest(method, newCall)
	}); err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to set http.request: %v", err)))
	}

	return obj
}

// doHTTPRequest performs an HTTP request and returns a JS response
// object with status, body, headers, ok, and parsed json.
func (e *Engine) doHTTPRequest(method string, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(e.runtime.NewTypeError(fmt.Sprintf("http.%s requires url", method)))
	}

	url := call.Arguments[0].String()

	var body io.Reader
	headers := make(map[string]string)
	timeout := 30 * time.Second

	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
		opts := call.Arguments[1].Export()
		if optsMap, ok := opts.(map[string]interface{}); ok {
			if b, ok := optsMap["body"]; ok {
				switch v := b.(type) {
				case string:
					body = bytes.NewBufferString(v)
				case map[string]interface{}:
					jsonBytes, _ := json.Marshal(v)
					body = bytes.NewBuffer(jsonBytes)
					if _, has := headers["Content-Type"]; !has {
						headers["Content-Type"] = "application/json"
					}
				}
			}
			if h, ok := optsMap["headers"]; ok {
				if headersMap, ok := h.(map[string]interface{}); ok {
					for k, v := range headersMap {
						headers[k] = fmt.Sprintf("%v", v)
					}
				}
			}
			if t, ok := optsMap["timeout"]; ok {
				switch v := t.(type) {
				case int64:
					timeout = time.Duration(v) * time.Millisecond
				case float64:
					timeout = time.Duration(v) * time.Millisecond
				}
			}
		}
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to create request: %v", err)))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("HTTP request failed: %v", err)))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("failed to read response: %v", err)))
	}

	respHeaders := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}

	responseObj := e.runtime.NewObject()
	responseObj.Set("status", resp.StatusCode)
	responseObj.Set("body", string(bodyBytes))
	responseObj.Set("headers", respHeaders)
	responseObj.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)

	var jsonBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
		responseObj.Set("json", jsonBody)
	} else {
		responseObj.Set("json", goja.Null())
	}

	return responseObj
}
