package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/executor"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

func (s *Server) handleListDevices(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.ListDevices == nil {
		return mcp.NewToolResultError("device listing is not available"), nil
	}
	devices, err := s.deps.ListDevices()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list devices: %v", err)), nil
	}
	return jsonResult(devices)
}

func (s *Server) handleSnapshot(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, _, err := s.session()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	xml, err := sess.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("capture hierarchy: %v", err)), nil
	}
	return mcp.NewToolResultText(xml), nil
}

func (s *Server) handleScreenshot(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, _, err := s.session()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := sess.Screenshot()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("capture screenshot: %v", err)), nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- path produced by the session
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read screenshot: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.ImageContent{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(data),
				MIMEType: "image/png",
			},
		},
	}, nil
}

func (s *Server) handleTap(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	x, okX := intArg(args, "x")
	y, okY := intArg(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required numbers"), nil
	}

	sess, _, err := s.session()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := sess.Dispatch(core.ClickAction(core.Point{X: x, Y: y}))
	if !res.OK() {
		return mcp.NewToolResultError(fmt.Sprintf("tap failed: %s", res.Detail)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("tapped (%d, %d)", x, y)), nil
}

func (s *Server) handleRunStep(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	description := stringArg(args, "description")
	if description == "" {
		return mcp.NewToolResultError("description is required"), nil
	}
	goal := stringArg(args, "goal")
	if goal == "" {
		goal = s.opts.Goal
	}
	maxCycles, _ := intArg(args, "max_cycles")

	_, machine, err := s.session()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := machine.RunStep(goal, stepexec.Step{
		Description:   description,
		Query:         stringArg(args, "query"),
		ExpectedState: stringArg(args, "expected_state"),
	}, "", maxCycles)

	return jsonResult(res)
}

func (s *Server) handleRunPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := stringArg(request.GetArguments(), "plan")
	if raw == "" {
		return mcp.NewToolResultError("plan is required"), nil
	}
	plan, err := scenario.Parse([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid plan: %v", err)), nil
	}

	sess, machine, err := s.session()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	runner := executor.New(machine, sess, executor.Config{Env: s.opts.Env}, s.log)
	run, err := runner.Run(ctx, plan)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(run)
}

func (s *Server) handleCloseSession(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.closeSession(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close session: %v", err)), nil
	}
	return mcp.NewToolResultText("session closed"), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads a numeric argument. JSON numbers decode as float64;
// direct map construction in tests may carry int.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
