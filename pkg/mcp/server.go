// Package mcp exposes the engine over the Model Context Protocol so an
// AI planner can enumerate devices, inspect the screen, and drive steps
// or whole plans through the guarded execution machine.
package mcp

import (
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/device"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// Deps are the capabilities the tools run against. NewSession is called
// lazily on the first tool that needs a device, so listing devices and
// serving never require one connected up front.
type Deps struct {
	ListDevices func() ([]device.DeviceInfo, error)
	NewSession  func() (core.Session, error)
	NewMachine  func(core.Session) *stepexec.Machine
}

// Options configures the MCP surface.
type Options struct {
	// Name identifies the server to clients.
	Name string

	// Version is reported during the MCP handshake.
	Version string

	// Goal is the default business goal passed to the oracle when a
	// tool call does not carry its own.
	Goal string

	// Env is merged under every submitted plan's env; keys the plan
	// sets itself win.
	Env map[string]string
}

// DefaultOptions returns the MCP server defaults.
func DefaultOptions() Options {
	return Options{
		Name:    "stepguard",
		Version: "1.0.0",
		Goal:    "exercise the application",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Name == "" {
		o.Name = def.Name
	}
	if o.Version == "" {
		o.Version = def.Version
	}
	if o.Goal == "" {
		o.Goal = def.Goal
	}
	return o
}

// Server is the MCP adapter. One device session is shared across tool
// calls and opened on first use.
type Server struct {
	deps Deps
	opts Options
	mcp  *mcpserver.MCPServer
	log  *logger.Logger

	mu      sync.Mutex
	sess    core.Session
	machine *stepexec.Machine
}

// New builds the server and registers every tool.
func New(deps Deps, opts Options, log *logger.Logger) *Server {
	opts = opts.withDefaults()
	s := &Server{
		deps: deps,
		opts: opts,
		mcp:  mcpserver.NewMCPServer(opts.Name, opts.Version),
		log:  log.WithComponent("mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List connected Android devices with model and SDK level"),
	), s.handleListDevices)

	s.mcp.AddTool(mcp.NewTool("snapshot",
		mcp.WithDescription("Capture the current UI hierarchy as XML"),
	), s.handleSnapshot)

	s.mcp.AddTool(mcp.NewTool("screenshot",
		mcp.WithDescription("Capture the current screen as a PNG image"),
	), s.handleScreenshot)

	s.mcp.AddTool(mcp.NewTool("tap",
		mcp.WithDescription("Tap the screen at device-space pixel coordinates"),
		mcp.WithNumber("x", mcp.Description("X coordinate in pixels"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("Y coordinate in pixels"), mcp.Required()),
	), s.handleTap)

	s.mcp.AddTool(mcp.NewTool("run_step",
		mcp.WithDescription("Execute one natural-language step through the recovery loop and return the detailed result"),
		mcp.WithString("description", mcp.Description("What to do, e.g. 'tap the login button'"), mcp.Required()),
		mcp.WithString("query", mcp.Description("Optional element search intent overriding the description")),
		mcp.WithString("expected_state", mcp.Description("Optional success hint the oracle verifies against")),
		mcp.WithString("goal", mcp.Description("Business goal giving the oracle context")),
		mcp.WithNumber("max_cycles", mcp.Description("Recovery cycle budget for this step")),
	), s.handleRunStep)

	s.mcp.AddTool(mcp.NewTool("run_plan",
		mcp.WithDescription("Execute a full scenario plan (YAML or JSON) and return the aggregated run result"),
		mcp.WithString("plan", mcp.Description("Plan document with business goal, scenarios and steps"), mcp.Required()),
	), s.handleRunPlan)

	s.mcp.AddTool(mcp.NewTool("close_session",
		mcp.WithDescription("Close the shared device session; the next device tool reopens it"),
	), s.handleCloseSession)
}

// session returns the shared session and machine, opening them on first
// use.
func (s *Server) session() (core.Session, *stepexec.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		sess, err := s.deps.NewSession()
		if err != nil {
			return nil, nil, fmt.Errorf("open device session: %w", err)
		}
		s.sess = sess
		s.machine = s.deps.NewMachine(sess)
		s.log.Info("device session opened", nil)
	}
	return s.sess, s.machine, nil
}

func (s *Server) closeSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		return nil
	}
	err := s.sess.Close()
	s.sess = nil
	s.machine = nil
	return err
}

// Serve blocks serving the chosen transport: "stdio" or
// "streamable-http" on the given port.
func (s *Server) Serve(transport string, port int) error {
	switch transport {
	case "stdio", "":
		s.log.Info("serving MCP over stdio", nil)
		return mcpserver.ServeStdio(s.mcp)
	case "streamable-http":
		addr := fmt.Sprintf(":%d", port)
		s.log.Info("serving MCP over streamable HTTP", map[string]interface{}{
			"addr": addr,
		})
		return mcpserver.NewStreamableHTTPServer(s.mcp).Start(addr)
	default:
		return fmt.Errorf("unknown MCP transport %q (want stdio or streamable-http)", transport)
	}
}
