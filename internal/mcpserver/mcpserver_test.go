package mcpserver

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/observability"
	"github.com/jkaninda/radkit-mcp/internal/radkit/radkittest"
	"github.com/jkaninda/radkit-mcp/internal/tools"
	"github.com/jkaninda/radkit-mcp/internal/tools/exec"
	"github.com/jkaninda/radkit-mcp/internal/tools/inventory"
	"github.com/jkaninda/radkit-mcp/internal/tools/snmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *tools.Registry {
	client := radkittest.NewClient()
	client.AddService("S1",
		radkittest.NewDevice("router1", map[string]any{"host": "10.0.0.1", "device_type": "IOS_XE"}),
		radkittest.NewDevice("switch1", nil),
	)
	sessions := radkittest.NewSessions(client, "S1")

	inv := inventory.New(sessions, discardLogger())
	executor := exec.New(sessions, nil, discardLogger())
	getter := snmp.New(sessions, nil, discardLogger())

	reg := tools.NewRegistry()
	reg.Register(inventory.NewNamesTool(inv))
	reg.Register(inventory.NewAttributesTool(inv))
	reg.Register(exec.NewCommandTool(executor))
	reg.Register(exec.NewCLITool(executor))
	reg.Register(snmp.NewTool(getter))
	return reg
}

func newClient(t *testing.T, s *Server) *mcpclient.Client {
	t.Helper()
	ctx := context.Background()

	c, err := mcpclient.NewInProcessClient(s.MCP())
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "radkit-mcp-test", Version: "1.0.0"}
	res, err := c.Initialize(ctx, initRequest)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if res.ServerInfo.Name != ServerName {
		t.Errorf("server name = %q, want %q", res.ServerInfo.Name, ServerName)
	}
	return c
}

func callTool(t *testing.T, c *mcpclient.Client, name string, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), res.IsError
}

func TestNew_RegistersAllTools(t *testing.T) {
	s, err := New(Config{Version: "1.2.3"}, testRegistry(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	c := newClient(t, s)

	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("%s has no description", tool.Name)
		}
	}
	sort.Strings(names)
	want := []string{
		"exec_cli_commands_in_device",
		"exec_command",
		"get_device_attributes",
		"get_device_inventory_names",
		"snmp_get",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", names, want)
	}

	for _, tool := range res.Tools {
		if tool.Name != "get_device_attributes" {
			continue
		}
		if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "target_device" {
			t.Errorf("required = %v, want [target_device]", tool.InputSchema.Required)
		}
	}
}

func TestCallTool_Success(t *testing.T) {
	s, err := New(Config{}, testRegistry(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	c := newClient(t, s)

	text, isErr := callTool(t, c, "get_device_inventory_names", nil)
	if isErr || text != `{"router1", "switch1"}` {
		t.Errorf("inventory names = %q (error=%v)", text, isErr)
	}

	text, isErr = callTool(t, c, "get_device_attributes", map[string]any{"target_device": "router1"})
	if isErr || !strings.Contains(text, `"device_type": "IOS_XE"`) || !strings.Contains(text, `"name": "router1"`) {
		t.Errorf("attributes = %q (error=%v)", text, isErr)
	}

	text, isErr = callTool(t, c, "exec_cli_commands_in_device", map[string]any{
		"target_device": "router1",
		"cli_commands":  "show version",
	})
	if isErr || text != "show version output" {
		t.Errorf("exec = %q (error=%v)", text, isErr)
	}

	text, isErr = callTool(t, c, "snmp_get", map[string]any{
		"device_name": "switch1",
		"oid":         []any{"1.3.6.1.2.1.1.5.0"},
	})
	if isErr || !strings.Contains(text, `"oid": "1.3.6.1.2.1.1.5.0"`) {
		t.Errorf("snmp = %q (error=%v)", text, isErr)
	}
}

func TestCallTool_ErrorsBecomeToolResults(t *testing.T) {
	s, err := New(Config{}, testRegistry(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	c := newClient(t, s)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		message string
	}{
		{"unknown device", "get_device_attributes", map[string]any{"target_device": "ghost"}, `device "ghost" not found`},
		{"missing argument", "get_device_attributes", map[string]any{}, "target_device"},
		{"empty command list", "exec_command", map[string]any{"device_name": "router1", "commands": []any{}}, apperr.ErrValidation.Error()},
		{"empty oid list", "snmp_get", map[string]any{"device_name": "router1", "oid": []any{}}, apperr.ErrValidation.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, c, tt.tool, tt.args)
			if !isErr {
				t.Fatalf("expected error result, got %q", text)
			}
			if !strings.Contains(text, tt.message) {
				t.Errorf("error text %q does not contain %q", text, tt.message)
			}
		})
	}
}

func TestCallTool_Instrumented(t *testing.T) {
	reg := testRegistry()
	obs := &observability.Observability{Metrics: observability.NewMetricsCollector()}
	reg.Wrap(obs.Instrument())

	s, err := New(Config{}, reg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	c := newClient(t, s)

	callTool(t, c, "get_device_attributes", map[string]any{"target_device": "router1"})
	callTool(t, c, "get_device_attributes", map[string]any{"target_device": "ghost"})

	if got := executions(t, obs.Metrics, "get_device_attributes", "success"); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := executions(t, obs.Metrics, "get_device_attributes", "not_found"); got != 1 {
		t.Errorf("not_found = %v, want 1", got)
	}
}

func executions(t *testing.T, m *observability.MetricsCollector, tool, status string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "radkit_mcp_tool_executions_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, p := range metric.GetLabel() {
				labels[p.GetName()] = p.GetValue()
			}
			if labels["tool"] == tool && labels["status"] == status {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// lockedBuffer is written by the stdio server while the test polls it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe_Stdio(t *testing.T) {
	s, err := New(Config{}, testRegistry(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	inR, inW := io.Pipe()
	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, config.TransportStdio, inR, out) }()

	if _, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), `"id":1`) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(out.String(), `"id":1`) {
		t.Errorf("no ping response on stdout: %q", out.String())
	}

	cancel()
	_ = inW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stdio server did not stop after cancel")
	}
}

func TestServe_UnknownTransport(t *testing.T) {
	s, err := New(Config{}, testRegistry(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Serve(context.Background(), config.Transport("grpc"), nil, nil); err == nil {
		t.Fatal("expected error for unsupported transport")
	}
}

func TestReadiness(t *testing.T) {
	code, status := Readiness(context.Background(), nil)
	if code != http.StatusOK || status.Status != "ok" {
		t.Errorf("nil checker: %d %+v", code, status)
	}

	h := observability.NewHealthChecker(nil)
	h.AddCheck("session", func(ctx context.Context) error { return nil })
	if code, _ := Readiness(context.Background(), h); code != http.StatusOK {
		t.Errorf("passing checks: code = %d", code)
	}

	h.AddCheck("default_service", func(ctx context.Context) error { return apperr.ErrConnection })
	code, status = Readiness(context.Background(), h)
	if code != http.StatusServiceUnavailable || status.Status != "degraded" {
		t.Errorf("failing check: %d %+v", code, status)
	}
}
