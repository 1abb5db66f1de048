package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// Default line limits of the two exec tools.
const (
	DefaultStructuredMaxLines = 2000
	DefaultTextMaxLines       = 0
)

// argNames maps the request fields onto a tool's parameter names.
type argNames struct {
	device   string
	commands string
}

func schema(names argNames, maxLinesDefault int) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			names.device: map[string]any{"type": "string", "description": "Name of the device in the RADKit inventory"},
			names.commands: map[string]any{
				"description": "CLI command or list of commands to execute, chosen for the device type (e.g. \"show version\" on Cisco IOS)",
				"oneOf": []any{
					map[string]any{"type": "string"},
					map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"service_serial": map[string]any{"type": "string", "description": "Service serial to use instead of the default service"},
			"timeout":        map[string]any{"type": "integer", "minimum": 0, "default": 0, "description": "Execution timeout in seconds (0 = no timeout)"},
			"max_lines":      map[string]any{"type": "integer", "minimum": 0, "default": maxLinesDefault, "description": "Maximum lines of output per command (0 = unlimited)"},
			"reset_before":   map[string]any{"type": "boolean", "default": false, "description": "Reset the device terminal before executing"},
			"reset_after":    map[string]any{"type": "boolean", "default": false, "description": "Reset the device terminal after executing"},
			"sudo":           map[string]any{"type": "boolean", "default": false, "description": "Execute with elevated privileges"},
		},
		"required": []string{names.device, names.commands},
	}
}

func parseRequest(params map[string]any, names argNames, maxLinesDefault int) (Request, error) {
	var req Request
	var err error
	if req.Device, err = tools.String(params, names.device); err != nil {
		return req, err
	}
	if req.Commands, _, err = tools.StringOrList(params, names.commands); err != nil {
		return req, err
	}
	if req.Serial, err = tools.OptionalString(params, "service_serial"); err != nil {
		return req, err
	}
	if req.Timeout, err = tools.Seconds(params, "timeout", 0); err != nil {
		return req, err
	}
	if req.MaxLines, err = tools.Int(params, "max_lines", maxLinesDefault); err != nil {
		return req, err
	}
	if req.MaxLines < 0 {
		req.MaxLines = 0
	}
	if req.ResetBefore, err = tools.Bool(params, "reset_before"); err != nil {
		return req, err
	}
	if req.ResetAfter, err = tools.Bool(params, "reset_after"); err != nil {
		return req, err
	}
	if req.Sudo, err = tools.Bool(params, "sudo"); err != nil {
		return req, err
	}
	return req, nil
}

// CommandTool is exec_command: structured records as JSON.
type CommandTool struct{ exec *Executor }

// NewCommandTool creates the exec_command tool.
func NewCommandTool(e *Executor) *CommandTool { return &CommandTool{exec: e} }

var commandArgs = argNames{device: "device_name", commands: "commands"}

func (t *CommandTool) Name() string { return "exec_command" }
func (t *CommandTool) Description() string {
	return "Execute command(s) on a RADKit-managed network device. Returns a JSON object for a single command " +
		"or a JSON array for several, each with device_name, command, output, status and truncation info."
}
func (t *CommandTool) InputSchema() map[string]any {
	return schema(commandArgs, DefaultStructuredMaxLines)
}

func (t *CommandTool) Validate(params map[string]any) error {
	_, err := parseRequest(params, commandArgs, DefaultStructuredMaxLines)
	return err
}

func (t *CommandTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	req, err := parseRequest(params, commandArgs, DefaultStructuredMaxLines)
	if err != nil {
		return nil, err
	}
	res, err := t.exec.Execute(ctx, t.Name(), req)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding command results: %w", err)
	}
	return &tools.Result{
		Output:   string(out),
		Success:  true,
		Metadata: map[string]any{"device": req.Device, "commands": len(req.Commands)},
	}, nil
}

// CLITool is exec_cli_commands_in_device: raw output as text.
type CLITool struct{ exec *Executor }

// NewCLITool creates the exec_cli_commands_in_device tool.
func NewCLITool(e *Executor) *CLITool { return &CLITool{exec: e} }

var cliArgs = argNames{device: "target_device", commands: "cli_commands"}

func (t *CLITool) Name() string { return "exec_cli_commands_in_device" }
func (t *CLITool) Description() string {
	return "Executes a CLI command or commands in the target device and returns the raw result as text. " +
		"Use this only if the information is not available from get_device_attributes, " +
		"or the user explicitly asks to run or execute a command."
}
func (t *CLITool) InputSchema() map[string]any {
	return schema(cliArgs, DefaultTextMaxLines)
}

func (t *CLITool) Validate(params map[string]any) error {
	_, err := parseRequest(params, cliArgs, DefaultTextMaxLines)
	return err
}

func (t *CLITool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	req, err := parseRequest(params, cliArgs, DefaultTextMaxLines)
	if err != nil {
		return nil, err
	}
	res, err := t.exec.Execute(ctx, t.Name(), req)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:   FormatText(res),
		Success:  true,
		Metadata: map[string]any{"device": req.Device, "commands": len(req.Commands)},
	}, nil
}

// FormatText renders results the way exec_cli_commands_in_device returns them.
func FormatText(res OneOrMany[CommandRecord]) string {
	if r, ok := res.One(); ok {
		out := r.Output
		if r.Truncated {
			out += fmt.Sprintf("\n[Truncated: %d of %d lines shown]", r.DisplayedLines, r.TotalLines)
		}
		return out
	}
	blocks := make([]string, 0, len(res.Many()))
	for _, r := range res.Many() {
		blocks = append(blocks, "# Command: "+r.Command+"\n"+r.Output)
	}
	return strings.Join(blocks, "\n\n")
}
