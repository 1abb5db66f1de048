package snmp

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jkaninda/radkit-mcp/internal/tools"
)

// Tool is snmp_get.
type Tool struct{ getter *Getter }

// NewTool creates the snmp_get tool.
func NewTool(g *Getter) *Tool { return &Tool{getter: g} }

func (t *Tool) Name() string { return "snmp_get" }
func (t *Tool) Description() string {
	return "Perform an SNMP GET on a RADKit-managed device for one or more OIDs " +
		"(e.g. \"1.3.6.1.2.1.1.1.0\" for sysDescr). Returns a JSON array of {device_name, oid, value, type}; " +
		"OIDs the device could not answer are omitted."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"device_name": map[string]any{"type": "string", "description": "Name of the device in the RADKit inventory (e.g. \"router1\")"},
			"oid": map[string]any{
				"description": "Single OID string or list of OID strings",
				"oneOf": []any{
					map[string]any{"type": "string"},
					map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"service_serial": map[string]any{"type": "string", "description": "Service serial to use instead of the default service"},
			"timeout":        map[string]any{"type": "number", "minimum": 0, "default": DefaultTimeout.Seconds(), "description": "Request timeout in seconds (0 = backend default)"},
		},
		"required": []string{"device_name", "oid"},
	}
}

func parseRequest(params map[string]any) (Request, error) {
	var req Request
	var err error
	if req.Device, err = tools.String(params, "device_name"); err != nil {
		return req, err
	}
	if req.OIDs, _, err = tools.StringOrList(params, "oid"); err != nil {
		return req, err
	}
	if req.Serial, err = tools.OptionalString(params, "service_serial"); err != nil {
		return req, err
	}
	if req.Timeout, err = tools.Seconds(params, "timeout", DefaultTimeout); err != nil {
		return req, err
	}
	return req, nil
}

func (t *Tool) Validate(params map[string]any) error {
	_, err := parseRequest(params)
	return err
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	req, err := parseRequest(params)
	if err != nil {
		return nil, err
	}
	records, err := t.getter.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding SNMP results: %w", err)
	}
	return &tools.Result{
		Output:   string(out),
		Success:  true,
		Metadata: map[string]any{"device": req.Device, "rows": len(records)},
	}, nil
}
