package inventory

import (
	"context"

	"github.com/jkaninda/radkit-mcp/internal/tools"
)

var serviceSerialSchema = map[string]any{
	"type":        "string",
	"description": "Service serial to use instead of the default service",
}

// NamesTool lists the devices onboarded in a service's inventory.
type NamesTool struct{ inv *Inventory }

// NewNamesTool creates the get_device_inventory_names tool.
func NewNamesTool(inv *Inventory) *NamesTool { return &NamesTool{inv: inv} }

func (t *NamesTool) Name() string { return "get_device_inventory_names" }
func (t *NamesTool) Description() string {
	return "Returns a string with the names of the devices onboarded in the Cisco RADKit service's inventory. " +
		"Use this first when the user asks about \"devices\", \"network\", or \"all devices\"."
}
func (t *NamesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service_serial": serviceSerialSchema,
		},
	}
}

func (t *NamesTool) Validate(params map[string]any) error {
	_, err := tools.OptionalString(params, "service_serial")
	return err
}

func (t *NamesTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	serial, err := tools.OptionalString(params, "service_serial")
	if err != nil {
		return nil, err
	}
	out, err := t.inv.ListDeviceNames(ctx, serial)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Output: out, Success: true}, nil
}

// AttributesTool returns the attributes of one device.
type AttributesTool struct{ inv *Inventory }

// NewAttributesTool creates the get_device_attributes tool.
func NewAttributesTool(inv *Inventory) *AttributesTool { return &AttributesTool{inv: inv} }

func (t *AttributesTool) Name() string { return "get_device_attributes" }
func (t *AttributesTool) Description() string {
	return "Returns a JSON string with the attributes of the specified target device " +
		"(host, device type, description, capabilities, forwarded ports). " +
		"Always try this first when the user asks about a specific device. " +
		"Safe to call concurrently for multiple devices."
}
func (t *AttributesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_device":  map[string]any{"type": "string", "description": "Target device to get the attributes from"},
			"service_serial": serviceSerialSchema,
		},
		"required": []string{"target_device"},
	}
}

func (t *AttributesTool) Validate(params map[string]any) error {
	if _, err := tools.String(params, "target_device"); err != nil {
		return err
	}
	_, err := tools.OptionalString(params, "service_serial")
	return err
}

func (t *AttributesTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	device, err := tools.String(params, "target_device")
	if err != nil {
		return nil, err
	}
	serial, err := tools.OptionalString(params, "service_serial")
	if err != nil {
		return nil, err
	}
	out, err := t.inv.GetDeviceAttributes(ctx, device, serial)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Output: out, Success: true, Metadata: map[string]any{"device": device}}, nil
}
