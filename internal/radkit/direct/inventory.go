package direct

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Inventory maps service serials to the devices they broker.
//
//	services:
//	  "abcd-1234-efgh":
//	    devices:
//	      - name: core-rtr-01
//	        host: 10.0.0.1
//	        device_type: IOS_XE
//	        snmp: {community_ref: "env://CORE_SNMP_COMMUNITY"}
//	        ssh: {username: netops, password_ref: "vault://secret/data/net#ssh"}
type Inventory struct {
	Services map[string]ServiceSpec `yaml:"services"`
}

// ServiceSpec is one service entry.
type ServiceSpec struct {
	Devices []DeviceSpec `yaml:"devices"`
}

// DeviceSpec describes a device and how to reach it. Credentials are
// references resolved through a secrets provider at call time.
type DeviceSpec struct {
	Name                 string         `yaml:"name"`
	Host                 string         `yaml:"host"`
	DeviceType           string         `yaml:"device_type"`
	Description          string         `yaml:"description,omitempty"`
	TerminalCapabilities []string       `yaml:"terminal_capabilities,omitempty"`
	ForwardedTCPPorts    string         `yaml:"forwarded_tcp_ports,omitempty"`
	Attributes           map[string]any `yaml:"attributes,omitempty"` // Free-form extras merged into Attributes().
	SNMP                 *SNMPSpec      `yaml:"snmp,omitempty"`
	SSH                  *SSHSpec       `yaml:"ssh,omitempty"`
}

// SNMPSpec configures SNMP access. Only v1 and v2c are supported.
type SNMPSpec struct {
	Version      string `yaml:"version,omitempty"` // "1" or "2c". Default: 2c.
	CommunityRef string `yaml:"community_ref"`
	Port         uint16 `yaml:"port,omitempty"` // Default: 161.
}

// SSHSpec configures CLI access.
type SSHSpec struct {
	Port                  int    `yaml:"port,omitempty"` // Default: 22.
	Username              string `yaml:"username"`
	PasswordRef           string `yaml:"password_ref,omitempty"`
	PrivateKeyRef         string `yaml:"private_key_ref,omitempty"`
	HostKey               string `yaml:"host_key,omitempty"`                 // authorized_keys format.
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"` // Lab use only.
}

// LoadInventory reads and validates an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}
	if err := inv.validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory %s: %w", path, err)
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	for serial, svc := range inv.Services {
		if serial == "" {
			return fmt.Errorf("service with empty serial")
		}
		seen := make(map[string]bool, len(svc.Devices))
		for i, d := range svc.Devices {
			if d.Name == "" {
				return fmt.Errorf("services.%s.devices[%d]: name is required", serial, i)
			}
			if seen[d.Name] {
				return fmt.Errorf("services.%s: duplicate device %q", serial, d.Name)
			}
			seen[d.Name] = true
			if d.Host == "" {
				return fmt.Errorf("services.%s.devices[%d]: host is required", serial, i)
			}
			if d.SNMP != nil {
				switch d.SNMP.Version {
				case "", "1", "2c":
				default:
					return fmt.Errorf("services.%s.devices[%d]: snmp version %q is not supported", serial, i, d.SNMP.Version)
				}
			}
			if s := d.SSH; s != nil && s.HostKey == "" && !s.InsecureIgnoreHostKey {
				return fmt.Errorf("services.%s.devices[%d]: ssh.host_key is required unless insecure_ignore_host_key is set", serial, i)
			}
		}
	}
	return nil
}
