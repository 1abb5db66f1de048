package direct

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

const defaultSNMPTimeout = 5 * time.Second

func (d *device) SNMPGet(ctx context.Context, oids []string, opts radkit.SNMPOptions) ([]radkit.SNMPRow, error) {
	spec := d.spec.SNMP
	if spec == nil {
		return nil, fmt.Errorf("device %s has no SNMP access configured", d.spec.Name)
	}
	community, err := d.resolve(ctx, spec.CommunityRef)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}
	port := spec.Port
	if port == 0 {
		port = 161
	}
	version := gosnmp.Version2c
	if spec.Version == "1" {
		version = gosnmp.Version1
	}

	g := &gosnmp.GoSNMP{
		Target:    d.spec.Host,
		Port:      port,
		Transport: "udp",
		Community: community,
		Version:   version,
		Timeout:   timeout,
		Retries:   d.client.opts.SNMPRetries,
		MaxOids:   gosnmp.MaxOids,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", d.spec.Host, err)
	}
	defer g.Conn.Close()

	var rows []radkit.SNMPRow
	for start := 0; start < len(oids); start += gosnmp.MaxOids {
		end := min(start+gosnmp.MaxOids, len(oids))
		pkt, err := g.Get(oids[start:end])
		if err != nil {
			return nil, fmt.Errorf("snmp get %s: %w", d.spec.Host, err)
		}
		rows = append(rows, convertPacket(pkt, oids[start:end])...)
	}
	return rows, nil
}

// convertPacket maps a response to rows. A PDU-level error fails every
// requested OID; per-varbind exceptions fail only that OID.
func convertPacket(pkt *gosnmp.SnmpPacket, requested []string) []radkit.SNMPRow {
	if pkt.Error != gosnmp.NoError {
		rows := make([]radkit.SNMPRow, 0, len(requested))
		for _, oid := range requested {
			rows = append(rows, radkit.SNMPRow{OID: oid, Err: fmt.Sprintf("%v", pkt.Error)})
		}
		return rows
	}
	rows := make([]radkit.SNMPRow, 0, len(pkt.Variables))
	for _, v := range pkt.Variables {
		row := radkit.SNMPRow{OID: v.Name, Type: fmt.Sprintf("%v", v.Type)}
		switch v.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			row.Err = row.Type
			row.Type = ""
		case gosnmp.OctetString:
			if b, ok := v.Value.([]byte); ok {
				row.Value = string(b)
			} else {
				row.Value = v.Value
			}
		default:
			row.Value = v.Value
		}
		rows = append(rows, row)
	}
	return rows
}
