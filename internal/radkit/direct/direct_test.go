package direct

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/crypto/ssh"

	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

type mapSecrets map[string]string

func (m mapSecrets) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", errors.New("unknown reference " + ref)
	}
	return v, nil
}

const sampleInventory = `
services:
  abcd-1234-efgh:
    devices:
      - name: core-rtr-01
        host: 10.0.0.1
        device_type: IOS_XE
        description: core router
        terminal_capabilities: [INTERACTIVE, EXEC]
        attributes:
          site: lab-a
        snmp:
          community_ref: env://COMMUNITY
      - name: access-sw-02
        host: 10.0.0.2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func loggedInClient(t *testing.T, inv *Inventory, secrets SecretResolver) *Client {
	t.Helper()
	c := New(inv, secrets, Options{})
	if err := c.Login(context.Background(), "op@example.com"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return c
}

func TestLoadInventory(t *testing.T) {
	inv, err := LoadInventory(writeFile(t, "inventory.yaml", sampleInventory))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	devices := inv.Services["abcd-1234-efgh"].Devices
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].SNMP == nil || devices[0].SNMP.CommunityRef != "env://COMMUNITY" {
		t.Errorf("snmp spec = %+v", devices[0].SNMP)
	}
}

func TestLoadInventory_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name":     "services:\n  s1:\n    devices:\n      - host: h\n",
		"missing host":     "services:\n  s1:\n    devices:\n      - name: d\n",
		"duplicate device": "services:\n  s1:\n    devices:\n      - {name: d, host: h}\n      - {name: d, host: h2}\n",
		"snmp v3":          "services:\n  s1:\n    devices:\n      - {name: d, host: h, snmp: {version: \"3\"}}\n",
		"no host key":      "services:\n  s1:\n    devices:\n      - {name: d, host: h, ssh: {username: u}}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadInventory(writeFile(t, "inventory.yaml", data)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService(t *testing.T) {
	inv, err := LoadInventory(writeFile(t, "inventory.yaml", sampleInventory))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := New(inv, nil, Options{}).Service(ctx, "abcd-1234-efgh"); !errors.Is(err, radkit.ErrAuthentication) {
		t.Errorf("Service before login err = %v, want ErrAuthentication", err)
	}

	c := loggedInClient(t, inv, nil)
	if _, err := c.Service(ctx, "nope"); !errors.Is(err, radkit.ErrServiceNotFound) {
		t.Errorf("unknown serial err = %v, want ErrServiceNotFound", err)
	}

	svc, err := c.Service(ctx, "abcd-1234-efgh")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	devices, err := svc.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(devices) != 2 || devices[0].Name() != "access-sw-02" || devices[1].Name() != "core-rtr-01" {
		t.Errorf("inventory order wrong: %v", devices)
	}
	if _, err := svc.Device(ctx, "ghost"); !errors.Is(err, radkit.ErrDeviceNotFound) {
		t.Errorf("Device(ghost) err = %v, want ErrDeviceNotFound", err)
	}

	d, _ := svc.Device(ctx, "core-rtr-01")
	attrs, _ := d.Attributes(ctx)
	want := map[string]any{"host": "10.0.0.1", "device_type": "IOS_XE", "description": "core router", "site": "lab-a"}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attrs[%q] = %v, want %v", k, attrs[k], v)
		}
	}
	if _, ok := attrs["forwarded_tcp_ports"]; ok {
		t.Error("unset optional attribute should be absent")
	}

	minimal, _ := svc.Device(ctx, "access-sw-02")
	attrs, _ = minimal.Attributes(ctx)
	if len(attrs) != 1 {
		t.Errorf("minimal device attrs = %v, want only host", attrs)
	}
}

func writeSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "op@example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPath = filepath.Join(dir, "certificate.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	keyPath = filepath.Join(dir, "private_key_encrypted.pem")
	if err := os.WriteFile(keyPath, []byte("encrypted"), 0600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestCertificateLogin(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeSelfSigned(t, dir)
	c := New(&Inventory{}, nil, Options{})

	err := c.CertificateLogin(context.Background(), radkit.CertificateLogin{
		Identity: "op@example.com", CAPath: cert, CertPath: cert, KeyPath: key, Password: "pw",
	})
	if err != nil {
		t.Fatalf("CertificateLogin: %v", err)
	}
	if !c.loggedIn() {
		t.Error("client should be logged in")
	}

	garbage := writeFile(t, "chain.pem", "not a certificate")
	err = c.CertificateLogin(context.Background(), radkit.CertificateLogin{
		Identity: "op@example.com", CAPath: garbage, CertPath: cert, KeyPath: key, Password: "pw",
	})
	if !errors.Is(err, radkit.ErrAuthentication) {
		t.Errorf("bad CA err = %v, want ErrAuthentication", err)
	}

	err = c.CertificateLogin(context.Background(), radkit.CertificateLogin{
		Identity: "op@example.com", CAPath: cert, CertPath: cert, KeyPath: key,
	})
	if !errors.Is(err, radkit.ErrAuthentication) {
		t.Errorf("empty password err = %v, want ErrAuthentication", err)
	}
}

func TestConvertPacket(t *testing.T) {
	pkt := &gosnmp.SnmpPacket{
		Error: gosnmp.NoError,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("core-rtr-01")},
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(4242)},
			{Name: ".1.3.6.1.2.1.99.0", Type: gosnmp.NoSuchObject},
		},
	}
	rows := convertPacket(pkt, nil)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Value != "core-rtr-01" || rows[0].Failed() {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Value != uint32(4242) {
		t.Errorf("row 1 value = %v", rows[1].Value)
	}
	if !rows[2].Failed() {
		t.Errorf("row 2 should be an error row: %+v", rows[2])
	}

	failed := convertPacket(&gosnmp.SnmpPacket{Error: gosnmp.GenErr}, []string{"1.3.6.1.2.1.1.1.0", "1.3.6.1.2.1.1.5.0"})
	if len(failed) != 2 || !failed[0].Failed() || !failed[1].Failed() {
		t.Errorf("PDU error rows = %+v", failed)
	}
}

func TestSNMPGet_NotConfigured(t *testing.T) {
	inv := &Inventory{Services: map[string]ServiceSpec{"s1": {Devices: []DeviceSpec{{Name: "d", Host: "h"}}}}}
	c := loggedInClient(t, inv, nil)
	svc, _ := c.Service(context.Background(), "s1")
	d, _ := svc.Device(context.Background(), "d")
	if _, err := d.SNMPGet(context.Background(), []string{"1.3.6.1.2.1.1.1.0"}, radkit.SNMPOptions{}); err == nil {
		t.Error("expected error for device without SNMP access")
	}
}

// startSSHServer runs a minimal exec-only SSH server that accepts user
// "netops" with password "pw".
func startSSHServer(t *testing.T, handler func(cmd string) (string, uint32)) (host string, port int, hostKey string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == "netops" && string(pw) == "pw" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg, handler)
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port, string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, handler func(string) (string, uint32)) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)
				out, status := handler(payload.Command)
				io.WriteString(ch, out)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestExec_SSH(t *testing.T) {
	host, port, hostKey := startSSHServer(t, func(cmd string) (string, uint32) {
		switch cmd {
		case "show version":
			return "Cisco IOS XE Software, Version 17.9.4\n", 0
		case "sudo -n whoami":
			return "root\n", 0
		}
		return "% Invalid input detected\n", 1
	})

	inv := &Inventory{Services: map[string]ServiceSpec{"s1": {Devices: []DeviceSpec{{
		Name: "core-rtr-01",
		Host: host,
		SSH:  &SSHSpec{Port: port, Username: "netops", PasswordRef: "env://SSH_PW", HostKey: hostKey},
	}}}}}
	c := loggedInClient(t, inv, mapSecrets{"env://SSH_PW": "pw"})
	svc, _ := c.Service(context.Background(), "s1")
	d, _ := svc.Device(context.Background(), "core-rtr-01")

	resp, err := d.Exec(context.Background(), []string{"show version", "show bogus"}, radkit.ExecOptions{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !resp.Succeeded() {
		t.Fatalf("status = %s (%s)", resp.Status, resp.StatusMessage)
	}
	if len(resp.Commands) != 2 {
		t.Fatalf("commands = %d, want 2", len(resp.Commands))
	}
	if !strings.Contains(resp.Commands[0].Output, "17.9.4") {
		t.Errorf("output = %q", resp.Commands[0].Output)
	}
	if !strings.Contains(resp.Commands[1].Output, "Invalid input") {
		t.Errorf("output = %q", resp.Commands[1].Output)
	}

	resp, err = d.Exec(context.Background(), []string{"whoami"}, radkit.ExecOptions{Sudo: true})
	if err != nil {
		t.Fatalf("Exec sudo: %v", err)
	}
	if resp.Commands[0].Command != "whoami" || !strings.Contains(resp.Commands[0].Output, "root") {
		t.Errorf("sudo result = %+v", resp.Commands[0])
	}
}

func TestExec_AuthFailureIsDeviceStatus(t *testing.T) {
	host, port, hostKey := startSSHServer(t, func(string) (string, uint32) { return "", 0 })
	inv := &Inventory{Services: map[string]ServiceSpec{"s1": {Devices: []DeviceSpec{{
		Name: "core-rtr-01",
		Host: host,
		SSH:  &SSHSpec{Port: port, Username: "netops", PasswordRef: "env://SSH_PW", HostKey: hostKey},
	}}}}}
	c := loggedInClient(t, inv, mapSecrets{"env://SSH_PW": "wrong"})
	svc, _ := c.Service(context.Background(), "s1")
	d, _ := svc.Device(context.Background(), "core-rtr-01")

	resp, err := d.Exec(context.Background(), []string{"show version"}, radkit.ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if resp.Succeeded() || resp.StatusMessage == "" {
		t.Errorf("expected FAILURE with a message, got %+v", resp)
	}
}
