package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/auth"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/dispatch"
	"github.com/jkaninda/radkit-mcp/internal/radkit/radkittest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func newManager(t *testing.T, s *config.Settings, opts ...Option) (*Manager, auth.Selector) {
	t.Helper()
	sel := auth.Selector{Root: t.TempDir(), TmpDir: t.TempDir()}
	return NewManager(s, sel, dispatch.NewPool(4), quietLogger(), opts...), sel
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	errs  int
}

func (r *recordingObserver) ObserveConnect(serial string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, serial)
	if err != nil {
		r.errs++
	}
}

func TestInitialize_InteractiveLogin(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	obs := &recordingObserver{}
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops@example.com", DefaultServiceSerial: "S1"}, WithObserver(obs))

	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.Mode() != auth.InteractiveLogin {
		t.Errorf("Mode = %v, want username_login", m.Mode())
	}
	if len(client.Logins) != 1 || client.Logins[0] != "ops@example.com" {
		t.Errorf("Logins = %v", client.Logins)
	}
	if got := m.Services(); len(got) != 1 || got[0] != "S1" {
		t.Errorf("Services = %v, want eager connect of S1", got)
	}
	if len(obs.calls) != 1 || obs.errs != 0 {
		t.Errorf("observer calls = %v errs = %d", obs.calls, obs.errs)
	}
	if err := m.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}
}

func TestInitialize_EnvironmentCredentials(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	s := &config.Settings{
		RadkitIdentity:       "ops@example.com",
		DefaultServiceSerial: "S1",
		CertB64:              b64("cert"),
		KeyB64:               b64("key"),
		CAB64:                b64("ca"),
		KeyPasswordB64:       b64("pw"),
	}
	m, _ := newManager(t, s)

	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(client.CertLogins) != 1 {
		t.Fatalf("CertLogins = %d, want 1", len(client.CertLogins))
	}
	login := client.CertLogins[0]
	if login.Password != "pw" || login.Identity != "ops@example.com" {
		t.Errorf("login = %+v", login)
	}
	for _, p := range []string{login.CertPath, login.KeyPath, login.CAPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("credential file %s missing: %v", p, err)
		}
	}

	m.Shutdown()
	m.Shutdown()
	for _, p := range []string{login.CertPath, login.KeyPath, login.CAPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("credential file %s survived shutdown", p)
		}
	}
}

func TestInitialize_RequiresIdentityAndSerial(t *testing.T) {
	tests := []struct {
		name     string
		settings *config.Settings
		mention  string
	}{
		{"no identity", &config.Settings{DefaultServiceSerial: "S1"}, config.EnvIdentity},
		{"no serial", &config.Settings{RadkitIdentity: "ops"}, config.EnvServiceSerial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := radkittest.NewClient()
			m, _ := newManager(t, tt.settings)
			err := m.Initialize(context.Background(), client)
			if !errors.Is(err, apperr.ErrConfiguration) {
				t.Fatalf("err = %v, want configuration error", err)
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error %q does not mention %s", err, tt.mention)
			}
			if len(client.Logins)+len(client.CertLogins) != 0 {
				t.Error("no login should be attempted")
			}
			if m.Initialized() {
				t.Error("manager should not be initialized")
			}
		})
	}
}

func TestInitialize_LoginFailureCleansUp(t *testing.T) {
	client := radkittest.NewClient()
	client.LoginErr = errors.New("certificate rejected")
	s := &config.Settings{
		RadkitIdentity:       "ops",
		DefaultServiceSerial: "S1",
		CertB64:              b64("cert"),
		KeyB64:               b64("key"),
		CAB64:                b64("ca"),
		KeyPasswordB64:       b64("pw"),
	}
	m, sel := newManager(t, s)

	err := m.Initialize(context.Background(), client)
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("err = %v, want authentication error", err)
	}
	entries, _ := os.ReadDir(sel.TmpDir)
	if len(entries) != 0 {
		t.Errorf("credential files left behind: %d", len(entries))
	}
	if len(client.Logins) != 0 {
		t.Error("interactive login must not be tried after a certificate failure")
	}
	if m.Initialized() {
		t.Error("manager should not be initialized")
	}
}

func TestInitialize_BadCredentialsDoNotFallThrough(t *testing.T) {
	client := radkittest.NewClient()
	s := &config.Settings{
		RadkitIdentity:       "ops",
		DefaultServiceSerial: "S1",
		CertB64:              b64("cert"),
		KeyB64:               "not base64!",
		CAB64:                b64("ca"),
		KeyPasswordB64:       b64("pw"),
	}
	m, _ := newManager(t, s)

	err := m.Initialize(context.Background(), client)
	if !errors.Is(err, apperr.ErrDecoding) {
		t.Fatalf("err = %v, want decoding error", err)
	}
	if len(client.Logins)+len(client.CertLogins) != 0 {
		t.Error("no login should be attempted")
	}
}

func TestInitialize_EagerConnectFailureIsNotFatal(t *testing.T) {
	client := radkittest.NewClient()
	client.ServiceErr = errors.New("service offline")
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})

	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(m.Services()) != 0 {
		t.Error("failed connect must not be cached")
	}
	if err := m.Ready(context.Background()); !errors.Is(err, apperr.ErrConnection) {
		t.Errorf("Ready = %v, want connection error", err)
	}

	client.ServiceErr = nil
	client.AddService("S1")
	if _, err := m.Service(context.Background(), ""); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if client.Connects() != 3 {
		t.Errorf("Connects = %d, want 3", client.Connects())
	}
}

func TestService_NotInitialized(t *testing.T) {
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})
	if _, err := m.Service(context.Background(), ""); !errors.Is(err, apperr.ErrState) {
		t.Fatalf("err = %v, want state error", err)
	}
}

func TestService_CachesAndSharesConnect(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	client.AddService("S2")
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	release := make(chan struct{})
	client.ServiceHook = func(serial string) {
		if serial == "S2" {
			<-release
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc, err := m.Service(context.Background(), "S2")
			if err == nil && svc.Serial() != "S2" {
				err = errors.New("wrong service " + svc.Serial())
			}
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Service: %v", err)
		}
	}

	if client.Connects() != 2 {
		t.Errorf("Connects = %d, want 2 (one per serial)", client.Connects())
	}
	if _, err := m.Service(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}
	if client.Connects() != 2 {
		t.Errorf("cached service reconnected")
	}
}

func TestService_UnknownSerial(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Service(context.Background(), "nope"); !errors.Is(err, apperr.ErrConnection) {
		t.Fatalf("err = %v, want connection error", err)
	}
}

func TestService_ConnectTimeout(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	client.AddService("slow")
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"}, WithConnectTimeout(20*time.Millisecond))
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	defer close(release)
	client.ServiceHook = func(serial string) {
		if serial == "slow" {
			<-release
		}
	}
	if _, err := m.Service(context.Background(), "slow"); !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestService_SecondCallReturnsSameHandle(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	client.AddService("X")
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	first, err := m.Service(context.Background(), "X")
	if err != nil {
		t.Fatal(err)
	}
	before := client.Connects()
	second, err := m.Service(context.Background(), "X")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second call returned a different handle")
	}
	if client.Connects() != before {
		t.Error("second call reconnected")
	}
}

func TestService_NoSerialAndNoDefault(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	s := &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"}
	m, _ := newManager(t, s)
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}

	s.DefaultServiceSerial = ""
	_, err := m.Service(context.Background(), "")
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), config.EnvServiceSerial) {
		t.Errorf("error %q does not name %s", err, config.EnvServiceSerial)
	}
}

func TestService_AbandonedConnectIsCached(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	client.AddService("S2")
	client.ServiceHook = func(serial string) {
		if serial == "S2" {
			time.Sleep(100 * time.Millisecond)
		}
	}
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"})
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Service(ctx, "S2"); !errors.Is(err, apperr.ErrConnection) {
		t.Fatalf("err = %v, want connection error for abandoned wait", err)
	}

	// Joins the connect still in flight.
	svc, err := m.Service(context.Background(), "S2")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if svc.Serial() != "S2" {
		t.Errorf("Serial = %s, want S2", svc.Serial())
	}
	if client.Connects() != 2 {
		t.Errorf("Connects = %d, want 2 (S1 and S2 once each)", client.Connects())
	}
}

func TestService_TimedOutConnectIsCachedOnCompletion(t *testing.T) {
	client := radkittest.NewClient()
	client.AddService("S1")
	client.AddService("S2")
	client.ServiceHook = func(serial string) {
		if serial == "S2" {
			time.Sleep(60 * time.Millisecond)
		}
	}
	m, _ := newManager(t, &config.Settings{RadkitIdentity: "ops", DefaultServiceSerial: "S1"}, WithConnectTimeout(10*time.Millisecond))
	if err := m.Initialize(context.Background(), client); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Service(context.Background(), "S2"); !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(m.Services()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Services(); len(got) != 2 {
		t.Fatalf("Services = %v, want the abandoned connect cached", got)
	}
	if _, err := m.Service(context.Background(), "S2"); err != nil {
		t.Fatalf("Service: %v", err)
	}
	if client.Connects() != 2 {
		t.Errorf("Connects = %d, want 2", client.Connects())
	}
}
