package main

import (
	"errors"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/persistence"
)

func TestOpenStore(t *testing.T) {
	home := t.TempDir()
	tests := []struct {
		driver  string
		wantSQL bool
		wantErr bool
	}{
		{driver: config.DriverMemory},
		{driver: ""},
		{driver: config.DriverSQLite, wantSQL: true},
		{driver: "postgres", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.Config{HomeDir: home, Storage: config.StorageConfig{Driver: tt.driver}}
			store, err := openStore(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer store.Close()
			if _, isSQL := store.(*persistence.SQLiteStore); isSQL != tt.wantSQL {
				t.Fatalf("store type = %T", store)
			}
		})
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	home := setTestConfig(t, "")
	if err := os.Remove(config.ConfigPath(home)); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatal("expected FirstRun without config.yaml")
	}
	if err := writeDefaultConfig(cfg); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}

	again, err := config.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.FirstRun {
		t.Fatal("FirstRun should be false once config.yaml exists")
	}
	if again.Fingerprint() != cfg.Fingerprint() {
		t.Fatalf("fingerprint changed after round trip: %s != %s", again.Fingerprint(), cfg.Fingerprint())
	}
}

func TestWildcardOrigins(t *testing.T) {
	if !wildcardOrigins([]string{"https://shop.example.com", " * "}) {
		t.Fatal("expected wildcard")
	}
	if wildcardOrigins([]string{"https://shop.example.com"}) || wildcardOrigins(nil) {
		t.Fatal("unexpected wildcard")
	}
}

func TestIsAddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, err = net.Listen("tcp", ln.Addr().String())
	if err == nil {
		t.Fatal("expected second listen to fail")
	}
	if !isAddrInUse(err) {
		t.Fatalf("isAddrInUse(%v) = false", err)
	}
	if isAddrInUse(&os.SyscallError{Syscall: "bind", Err: syscall.EACCES}) {
		t.Fatal("EACCES is not addr-in-use")
	}
	if isAddrInUse(errors.New("boom")) {
		t.Fatal("plain error is not addr-in-use")
	}
}

func TestPortOccupantHint(t *testing.T) {
	orig := execCommandFunc
	t.Cleanup(func() { execCommandFunc = orig })

	execCommandFunc = func(name string, args ...string) *exec.Cmd {
		return exec.Command("echo", "4242")
	}
	if hint := portOccupantHint("127.0.0.1:18790"); !strings.Contains(hint, "PID 4242") {
		t.Fatalf("hint = %q", hint)
	}

	execCommandFunc = func(name string, args ...string) *exec.Cmd {
		return exec.Command("false")
	}
	if hint := portOccupantHint("127.0.0.1:18790"); !strings.Contains(hint, "Port 18790 is already in use") {
		t.Fatalf("hint = %q", hint)
	}
	if hint := portOccupantHint("garbage"); !strings.Contains(hint, "garbage") {
		t.Fatalf("hint = %q", hint)
	}
}
