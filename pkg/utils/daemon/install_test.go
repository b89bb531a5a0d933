package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func fakeSystemctl(t *testing.T, fail string) *[][]string {
	t.Helper()
	var calls [][]string
	old, oldPath := systemctl, unitPath
	unitPath = filepath.Join(t.TempDir(), "system", "flowcal.service")
	systemctl = func(args ...string) error {
		calls = append(calls, args)
		if len(args) > 0 && args[0] == fail {
			return errors.New("exit status 1")
		}
		return nil
	}
	t.Cleanup(func() { systemctl, unitPath = old, oldPath })
	return &calls
}

func TestUnit(t *testing.T) {
	u := Unit("/usr/local/bin/flowcal", "/etc/flowcal.json")
	if !strings.Contains(u, "ExecStart=/usr/local/bin/flowcal daemon --config=/etc/flowcal.json\n") {
		t.Fatalf("unexpected unit:\n%s", u)
	}
}

func TestInstallAndUninstall(t *testing.T) {
	calls := fakeSystemctl(t, "")

	if err := Install("/etc/flowcal.json"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	b, err := os.ReadFile(unitPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "--config=/etc/flowcal.json") {
		t.Fatalf("unexpected unit:\n%s", b)
	}

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Fatalf("unit should be removed, stat err = %v", err)
	}

	want := [][]string{
		{"daemon-reload"},
		{"enable", "--now", "flowcal.service"},
		{"disable", "--now", "flowcal.service"},
		{"daemon-reload"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestUninstallFails(t *testing.T) {
	fakeSystemctl(t, "disable")
	if err := Uninstall(); err == nil {
		t.Fatal("expected an error when systemctl fails")
	}
}
