package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/flowlab/flowcal/pkg/events"
)

// serveUnix serves h on a fresh unix socket and returns its path.
func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "flowcal")
	if err != nil {
		t.Fatal(err)
	}
	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = os.RemoveAll(dir)
	})
	return sock
}

func TestClientDecodesResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `"v1.2.3"`)
	})
	mux.HandleFunc("/selection", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			fmt.Fprint(w, `[1]`)
			return
		}
		fmt.Fprint(w, `[0, 2]`)
	})
	mux.HandleFunc("/measure", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("unit") != "velocity" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `"a measurement session is already running"`)
	})
	c := NewClient(serveUnix(t, mux))

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion = %q, %v", v, err)
	}

	sel, err := c.SetSelection([]int{0, 2})
	if err != nil || len(sel) != 2 {
		t.Fatalf("SetSelection = %v, %v", sel, err)
	}

	_, err = c.Measure(1, true)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err.Error() != "a measurement session is already running" {
		t.Fatalf("daemon message should be unwrapped from JSON, got %q", err.Error())
	}

	if _, err := c.GetSummary(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown path, got %v", err)
	}
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.GetVersion(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestClientEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event:console.line\ndata:{\"line\":\"1.5\",\"ts\":1}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event:session.phase\ndata:{\"from\":\"Idle\",\"to\":\"Collecting\",\"ts\":2}\n\n")
		fmt.Fprint(w, "event:console.line\ndata:{\"line\":\"never read\",\"ts\":3}\n\n")
	})
	c := NewClient(serveUnix(t, mux))

	var got []events.Event
	err := c.Events(context.Background(), func(ev events.Event) bool {
		got = append(got, ev)
		return len(got) < 2
	})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != events.ConsoleLine || got[1].Name != events.SessionPhase {
		t.Fatalf("events = %+v", got)
	}

	line, err := events.DecodeAs[events.ConsoleLineEvent](got[0])
	if err != nil || line.Line != "1.5" {
		t.Fatalf("console line = %+v, %v", line, err)
	}
	phase, err := events.DecodeAs[events.SessionPhaseEvent](got[1])
	if err != nil || phase.To != "Collecting" {
		t.Fatalf("phase = %+v, %v", phase, err)
	}
}
