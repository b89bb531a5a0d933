package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowlab/flowcal/pkg/calibration"
	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/link"
	"github.com/flowlab/flowcal/pkg/utils/ptr"
)

// fakeConn is a scripted serial link.
type fakeConn struct {
	mu         sync.Mutex
	connected  bool
	address    string
	lines      []string
	written    []string
	writeErr   error
	connectErr error
}

func (f *fakeConn) WriteLine(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return link.ErrNotConnected
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, text)
	return nil
}

func (f *fakeConn) ReadLine(_ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", link.ErrNotConnected
	}
	if len(f.lines) == 0 {
		return "", nil
	}
	l := f.lines[0]
	f.lines = f.lines[1:]
	return l, nil
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) ClearInputBuffer() error { return nil }

func (f *fakeConn) Connect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.address = address
	return nil
}

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.address = ""
	return nil
}

func (f *fakeConn) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

// setupDaemon wires the package state to a fake link and returns the router.
func setupDaemon(t *testing.T, raw *config.RawFileConfig) (*gin.Engine, *fakeConn) {
	t.Helper()

	fake := &fakeConn{connected: true, address: "/dev/ttyFAKE"}
	origLink, origPorts := newLink, listPorts
	newLink = func(int) link.Conn { return fake }
	listPorts = func() ([]string, error) { return []string{"/dev/ttyFAKE"}, nil }
	t.Cleanup(func() {
		newLink, listPorts = origLink, origPorts
		sessionRunning.Store(false)
	})

	if raw == nil {
		raw = &config.RawFileConfig{}
	}
	initState(config.NewFileFromConfig(raw, filepath.Join(t.TempDir(), "config.json")))
	return setupRoutes(), fake
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func seed(refs ...float64) {
	for i, ref := range refs {
		v := ref * 2
		dataset.Append(calibration.Experiment{
			Reference:      ref,
			VoltageAverage: &v,
			Precision:      0.1,
			Samples:        []float64{v - 0.1*float64(i+1), v, v + 0.1*float64(i+1)},
		})
	}
}

func TestMeasureAppendsExperiment(t *testing.T) {
	r, fake := setupDaemon(t, nil)
	fake.lines = []string{"1.0", "2.0", "promedio flujo = 1.5", "prec = 0.1", "exactitud"}

	w := do(t, r, http.MethodPost, "/measure", `{"reference": 1.5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /measure = %d: %s", w.Code, w.Body.String())
	}
	res := decode[calibration.SessionResult](t, w)
	if res.Phase != calibration.PhaseCollected || res.Index != 0 || res.Experiment == nil || res.ID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fake.written) != 1 || fake.written[0] != "1.5" {
		t.Fatalf("written = %v", fake.written)
	}

	list := decode[ExperimentList](t, do(t, r, http.MethodGet, "/experiments", ""))
	if len(list.Experiments) != 1 || *list.Experiments[0].VoltageAverage != 1.5 {
		t.Fatalf("experiments = %+v", list.Experiments)
	}

	st := decode[ConsoleStatus](t, do(t, r, http.MethodGet, "/console", ""))
	if len(st.Lines) != 5 {
		t.Fatalf("session lines should be echoed to the console, got %+v", st.Lines)
	}
}

func TestMeasureVelocity(t *testing.T) {
	r, fake := setupDaemon(t, &config.RawFileConfig{VelocityFactor: ptr.To(2.0)})
	fake.lines = []string{"promedio flujo = 6", "prec = 0.2", "exactitud"}

	w := do(t, r, http.MethodPost, "/measure?unit=velocity", `{"reference": 3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /measure = %d: %s", w.Code, w.Body.String())
	}
	if fake.written[0] != "6" {
		t.Fatalf("velocity should be converted before sending, wrote %v", fake.written)
	}
}

func TestMeasureOffset(t *testing.T) {
	r, fake := setupDaemon(t, nil)
	fake.lines = []string{"offset calculado = 0.05"}

	w := do(t, r, http.MethodPost, "/measure", `{"reference": 0}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /measure = %d: %s", w.Code, w.Body.String())
	}
	offsets := decode[[]float64](t, do(t, r, http.MethodGet, "/offsets", ""))
	if len(offsets) != 1 || offsets[0] != 0.05 {
		t.Fatalf("offsets = %v", offsets)
	}
	if dataset.Len() != 0 {
		t.Fatalf("an offset run must not append an experiment")
	}
}

func TestMeasureErrors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		setup func(f *fakeConn)
		want  int
	}{
		{name: "missing reference", path: "/measure", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed body", path: "/measure", body: `{`, want: http.StatusBadRequest},
		{name: "unknown unit", path: "/measure?unit=knots", body: `{"reference": 1}`, want: http.StatusBadRequest},
		{
			name: "not connected", path: "/measure", body: `{"reference": 1}`,
			setup: func(f *fakeConn) { f.connected = false },
			want:  http.StatusPreconditionFailed,
		},
		{
			name: "incomplete", path: "/measure", body: `{"reference": 1}`,
			setup: func(f *fakeConn) { f.lines = []string{"exactitud"} },
			want:  http.StatusUnprocessableEntity,
		},
		{
			name: "write failure", path: "/measure", body: `{"reference": 1}`,
			setup: func(f *fakeConn) { f.writeErr = errors.New("broken pipe") },
			want:  http.StatusBadGateway,
		},
		{
			name: "busy", path: "/measure", body: `{"reference": 1}`,
			setup: func(*fakeConn) { sessionRunning.Store(true) },
			want:  http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fake := setupDaemon(t, nil)
			if tt.setup != nil {
				tt.setup(fake)
			}
			w := do(t, r, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("POST %s = %d, want %d: %s", tt.path, w.Code, tt.want, w.Body.String())
			}
			if dataset.Len() != 0 || len(dataset.Offsets()) != 0 {
				t.Fatalf("a failed measurement must not touch the store")
			}
		})
	}
}

func TestSelectionRemoveAndStatistics(t *testing.T) {
	r, _ := setupDaemon(t, nil)
	seed(1, 2, 3)

	if w := do(t, r, http.MethodPut, "/selection", `[0, 2]`); w.Code != http.StatusOK {
		t.Fatalf("PUT /selection = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPut, "/selection", `[0, 7]`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid selection should be rejected, got %d", w.Code)
	}
	if sel := decode[[]int](t, do(t, r, http.MethodGet, "/selection", "")); len(sel) != 2 || sel[1] != 2 {
		t.Fatalf("selection = %v", sel)
	}

	if w := do(t, r, http.MethodDelete, "/experiments/0", ""); w.Code != http.StatusOK {
		t.Fatalf("DELETE /experiments/0 = %d", w.Code)
	}
	if sel := decode[[]int](t, do(t, r, http.MethodGet, "/selection", "")); len(sel) != 1 || sel[0] != 1 {
		t.Fatalf("selection should shift after remove, got %v", sel)
	}
	if w := do(t, r, http.MethodDelete, "/experiments/9", ""); w.Code != http.StatusNotFound {
		t.Fatalf("removing a missing experiment = %d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/experiments/x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric index = %d", w.Code)
	}

	reg := decode[calibration.Regression](t, do(t, r, http.MethodGet, "/regression", ""))
	if !reg.Defined || reg.Fit == nil || len(reg.Line) != regressionLinePoints {
		t.Fatalf("regression = %+v", reg)
	}

	dev := decode[calibration.DeviationModel](t, do(t, r, http.MethodGet, "/deviation/1", ""))
	if dev.Index != 1 || dev.Reference != 3 || dev.Degenerate {
		t.Fatalf("deviation = %+v", dev)
	}
	if w := do(t, r, http.MethodGet, "/deviation/5", ""); w.Code != http.StatusNotFound {
		t.Fatalf("deviation of a missing experiment = %d", w.Code)
	}

	sum := decode[calibration.Summary](t, do(t, r, http.MethodGet, "/summary", ""))
	if sum.Experiments != 2 || sum.SensorLimit == nil {
		t.Fatalf("summary = %+v", sum)
	}

	if w := do(t, r, http.MethodDelete, "/experiments", ""); w.Code != http.StatusOK {
		t.Fatalf("DELETE /experiments = %d", w.Code)
	}
	if dataset.Len() != 0 || len(dataset.Selection()) != 0 {
		t.Fatalf("clear should drop experiments and selection")
	}
}

func TestLinkConnectAndDisconnect(t *testing.T) {
	r, fake := setupDaemon(t, nil)
	fake.connected = false

	if w := do(t, r, http.MethodPost, "/link", `{"port": " "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty port = %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/link", `{"port": "/dev/ttyUSB1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /link = %d: %s", w.Code, w.Body.String())
	}
	if conf.Port() != "/dev/ttyUSB1" {
		t.Fatalf("connected port should be remembered, got %q", conf.Port())
	}

	st := decode[LinkStatus](t, do(t, r, http.MethodGet, "/link", ""))
	if !st.Connected || st.Address != "/dev/ttyUSB1" || len(st.Ports) != 1 {
		t.Fatalf("link status = %+v", st)
	}

	if w := do(t, r, http.MethodDelete, "/link", ""); w.Code != http.StatusOK {
		t.Fatalf("DELETE /link = %d", w.Code)
	}
	if fake.IsConnected() {
		t.Fatalf("link should be closed")
	}

	fake.connectErr = errors.New("no such device")
	if w := do(t, r, http.MethodPost, "/link", `{"port": "/dev/nope"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("failed open = %d", w.Code)
	}
}

func TestSendRecordsConsole(t *testing.T) {
	r, fake := setupDaemon(t, nil)

	if w := do(t, r, http.MethodPost, "/send", "  "); w.Code != http.StatusBadRequest {
		t.Fatalf("empty send = %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/send", "cal 1\n"); w.Code != http.StatusCreated {
		t.Fatalf("POST /send = %d: %s", w.Code, w.Body.String())
	}
	if len(fake.written) != 1 || fake.written[0] != "cal 1" {
		t.Fatalf("written = %v", fake.written)
	}

	lines := console.GetRecords()
	if len(lines) != 1 || !lines[0].Sent {
		t.Fatalf("console = %+v", lines)
	}

	fake.connected = false
	if w := do(t, r, http.MethodPost, "/send", "x"); w.Code != http.StatusPreconditionFailed {
		t.Fatalf("send while disconnected = %d", w.Code)
	}
}

func TestVersionAndConfig(t *testing.T) {
	r, _ := setupDaemon(t, &config.RawFileConfig{ConsoleHistory: ptr.To(10)})

	if v := decode[string](t, do(t, r, http.MethodGet, "/version", "")); v == "" {
		t.Fatalf("empty version")
	}
	raw := decode[config.RawFileConfig](t, do(t, r, http.MethodGet, "/config", ""))
	if *raw.ConsoleHistory != 10 || *raw.BaudRate != link.DefaultBaudRate {
		t.Fatalf("config = %+v", raw)
	}
}

func TestSessionErrorStatusDefault(t *testing.T) {
	if got := sessionErrorStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("unknown errors should map to 500, got %d", got)
	}
}

func TestMetrics(t *testing.T) {
	r, fake := setupDaemon(t, nil)
	seed(1, 2)
	fake.lines = []string{"offset calculado = 0.05"}
	if w := do(t, r, http.MethodPost, "/measure", `{"reference": 0}`); w.Code != http.StatusCreated {
		t.Fatalf("POST /measure = %d: %s", w.Code, w.Body.String())
	}

	w := do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	for _, want := range []string{
		`flowcal_sessions_total{outcome="offset"}`,
		"flowcal_experiments 2",
		"flowcal_link_connected 1",
		"flowcal_session_duration_seconds_count",
	} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("metrics are missing %q", want)
		}
	}
}
