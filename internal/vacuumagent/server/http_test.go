package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/command"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plant"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/seq"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/sim"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	opts := options.NewPlantOptions()
	pm := plc.DefaultPointMap()
	eng := sim.NewEngine(pm, opts.SimValveSettle)
	gw := plc.NewGateway(eng, "sim", 0, 10*time.Second)
	if !gw.Connect(context.Background()) {
		t.Fatal("simulator connect failed")
	}
	mir := plant.NewMirror(pm)
	alm := alarm.NewManager("sub000", alarm.NewStore(filepath.Join(t.TempDir(), "alarms.json")), nil)
	trk := tracker.New(opts.ValveTimeout, nil)
	act := plant.NewActuator(gw, pm, mir, trk)
	s := seq.New(act, trk, alm, opts)

	eng.Step(0.1)
	mir.Refresh(gw)
	s.Tick(mir.Snapshot())

	status := func() core.Status {
		return core.Status{
			Station: "sub000",
			Mode:    s.Mode(),
			State:   s.State(),
			Step:    s.Step(),
			Plant:   mir.Snapshot(),
			Alarms:  alm.Summary(),
		}
	}
	return New(options.NewHttpOptions(), status, alm, command.NewRegistry(s, alm), gw.IsConnected)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"state":"Idle"`) {
		t.Fatalf("unexpected status payload: %s", w.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	if w := do(t, srv, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", w.Code)
	}
}

func TestCommandEndpoint(t *testing.T) {
	srv := newTestServer(t)

	if w := do(t, srv, http.MethodPost, "/v1/commands/SwitchToManual", ""); w.Code != http.StatusOK {
		t.Fatalf("SwitchToManual = %d: %s", w.Code, w.Body.String())
	}
	// Unknown command -> 404.
	if w := do(t, srv, http.MethodPost, "/v1/commands/Nonsense", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown command = %d, want 404", w.Code)
	}
	// Bad index -> 400.
	if w := do(t, srv, http.MethodPost, "/v1/commands/SetGateValve", `{"index":99,"open":true}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad index = %d, want 400", w.Code)
	}
	// Mode conflict -> 409.
	if w := do(t, srv, http.MethodPost, "/v1/commands/SwitchToAuto", ""); w.Code != http.StatusOK {
		t.Fatalf("SwitchToAuto = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/v1/commands/SetGateValve", `{"index":0,"open":true}`); w.Code != http.StatusConflict {
		t.Fatalf("manual op in Auto = %d, want 409", w.Code)
	}
}

func TestAlarmEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.alarms.Raise(core.AlarmCodePhaseSequence, core.AlarmTypeInterlock, "phase sequence wrong", "phase-monitor")

	w := do(t, srv, http.MethodGet, "/v1/alarms", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"code":3001`) {
		t.Fatalf("alarms = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"device":"phase-monitor"`) {
		t.Fatalf("alarm payload missing device: %s", w.Body.String())
	}
	w = do(t, srv, http.MethodGet, "/v1/alarms/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
}
