package ndi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

type memTransport struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (m *memTransport) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }

func (m *memTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[topic] = append(m.payloads[topic], payload)
	return nil
}

func (m *memTransport) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Publish(topic, data, 1, retained)
}

func (m *memTransport) on(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[topic]
}

type fixture struct {
	transport *memTransport
	registry  *registry.Registry
	router    chi.Router
}

func newFixture(t *testing.T, settings map[string]any) *fixture {
	t.Helper()
	tr := &memTransport{payloads: make(map[string][][]byte)}
	reg := registry.New(registry.WithPublisher(tr))
	relay := dispatcher.NewRelay(tr, reg)
	sched := scheduler.New(relay)
	d := dispatcher.New(tr, reg, sched, relay)

	p, err := New(d.Host(), settings)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = d.Stop()
		sched.Stop()
	})

	r := chi.NewRouter()
	p.(dispatcher.RouteProvider).Routes(r)

	meta := func(id string, body map[string]any) {
		if err := reg.MergeMeta(id, body, time.Time{}); err != nil {
			t.Fatalf("MergeMeta(%s) error = %v", id, err)
		}
	}
	meta("pi-01", map[string]any{"modules": []any{"ndi"}, "capabilities": map[string]any{"ndi": map[string]any{"record": true}}})
	meta("pi-02", map[string]any{"modules": []any{"led"}})
	if err := reg.MergeStatus("pi-01", map[string]any{}, time.Time{}); err != nil {
		t.Fatalf("MergeStatus() error = %v", err)
	}

	return &fixture{transport: tr, registry: reg, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestNewSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
		want     int
	}{
		{"none", nil, false, 0},
		{"yaml list", map[string]any{"sources": []any{"a", "b"}}, false, 2},
		{"string slice", map[string]any{"sources": []string{"a"}}, false, 1},
		{"non-string entry", map[string]any{"sources": []any{"a", 3}}, true, 0},
		{"not a list", map[string]any{"sources": "a"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(&dispatcher.HostContext{}, tt.settings)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(p.(*Plugin).Sources()) != tt.want {
				t.Errorf("Sources() = %v, want %d entries", p.(*Plugin).Sources(), tt.want)
			}
		})
	}
}

func TestPluginIdentity(t *testing.T) {
	p, _ := New(&dispatcher.HostContext{}, nil)
	if p.Name() != "ndi" {
		t.Errorf("Name() = %q", p.Name())
	}
	if f := p.TopicFilters(); len(f) != 1 || f[0] != "/lab/orchestrator/ndi/cmd" {
		t.Errorf("TopicFilters() = %v", f)
	}
	ui := p.(dispatcher.UIProvider).UI()
	if ui.Path != "/ui/ndi" || ui.Template != "ndi.html" {
		t.Errorf("UI() = %+v", ui)
	}
}

func TestSourcesRoute(t *testing.T) {
	f := newFixture(t, map[string]any{"sources": []any{"studio (cam1)"}})
	rec := f.do(t, http.MethodGet, "/sources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sources []string `json:"sources"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Sources) != 1 || body.Sources[0] != "studio (cam1)" {
		t.Errorf("sources = %v", body.Sources)
	}
}

func TestDevicesRoute(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/devices", nil)

	var body struct {
		Devices map[string]deviceView `json:"devices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Devices) != 1 {
		t.Fatalf("devices = %v, want only pi-01", body.Devices)
	}
	dev := body.Devices["pi-01"]
	caps, _ := dev.Capabilities.(map[string]any)
	if !dev.Online || caps["record"] != true {
		t.Errorf("pi-01 = %+v", dev)
	}
}

func TestStatusRoute(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/status", nil)
	var snap protocol.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Devices) != 2 {
		t.Errorf("snapshot devices = %d, want 2", len(snap.Devices))
	}
}

func TestSendRoute(t *testing.T) {
	f := newFixture(t, map[string]any{"sources": []any{"cam1"}})

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed", "nope", http.StatusBadRequest},
		{"missing source", map[string]any{"device_id": "pi-01"}, http.StatusBadRequest},
		{"unknown source", map[string]any{"device_id": "pi-01", "source": "cam9"}, http.StatusBadRequest},
		{"unknown device", map[string]any{"device_id": "pi-99", "source": "cam1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/send", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := len(f.transport.on("/lab/device/pi-01/ndi/cmd")); n != 0 {
		t.Fatalf("rejected sends relayed %d commands", n)
	}

	rec := f.do(t, http.MethodPost, "/send", map[string]any{"device_id": "pi-01", "source": "cam1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var ack protocol.Ack
	_ = json.NewDecoder(rec.Body).Decode(&ack)
	if ack.Code != protocol.CodeDispatched {
		t.Errorf("ack = %+v", ack)
	}

	relayed := f.transport.on("/lab/device/pi-01/ndi/cmd")
	if len(relayed) != 1 {
		t.Fatalf("relayed %d commands, want 1", len(relayed))
	}
	var env protocol.Envelope
	_ = json.Unmarshal(relayed[0], &env)
	if env.Action != "start" || env.Actor != "api" || env.Params["source"] != "cam1" {
		t.Errorf("relayed envelope = %+v", env)
	}
}

func TestSendRespectsLease(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.registry.Reserve(registry.Key(Module, "pi-01"), "alice", time.Minute); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, "/send", map[string]any{"device_id": "pi-01", "source": "any", "action": "set_input"})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 (%s)", rec.Code, rec.Body.String())
	}
}
