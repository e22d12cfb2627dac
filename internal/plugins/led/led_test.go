package led

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
)

func TestNew(t *testing.T) {
	p, err := New(&dispatcher.HostContext{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != Module {
		t.Errorf("Name() = %q, want %q", p.Name(), Module)
	}
	if f := p.TopicFilters(); len(f) != 1 || f[0] != "/lab/orchestrator/led/cmd" {
		t.Errorf("TopicFilters() = %v", f)
	}

	got := p.(*Plugin).Actions()
	want := []string{"brightness", "effect", "off", "solid"}
	if len(got) != len(want) {
		t.Fatalf("Actions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Actions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	ui := p.(dispatcher.UIProvider).UI()
	if ui.Path != "/ui/led" || ui.Template != "plugin_shell.html" {
		t.Errorf("UI() = %+v", ui)
	}
}

func TestStatusRoute(t *testing.T) {
	reg := registry.New()
	if err := reg.MergeMeta("strip-1", map[string]any{"modules": []any{"led"}}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	p, _ := New(&dispatcher.HostContext{Registry: reg}, nil)

	r := chi.NewRouter()
	p.(dispatcher.RouteProvider).Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap protocol.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Devices["strip-1"]; !ok {
		t.Errorf("snapshot devices = %v", snap.Devices)
	}
}
