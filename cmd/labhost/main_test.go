package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/broker"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
)

const waitTimeout = 10 * time.Second

func freeAddr(t *testing.T) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return addr.String(), addr.Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func hostConfig(addr string, port int, embedded bool) string {
	return fmt.Sprintf(`
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
    client_id: "labhost-test"
  qos: 1
  embedded:
    enabled: %t
    address: %q
api:
  host: "127.0.0.1"
  port: 0
logging:
  level: warn
  format: text
  output: stdout
metrics:
  enabled: true
plugins:
  - module: led
`, port, embedded, addr)
}

var observers int

// observe connects a tool client and collects messages on filter.
func observe(t *testing.T, addr string, port int, filter string) <-chan string {
	t.Helper()
	cfg := config.Default().MQTT
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = port
	observers++
	cfg.Broker.ClientID = fmt.Sprintf("observer-%d", observers)

	var (
		client *mqtt.Client
		err    error
	)
	deadline := time.Now().Add(waitTimeout)
	for {
		client, err = mqtt.ConnectEphemeral(cfg)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("observer connect to %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })

	ch := make(chan string, 32)
	if err := client.Subscribe(filter, 1, func(_ string, payload []byte) error {
		ch <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe(%s) error = %v", filter, err)
	}
	return ch
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "labhost dev") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configEnv, "/etc/labhost/config.yaml")
	if got := getConfigPath(); got != "/etc/labhost/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

// TestRun_InvalidConfig verifies run fails on an unparseable config file.
func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "mqtt: [not, a, map")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with an invalid config file")
	}
}

func TestRun_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
registry:
  default_lease_s: 0
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "default_lease_s") {
		t.Fatalf("run() error = %v, want validation error", err)
	}
}

func TestRun_UnknownPlugin(t *testing.T) {
	addr, port := freeAddr(t)
	path := writeConfig(t, hostConfig(addr, port, true)+"  - module: lasers\n")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "loading plugins") {
		t.Fatalf("run() error = %v, want plugin load failure", err)
	}
}

// TestRun_EmbeddedBroker starts the whole host on an embedded broker,
// sends a command over MQTT and checks the ack, then shuts down.
func TestRun_EmbeddedBroker(t *testing.T) {
	addr, port := freeAddr(t)
	path := writeConfig(t, hostConfig(addr, port, true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run() error = %v", err)
			}
		case <-time.After(waitTimeout):
			t.Error("run() did not return after cancel")
		}
	}()

	snapshots := observe(t, addr, port, mqtt.Topics{}.Registry())
	select {
	case snap := <-snapshots:
		if !strings.Contains(snap, `"devices"`) {
			t.Errorf("registry snapshot = %s", snap)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no retained registry snapshot")
	}

	acks := observe(t, addr, port, mqtt.Topics{}.OrchestratorEvent("led"))

	cfg := config.Default().MQTT
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = port
	cfg.Broker.ClientID = "sender"
	sender, err := mqtt.ConnectEphemeral(cfg)
	if err != nil {
		t.Fatalf("sender connect: %v", err)
	}
	defer sender.Close()

	cmd := map[string]any{"req_id": "r-1", "actor": "test", "action": "bogus", "params": map[string]any{}}
	if err := sender.PublishJSON(mqtt.Topics{}.OrchestratorCommand("led"), cmd, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case raw := <-acks:
		var ack map[string]any
		if err := json.Unmarshal([]byte(raw), &ack); err != nil {
			t.Fatalf("ack is not JSON: %v", err)
		}
		if ack["req_id"] != "r-1" || ack["ok"] != false || ack["error"] != "unknown_action" {
			t.Errorf("ack = %v", ack)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no ack for command")
	}
}

func TestReadJSONFile(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.json")
	invalid := filepath.Join(dir, "invalid.json")
	os.WriteFile(valid, []byte("{\n  \"labels\": [\"bench\"]\n}\n"), 0600)
	os.WriteFile(invalid, []byte("{labels"), 0600)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "compacts valid json", path: valid, want: `{"labels":["bench"]}`},
		{name: "rejects invalid json", path: invalid, wantErr: true},
		{name: "missing file", path: filepath.Join(dir, "nope.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readJSONFile(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readJSONFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("readJSONFile() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPublishCmd_Args(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"publish", "/lab/device/pi-01/meta"})

	if err := root.Execute(); err == nil {
		t.Fatal("publish with one argument should fail")
	}
}

func TestPublishCmd_ExampleTopics(t *testing.T) {
	path := ""
	example := newPublishCmd(&path).Example
	for _, topic := range []string{
		mqtt.Topics{}.DeviceMeta("pi-01"),
		mqtt.Topics{}.OrchestratorCommand("led"),
	} {
		if !strings.Contains(example, " "+topic+" ") {
			t.Errorf("example does not use %s:\n%s", topic, example)
		}
	}
}

func TestPublishCmd_BadQoS(t *testing.T) {
	file := filepath.Join(t.TempDir(), "meta.json")
	os.WriteFile(file, []byte(`{}`), 0600)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"publish", "/lab/device/pi-01/meta", file, "--qos", "3"})

	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "qos") {
		t.Fatalf("Execute() error = %v, want qos error", err)
	}
}

func TestPublishCmd_Retained(t *testing.T) {
	addr, port := freeAddr(t)
	b, err := broker.Start(config.EmbeddedBrokerConfig{Enabled: true, Address: addr}, nil)
	if err != nil {
		t.Fatalf("starting broker: %v", err)
	}
	defer b.Close()

	configPath := writeConfig(t, hostConfig(addr, port, false))
	file := filepath.Join(t.TempDir(), "meta.json")
	os.WriteFile(file, []byte(`{"labels": ["bench"]}`), 0600)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"publish", "--config", configPath, "--retain", "/lab/device/pi-01/meta", file})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "retain=true") {
		t.Errorf("output = %q", out.String())
	}

	// Retained, so a later subscriber still receives it.
	msgs := observe(t, addr, port, mqtt.Topics{}.DeviceMeta("pi-01"))
	select {
	case got := <-msgs:
		if got != `{"labels":["bench"]}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("retained message not delivered")
	}
}
