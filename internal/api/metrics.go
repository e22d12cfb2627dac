package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
	"github.com/nerrad567/lab-orchestrator-core/internal/worker"
)

// SystemStats is the response of GET /api/stats.
type SystemStats struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeStats       `json:"runtime"`
	WebSocket     WSStats            `json:"websocket"`
	Registry      RegistryStats      `json:"registry"`
	Jobs          JobStats           `json:"jobs"`
	Lanes         []worker.PoolStats `json:"lanes"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// RegistryStats counts devices and live leases.
type RegistryStats struct {
	Devices int `json:"devices"`
	Online  int `json:"online"`
	Leases  int `json:"leases"`
}

// JobStats counts retained jobs by state.
type JobStats struct {
	Pending   int `json:"pending"`
	Fired     int `json:"fired"`
	Cancelled int `json:"cancelled"`
}

// handleStats returns host statistics for dashboards that do not scrape
// Prometheus.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSStats{
			ConnectedClients: s.hub.ClientCount(),
		},
		Lanes: s.dispatcher.LaneStats(),
	}

	snap := s.registry.Snapshot()
	stats.Registry.Devices = len(snap.Devices)
	stats.Registry.Leases = len(snap.Locks)
	for _, dev := range snap.Devices {
		if dev.Online {
			stats.Registry.Online++
		}
	}

	for _, job := range s.scheduler.List() {
		switch job.State {
		case scheduler.StatePending:
			stats.Jobs.Pending++
		case scheduler.StateFired:
			stats.Jobs.Fired++
		case scheduler.StateCancelled:
			stats.Jobs.Cancelled++
		}
	}

	writeJSON(w, http.StatusOK, stats)
}
