package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/script"
)

// SystemMetrics is the GET /metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Engine        EngineMetrics  `json:"engine"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// EngineMetrics summarises the script engine.
type EngineMetrics struct {
	Running bool          `json:"running"`
	Script  string        `json:"script,omitempty"`
	Driver  string        `json:"driver"`
	Stats   *script.Stats `json:"stats,omitempty"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime and engine metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := s.engine.Status()
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Engine: EngineMetrics{
			Running: status.Running,
			Script:  status.Script,
			Driver:  status.Driver,
			Stats:   status.Stats,
		},
	})
}
