package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/vrpn-core/internal/vrpn"
)

// SystemMetrics is the /metrics document: the supervisor process itself
// plus the supervised server's stats.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Server        vrpn.Stats     `json:"server"`
}

// RuntimeMetrics reports the supervisor's Go runtime.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics reports connected log viewers.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

func readRuntime() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	mb := func(b uint64) float64 { return float64(b) / (1 << 20) }
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mb(ms.Alloc),
		MemoryTotalMB: mb(ms.TotalAlloc),
		NumGC:         ms.NumGC,
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       readRuntime(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Server:        s.supervisor.Stats(),
	})
}
