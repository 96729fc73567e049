package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"medshare/internal/ledger"
	"medshare/pkg/logger"

	"github.com/shirou/gopsutil/v3/cpu"
)

type Health struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	Ledger         string  `json:"ledger"`
	Fee            string  `json:"fee_wei,omitempty"`
}

// HealthHandler reports process load and whether the ledger answers a read.
type HealthHandler struct {
	Ledger  ledger.Reader
	Started time.Time
}

func NewHealthHandler(l ledger.Reader) *HealthHandler {
	return &HealthHandler{Ledger: l, Started: time.Now()}
}

func (h *HealthHandler) Check(ctx context.Context) Health {
	health := Health{Status: "ok", Ledger: "reachable"}
	health.UptimeSeconds = int64(time.Since(h.Started).Seconds())

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.MemoryMB = float64(m.Alloc) / (1024 * 1024)

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health.CPULoadPercent = percents[0]
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	fee, err := h.Ledger.CurrentFee(ctx)
	if err != nil {
		logger.Sugar.Warnf("Health: ledger read failed: %v", err)
		health.Status = "degraded"
		health.Ledger = "unreachable"
		return health
	}
	health.Fee = fee.String()
	return health
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	health := h.Check(r.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}
