package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/database"
)

// HealthHandler exposes liveness and system metrics endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	limits    *admission.Controller
	auth      *config.AuthConfig
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, db *database.DB, limits *admission.Controller, auth *config.AuthConfig) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		db:        db,
		limits:    limits,
		auth:      auth,
	}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string  `json:"status" doc:"ok or degraded"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Database      string  `json:"database" doc:"ok or the ping error"`
}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// SystemResponse reports host and process resource usage.
type SystemResponse struct {
	GoVersion      string    `json:"go_version"`
	NumCPU         int       `json:"num_cpu"`
	NumGoroutine   int       `json:"num_goroutine"`
	MemoryTotal    uint64    `json:"memory_total_bytes"`
	MemoryUsed     uint64    `json:"memory_used_bytes"`
	MemoryPercent  float64   `json:"memory_used_percent"`
	LoadAverages   []float64 `json:"load_averages,omitempty" doc:"1, 5 and 15 minute load"`
	ProcessRSS     uint64    `json:"process_rss_bytes,omitempty"`
	ProcessCPUPerc float64   `json:"process_cpu_percent,omitempty"`
}

// SystemOutput is the output for the system endpoint.
type SystemOutput struct {
	Body SystemResponse
}

// Register registers the health and system routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getSystem",
		Method:      "GET",
		Path:        "/api/v1/admin/system",
		Summary:     "System resource usage",
		Description: "Admin-only host and process metrics",
		Tags:        []string{"Admin"},
	}, h.GetSystem)
}

// GetHealth reports liveness. It never fails; a broken database turns
// the status to degraded instead.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Database:      "ok",
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
		}
	}
	return &HealthOutput{Body: resp}, nil
}

// GetSystem reports resource usage. Metric collection failures leave the
// corresponding fields zero rather than failing the request.
func (h *HealthHandler) GetSystem(ctx context.Context, _ *struct{}) (*SystemOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassAdmin)
	if err != nil {
		return nil, err
	}
	if h.auth != nil && !h.auth.IsAdmin(principal) {
		return nil, huma.Error403Forbidden("admin access required")
	}

	resp := SystemResponse{
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryTotal = vm.Total
		resp.MemoryUsed = vm.Used
		resp.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.LoadAverages = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			resp.ProcessRSS = info.RSS
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			resp.ProcessCPUPerc = pct
		}
	}
	return &SystemOutput{Body: resp}, nil
}
