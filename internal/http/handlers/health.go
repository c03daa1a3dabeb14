// Package handlers provides HTTP API handlers for hlsforge.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmylchreest/hlsforge/internal/version"
)

// Pinger checks connectivity to the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	startTime      time.Time
	db             Pinger
	activeSessions func() int
	ffmpegBinary   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		startTime:      time.Now(),
		activeSessions: func() int { return 0 },
	}
}

// WithDB sets the database used for health checks.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithActiveSessions sets the function reporting in-flight uploads.
func (h *HealthHandler) WithActiveSessions(fn func() int) *HealthHandler {
	if fn != nil {
		h.activeSessions = fn
	}
	return h
}

// WithFFmpegBinary records the resolved transcoder binary.
func (h *HealthHandler) WithFFmpegBinary(path string) *HealthHandler {
	h.ffmpegBinary = path
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service status, database reachability, active uploads and host metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	db := h.getDatabaseHealth(ctx)

	status := "healthy"
	if db.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:         status,
			Timestamp:      now.UTC().Format(time.RFC3339),
			Version:        version.GetInfo(),
			Uptime:         uptime.Round(time.Second).String(),
			UptimeSeconds:  uptime.Seconds(),
			ActiveSessions: h.activeSessions(),
			FFmpegBinary:   h.ffmpegBinary,
			CPUInfo:        h.getCPUInfo(),
			Memory:         h.getMemoryInfo(),
			Database:       db,
		},
	}, nil
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether dependencies needed to accept uploads are up.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{}
	out.Body.Status = "ready"

	switch {
	case h.db == nil:
		out.Body.Components["database"] = "not_configured"
		out.Body.Status = "not_ready"
	case h.db.Ping(ctx) != nil:
		out.Body.Components["database"] = "error"
		out.Body.Status = "not_ready"
	default:
		out.Body.Components["database"] = "ok"
	}

	if h.ffmpegBinary == "" {
		out.Body.Components["ffmpeg"] = "not_configured"
		out.Body.Status = "not_ready"
	} else {
		out.Body.Components["ffmpeg"] = "ok"
	}

	return out, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns host and process memory usage. Transcoders are
// children of this process, so their RSS is summed separately.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = bytesToMB(vmStat.Total)
		info.UsedMemoryMB = bytesToMB(vmStat.Used)
		info.AvailableMemoryMB = bytesToMB(vmStat.Available)
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMB = bytesToMB(memInfo.RSS)
	}
	if children, err := proc.Children(); err == nil {
		info.TranscoderCount = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
				info.TranscodersMB += bytesToMB(childMem.RSS)
			}
		}
	}

	return info
}

// getDatabaseHealth pings the database and times the round trip.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	health := DatabaseHealth{
		Status:         "ok",
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
	}
	return health
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
