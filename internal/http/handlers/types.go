package handlers

import (
	"strings"
	"time"

	"github.com/jmylchreest/hlsforge/internal/models"
	"github.com/jmylchreest/hlsforge/internal/version"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string         `json:"status"`
	Timestamp      string         `json:"timestamp"`
	Version        version.Info   `json:"version"`
	Uptime         string         `json:"uptime"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	ActiveSessions int            `json:"active_sessions"`
	FFmpegBinary   string         `json:"ffmpeg_binary,omitempty"`
	CPUInfo        CPUInfo        `json:"cpu_info"`
	Memory         MemoryInfo     `json:"memory"`
	Database       DatabaseHealth `json:"database"`
}

// CPUInfo contains host load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains host and process memory usage in MiB.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	TranscodersMB     float64 `json:"transcoders_mb"`
	TranscoderCount   int     `json:"transcoder_count"`
}

// DatabaseHealth reports database reachability.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
}

// StreamResponse represents a stream in API responses.
type StreamResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	CreatedAt    time.Time  `json:"created_at"`
	SegmentCount int        `json:"segment_count"`
	DurationMs   int64      `json:"duration_ms"`
	Codecs       []string   `json:"codecs,omitempty"`
	BytesIn      int64      `json:"bytes_in"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	PlaylistURL  string     `json:"playlist_url"`
}

// StreamFromModel converts a stream record to its API form.
func StreamFromModel(s *models.Stream, playlistURL string) StreamResponse {
	resp := StreamResponse{
		ID:           s.ID,
		Name:         s.Name,
		Description:  s.Description,
		Width:        s.Width,
		Height:       s.Height,
		CreatedAt:    s.CreatedAt,
		SegmentCount: s.SegmentCount,
		DurationMs:   s.DurationMs,
		BytesIn:      s.BytesIn,
		FinishedAt:   s.FinishedAt,
		PlaylistURL:  playlistURL,
	}
	if s.Codecs != "" {
		resp.Codecs = strings.Split(s.Codecs, ",")
	}
	return resp
}
