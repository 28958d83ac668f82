package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const Version = "0.1.0"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flight := Status{Status: "healthy", Message: "disabled"}
		if s.sink != nil {
			flight.Message = "enabled"
		}
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Version:   Version,
			Uptime:    formatDuration(time.Since(s.startTime)),
			Checks: map[string]Status{
				"server":   {Status: "healthy"},
				"sessions": {Status: "healthy", Message: strconv.Itoa(s.sessions.Len()) + " active"},
				"flight":   flight,
			},
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

func ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]Status{
			"memory":     checkMemory(),
			"goroutines": checkGoroutines(),
		}
		for _, check := range checks {
			if check.Status != "healthy" {
				writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"status": "not ready",
					"checks": checks,
				})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready\n"))
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionInfo{Version: Version, GoVersion: runtime.Version()})
	}
}

func checkMemory() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > 1024*1024*1024 {
		return Status{Status: "warning", Message: "High memory usage"}
	}
	return Status{Status: "healthy"}
}

func checkGoroutines() Status {
	if runtime.NumGoroutine() > 10000 {
		return Status{Status: "warning", Message: "High number of goroutines"}
	}
	return Status{Status: "healthy"}
}

// formatDuration renders d as e.g. "1d 2h 3m 4s", omitting zero units.
func formatDuration(d time.Duration) string {
	parts := []struct {
		n    int
		unit string
	}{
		{int(d.Hours()) / 24, "d"},
		{int(d.Hours()) % 24, "h"},
		{int(d.Minutes()) % 60, "m"},
		{int(d.Seconds()) % 60, "s"},
	}
	var out []string
	for _, p := range parts {
		if p.n > 0 {
			out = append(out, strconv.Itoa(p.n)+p.unit)
		}
	}
	if len(out) == 0 {
		return "0s"
	}
	return strings.Join(out, " ")
}

// writeJSON buffers the body; unencodable values such as NaN yield a 500.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL","message":"response not encodable"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
