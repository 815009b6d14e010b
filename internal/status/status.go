// Package status exposes the client pipeline's local status endpoint
// for debugging a live capture session.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tutorlink/tutorlink/internal/logx"
)

// VersionInfo identifies the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"buildSha"`
	BuildDate string `json:"buildDate"`
}

// Snapshot is the pipeline state reported on /status. The runner
// supplies it through a callback so the server holds no state of its
// own.
type Snapshot struct {
	Transport    string  `json:"transport"`
	AudioRunning bool    `json:"audioRunning"`
	Volume       float64 `json:"volume"`
	AudioChunks  uint64  `json:"audioChunks"`
	FrameChunks  uint64  `json:"frameChunks"`
}

// hostStats is appended to every snapshot.
type hostStats struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

type statusBody struct {
	Snapshot
	Host hostStats `json:"host"`
}

// Server serves /status and /version.
type Server struct {
	version  VersionInfo
	snapshot func() Snapshot
}

// New creates a status server; snapshot is called on every request.
func New(version VersionInfo, snapshot func() Snapshot) *Server {
	return &Server{version: version, snapshot: snapshot}
}

// Start listens on addr and serves until ctx is cancelled. It returns
// the bound address, which differs from addr when a :0 port was asked.
func (s *Server) Start(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Warn().Err(err).Msg("status server stopped")
		}
	}()
	return ln.Addr().String(), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := statusBody{Snapshot: s.snapshot(), Host: selfStats()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.version)
}

// selfStats reads this process's CPU and memory footprint. Failures
// leave the fields at zero rather than failing the request.
func selfStats() hostStats {
	var hs hostStats
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return hs
	}
	if cpu, err := p.CPUPercent(); err == nil {
		hs.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		hs.RSSBytes = mem.RSS
	}
	return hs
}
