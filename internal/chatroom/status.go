package chatroom

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
)

// SessionStatus 为状态接口中的单个会话。
type SessionStatus struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Confirmed bool      `json:"confirmed"`
	Remote    string    `json:"remote"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// ProcessStatus 为进程资源占用。
type ProcessStatus struct {
	PID          int32   `json:"pid"`
	RSSBytes     uint64  `json:"rssBytes"`
	CPUPercent   float64 `json:"cpuPercent"`
	NumGoroutine int     `json:"numGoroutine"`
}

// Status 为 GET /sessions 的响应体。
type Status struct {
	Version  string          `json:"version"`
	Running  bool            `json:"running"`
	Capacity int             `json:"capacity"`
	Count    int             `json:"count"`
	Framing  string          `json:"framing"`
	Fanout   string          `json:"fanout"`
	Sessions []SessionStatus `json:"sessions"`
	Process  *ProcessStatus  `json:"process,omitempty"`
}

// Status 返回当前状态快照。
func (s *Server) Status() Status {
	clients := s.registry.Snapshot()
	st := Status{
		Version:  s.version.String(),
		Running:  s.running.Load(),
		Capacity: s.registry.Capacity(),
		Count:    len(clients),
		Framing:  s.cfg.Framing,
		Fanout:   s.cfg.Fanout,
		Sessions: make([]SessionStatus, 0, len(clients)),
		Process:  processStatus(),
	}
	for _, c := range clients {
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:        c.ID(),
			Name:      c.Name(),
			Confirmed: c.Confirmed(),
			Remote:    c.remoteAddr(),
			JoinedAt:  c.JoinedAt(),
		})
	}
	return st
}

func processStatus() *ProcessStatus {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	st := &ProcessStatus{
		PID:          p.Pid,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	return st
}

func (s *Server) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/sessions", s.handleSessions)
	return mux
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := s.ser.Marshal(s.Status())
	if err != nil {
		s.Logger().Warn("marshal status failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", s.ser.ContentType())
	_, _ = w.Write(data)
}

// serveStatus 运行状态接口，ctx 结束时优雅关闭。
func (s *Server) serveStatus(ctx context.Context) error {
	served := conc.Go(func() (struct{}, error) {
		return struct{}{}, s.status.Serve(s.statusListener)
	})

	select {
	case <-served.Done():
		err := served.Err()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "status server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.status.Shutdown(shutdownCtx); err != nil {
			s.Logger().Warn("shutdown status server failed", zap.Error(err))
		}
		return nil
	}
}
