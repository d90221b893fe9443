package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/protocol"
	"smartweb-monitor/internal/store"
)

const (
	maxBodyBytes        = 1 << 20
	defaultJournalLimit = 100
	connectTimeout      = 15 * time.Second
)

type statusResponse struct {
	Connection conn.Stats          `json:"connection"`
	Auth       monitor.AuthState   `json:"auth"`
	Cameras    monitor.CameraState `json:"cameras"`
	System     systemStatus        `json:"system"`
}

type systemStatus struct {
	Monitoring  bool      `json:"monitoring"`
	LastUpdated time.Time `json:"last_updated"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Server) statusSnapshot() statusResponse {
	sys := s.mon.System.State()
	return statusResponse{
		Connection: s.mon.Conn().Stats(),
		Auth:       s.mon.Auth.State(),
		Cameras:    s.mon.Cameras.State(),
		System: systemStatus{
			Monitoring:  sys.Monitoring,
			LastUpdated: sys.LastUpdated,
			LastError:   sys.LastError,
		},
	}
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.statusSnapshot())
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mon.Engine().Devices())
}

// handleAPIGetDevice accepts the raw id ("m_32_BC_...") or its MAC form.
func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	engine := s.mon.Engine()
	if dev, ok := engine.Device(id); ok {
		s.writeJSON(w, http.StatusOK, dev)
		return
	}
	for _, dev := range engine.Devices() {
		if strings.EqualFold(dev.DisplayID(), id) {
			s.writeJSON(w, http.StatusOK, dev)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "device not found")
}

func (s *Server) handleAPIListCameras(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.mon.Engine().UniqueCameras()))
}

func (s *Server) handleAPIListAllCameras(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.mon.Engine().AllCameras()))
}

func nonNil(cams []*ecs.Camera) []*ecs.Camera {
	if cams == nil {
		return []*ecs.Camera{}
	}
	return cams
}

func (s *Server) handleAPISystem(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mon.System.State())
}

// handleAPIJournal returns the newest recorded frames, oldest first.
func (s *Server) handleAPIJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	total, err := s.journal.Len()
	if err != nil {
		s.logger.Error("journal len", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	skip := total - limit
	frames := make([]store.Frame, 0, min(limit, total))
	i := 0
	err = s.journal.Each(func(f store.Frame) error {
		if i >= skip {
			frames = append(frames, f)
		}
		i++
		return nil
	})
	if err != nil {
		s.logger.Error("journal read", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total": total, "frames": frames})
}

func (s *Server) handleAPIConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()
	if err := s.mon.Conn().Connect(ctx); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.mon.Conn().Stats())
}

func (s *Server) handleAPIDisconnect(w http.ResponseWriter, r *http.Request) {
	s.mon.Conn().Disconnect()
	s.writeJSON(w, http.StatusOK, s.mon.Conn().Stats())
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := s.mon.Auth.Login(r.Context(), req.Username, req.Password); err != nil {
		s.writeError(w, loginErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.mon.Auth.State())
}

func loginErrorStatus(err error) int {
	switch {
	case errors.Is(err, monitor.ErrLoginRejected):
		return http.StatusUnauthorized
	case errors.Is(err, monitor.ErrLoginTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, monitor.ErrLoginInProgress):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Auth.Logout(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.mon.Auth.State())
}

// monitorTarget maps a topic in the URL to the store that follows it.
func (s *Server) monitorTarget(topic string) (start func() error, stop func(), ok bool) {
	switch topic {
	case "ecs", "cameras":
		return s.mon.Cameras.StartMonitoring, s.mon.Cameras.StopMonitoring, true
	case protocol.TopicSystem:
		return s.mon.System.StartMonitoring, s.mon.System.StopMonitoring, true
	}
	return nil, nil, false
}

func (s *Server) handleAPIMonitorStart(w http.ResponseWriter, r *http.Request) {
	start, _, ok := s.monitorTarget(r.PathValue("topic"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown topic")
		return
	}
	if err := start(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleAPIMonitorStop(w http.ResponseWriter, r *http.Request) {
	_, stop, ok := s.monitorTarget(r.PathValue("topic"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown topic")
		return
	}
	stop()
	s.writeOK(w)
}

type autoScanRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAPIAutoScan(w http.ResponseWriter, r *http.Request) {
	var req autoScanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.mon.Cameras.SetAutoScan(*req.Enabled); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"autoscan": *req.Enabled})
}

func (s *Server) handleAPIScanCameras(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Cameras.ScanCameras(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleAPISnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Cameras.TakeSnapshot(r.PathValue("name")); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

type groupRequest struct {
	Group string `json:"group"`
}

func (s *Server) decodeGroup(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req groupRequest
	if !s.decodeBody(w, r, &req) {
		return "", false
	}
	if req.Group == "" {
		s.writeError(w, http.StatusBadRequest, "group is required")
		return "", false
	}
	return req.Group, true
}

func (s *Server) handleAPIAddGroup(w http.ResponseWriter, r *http.Request) {
	group, ok := s.decodeGroup(w, r)
	if !ok {
		return
	}
	if err := s.mon.Cameras.AddGroup(group); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleAPIRemoveGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Cameras.RemoveGroup(r.PathValue("group")); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleAPIAddGroupToCamera(w http.ResponseWriter, r *http.Request) {
	group, ok := s.decodeGroup(w, r)
	if !ok {
		return
	}
	if err := s.mon.Cameras.AddGroupToCamera(r.PathValue("name"), group); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeOK(w)
}

type commandRequest struct {
	Command string `json:"command"`
}

// handleAPICommand forwards a raw protocol line.
func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		s.writeError(w, http.StatusBadRequest, "command must be a single non-empty line")
		return
	}
	if err := s.mon.Send(cmd); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.logger.Info("raw command sent", "cmd", protocol.Redact(cmd))
	s.writeOK(w)
}

// writeCommandError maps monitor send errors to HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrNotOpen):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrSendFailed):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeOK(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
