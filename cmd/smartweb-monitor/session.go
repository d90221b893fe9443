package main

import (
	"context"
	"log/slog"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/monitor"
)

// session logs in and restarts monitoring every time the connection
// opens, including after a reconnect. Without credentials it only
// monitors.
type session struct {
	mon         *monitor.Monitor
	username    string
	password    string
	autoMonitor bool
	logger      *slog.Logger

	opened chan struct{}
	unsub  func()
}

func newSession(mon *monitor.Monitor, username, password string, autoMonitor bool, logger *slog.Logger) *session {
	s := &session{
		mon:         mon,
		username:    username,
		password:    password,
		autoMonitor: autoMonitor,
		logger:      logger.With("component", "session"),
		opened:      make(chan struct{}, 1),
	}
	s.unsub = mon.Conn().OnStatus(func(st conn.Status) {
		if st != conn.StatusOpen {
			return
		}
		select {
		case s.opened <- struct{}{}:
		default:
		}
	})
	return s
}

// run serves open notifications until ctx is done. Login blocks on frames,
// so it cannot run inside the status listener.
func (s *session) run(ctx context.Context) {
	defer s.unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.opened:
			s.establish(ctx)
		}
	}
}

func (s *session) establish(ctx context.Context) {
	if s.username != "" {
		if err := s.mon.Auth.Login(ctx, s.username, s.password); err != nil {
			s.logger.Error("login failed", "username", s.username, "err", err)
			return
		}
	}
	if !s.autoMonitor {
		return
	}
	if err := s.mon.Cameras.StartMonitoring(); err != nil {
		s.logger.Warn("start camera monitoring", "err", err)
	}
	if err := s.mon.System.StartMonitoring(); err != nil {
		s.logger.Warn("start system monitoring", "err", err)
	}
}
