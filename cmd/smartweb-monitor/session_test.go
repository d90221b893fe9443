package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/conn/conntest"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countWritten(tr *conntest.Transport, prefix string) int {
	n := 0
	for _, s := range tr.Sockets() {
		for _, w := range s.Written() {
			if strings.HasPrefix(w, prefix) {
				n++
			}
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ackLogins answers every LOGIN frame with loginok.
func ackLogins(tr *conntest.Transport) {
	tr.OnDial(func(s *conntest.Socket) {
		go func() {
			answered := 0
			for !s.Closed() {
				n := 0
				for _, w := range s.Written() {
					if strings.HasPrefix(w, "LOGIN ") {
						n++
					}
				}
				if n > answered {
					answered = n
					s.Deliver(`{"c":"loginok","username":"admin"}`)
				}
				time.Sleep(time.Millisecond)
			}
		}()
	})
}

func TestSessionLogsInAndMonitorsOnEveryOpen(t *testing.T) {
	logger := quietLogger()
	tr := conntest.NewTransport()
	ackLogins(tr)
	mgr := conn.NewManager(conn.Options{
		Endpoint:          "ws://controller.test/ws",
		Transport:         tr,
		ReconnectInterval: 10 * time.Millisecond,
	}, logger)
	mon := monitor.New(mgr, ecs.NewEngine(logger), monitor.NewEventBus(logger), monitor.Options{AckTimeout: time.Second}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		mon.Close()
		mgr.Disconnect()
	})
	sess := newSession(mon, "admin", "secret", true, logger)
	go sess.run(ctx)

	if err := mgr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first login", func() bool { return mon.Auth.State().LoggedIn })
	waitFor(t, "monitoring", func() bool { return countWritten(tr, "DO MONITOR system") == 1 })
	if countWritten(tr, "DO MONITORECS") != 1 {
		t.Error("camera monitoring not started")
	}

	// A dropped connection reconnects on its own; the session logs in again.
	tr.Last().Drop(conn.CloseAbnormal)
	waitFor(t, "reconnect", func() bool { return tr.Dials() == 2 })
	waitFor(t, "second login", func() bool { return countWritten(tr, "LOGIN ") == 2 && mon.Auth.State().LoggedIn })
	waitFor(t, "monitoring again", func() bool { return countWritten(tr, "DO MONITOR system") == 2 })
}

func TestSessionWithoutCredentialsOnlyMonitors(t *testing.T) {
	logger := quietLogger()
	tr := conntest.NewTransport()
	mgr := conn.NewManager(conn.Options{
		Endpoint:          "ws://controller.test/ws",
		Transport:         tr,
		ReconnectInterval: time.Hour,
	}, logger)
	mon := monitor.New(mgr, ecs.NewEngine(logger), monitor.NewEventBus(logger), monitor.Options{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		mon.Close()
		mgr.Disconnect()
	})
	go newSession(mon, "", "", true, logger).run(ctx)

	if err := mgr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "monitoring", func() bool { return countWritten(tr, "DO MONITORECS") == 1 })
	if countWritten(tr, "LOGIN ") != 0 {
		t.Error("LOGIN sent without credentials")
	}
}
