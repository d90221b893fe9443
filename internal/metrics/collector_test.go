package metrics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/conn/conntest"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
)

func newTestMonitor(t *testing.T) (*monitor.Monitor, *conntest.Transport) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := conntest.NewTransport()
	mgr := conn.NewManager(conn.Options{
		Endpoint:          "ws://controller.test/ws",
		Transport:         tr,
		ReconnectInterval: time.Hour,
	}, logger)
	m := monitor.New(mgr, ecs.NewEngine(logger), monitor.NewEventBus(logger), monitor.Options{}, logger)
	t.Cleanup(func() {
		m.Close()
		mgr.Disconnect()
	})
	return m, tr
}

// gather returns every sample as name -> label signature -> value.
func gather(t *testing.T, c *Collector) map[string]map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]map[string]float64)
	for _, mf := range families {
		samples := make(map[string]float64)
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetName() + "=" + lp.GetValue() + ","
			}
			switch {
			case m.GetGauge() != nil:
				samples[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				samples[key] = m.GetCounter().GetValue()
			}
		}
		out[mf.GetName()] = samples
	}
	return out
}

func TestCollectorDisconnected(t *testing.T) {
	m, _ := newTestMonitor(t)
	got := gather(t, NewCollector(m))

	if v := got["smartweb_connection_status"]["status=closed,"]; v != 1 {
		t.Errorf("closed status = %v, want 1", v)
	}
	if v := got["smartweb_connection_status"]["status=open,"]; v != 0 {
		t.Errorf("open status = %v, want 0", v)
	}
	if v := got["smartweb_devices_total"][""]; v != 0 {
		t.Errorf("devices = %v", v)
	}
	if v := got["smartweb_autoscan_enabled"][""]; v != 1 {
		t.Errorf("autoscan = %v, want 1 (default)", v)
	}
	if _, ok := got["smartweb_system_cpu_temp_celsius"]; ok {
		t.Error("system metrics exported before any snapshot")
	}
}

func TestCollectorTreeAndSystem(t *testing.T) {
	m, tr := newTestMonitor(t)
	if err := m.Conn().Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Cameras.StartMonitoring(); err != nil {
		t.Fatal(err)
	}
	if err := m.System.StartMonitoring(); err != nil {
		t.Fatal(err)
	}
	sock := tr.Last()
	sock.Deliver(`{"c":"changed","data":"ecs.slaves.m_AA_BB.connected","val":1}`)
	sock.Deliver(`{"c":"changed","data":"ecs.slaves.m_AA_BB.cam[0].name","val":"Gate"}`)
	sock.Deliver(`{"c":"changed","data":"ecs.slaves.m_AA_BB.cam[0].cameraIp","val":"10.0.0.5"}`)
	sock.Deliver(`{"c":"system","cpuTemp":51,"totalRam":1000,"freeRam":250,"upTime":3600,"sessions":2,"thermal":{"gpu-thermal":44}}`)

	deadline := time.Now().Add(2 * time.Second)
	for m.System.State().LastUpdated.IsZero() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	got := gather(t, NewCollector(m))
	checks := []struct {
		name, labels string
		want         float64
	}{
		{"smartweb_connection_status", "status=open,", 1},
		{"smartweb_devices_total", "", 1},
		{"smartweb_device_connected", "device=m_AA_BB,mac=AA:BB,", 1},
		{"smartweb_device_cameras", "device=m_AA_BB,", 1},
		{"smartweb_unique_cameras_total", "", 1},
		{"smartweb_camera_up", "device=m_AA_BB,ip=10.0.0.5,name=Gate,", 1},
		{"smartweb_frames_received_total", "", 4},
		{"smartweb_frames_sent_total", "", 3},
		{"smartweb_system_cpu_temp_celsius", "", 51},
		{"smartweb_system_memory_usage_ratio", "", 0.75},
		{"smartweb_system_uptime_seconds", "", 3600},
		{"smartweb_system_sessions", "", 2},
		{"smartweb_system_thermal_celsius", "zone=gpu-thermal,", 44},
	}
	for _, c := range checks {
		v, ok := got[c.name][c.labels]
		if !ok {
			t.Errorf("%s{%s} missing; have %v", c.name, c.labels, got[c.name])
			continue
		}
		if v != c.want {
			t.Errorf("%s{%s} = %v, want %v", c.name, c.labels, v, c.want)
		}
	}
}
