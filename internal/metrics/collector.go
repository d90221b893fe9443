// Package metrics exposes connection, camera tree and host telemetry as
// Prometheus metrics. Values are read from the monitor at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/monitor"
)

const namespace = "smartweb"

var statuses = []conn.Status{
	conn.StatusClosed,
	conn.StatusConnecting,
	conn.StatusOpen,
	conn.StatusClosing,
	conn.StatusError,
}

var (
	connStatusDesc = prometheus.NewDesc(
		namespace+"_connection_status", "Current connection state (1 for the active state).", []string{"status"}, nil,
	)
	reconnectAttemptsDesc = prometheus.NewDesc(
		namespace+"_reconnect_attempts", "Consecutive reconnect attempts since the last successful open.", nil, nil,
	)
	framesInDesc = prometheus.NewDesc(
		namespace+"_frames_received_total", "Frames received from the controller.", nil, nil,
	)
	framesOutDesc = prometheus.NewDesc(
		namespace+"_frames_sent_total", "Commands written to the controller.", nil, nil,
	)
	sendFailuresDesc = prometheus.NewDesc(
		namespace+"_send_failures_total", "Commands dropped because the connection was not open or the write failed.", nil, nil,
	)
	reconnectsDesc = prometheus.NewDesc(
		namespace+"_reconnects_total", "Reconnect attempts fired.", nil, nil,
	)
	loggedInDesc = prometheus.NewDesc(
		namespace+"_logged_in", "Whether the session is logged in.", nil, nil,
	)
	devicesDesc = prometheus.NewDesc(
		namespace+"_devices_total", "Slave devices seen.", nil, nil,
	)
	deviceConnectedDesc = prometheus.NewDesc(
		namespace+"_device_connected", "Device connected flag as reported.", []string{"device", "mac"}, nil,
	)
	deviceErrorDesc = prometheus.NewDesc(
		namespace+"_device_error", "Device self-test error flag.", []string{"device"}, nil,
	)
	deviceCamerasDesc = prometheus.NewDesc(
		namespace+"_device_cameras", "Cameras known on a device.", []string{"device"}, nil,
	)
	uniqueCamerasDesc = prometheus.NewDesc(
		namespace+"_unique_cameras_total", "Cameras after de-duplication by name.", nil, nil,
	)
	cameraUpDesc = prometheus.NewDesc(
		namespace+"_camera_up", "Camera connection status.", []string{"name", "device", "ip"}, nil,
	)
	autoScanDesc = prometheus.NewDesc(
		namespace+"_autoscan_enabled", "Controller autoscan flag.", nil, nil,
	)
	cpuTempDesc = prometheus.NewDesc(
		namespace+"_system_cpu_temp_celsius", "Host CPU temperature.", nil, nil,
	)
	thermalDesc = prometheus.NewDesc(
		namespace+"_system_thermal_celsius", "Host thermal zone temperature.", []string{"zone"}, nil,
	)
	memoryDesc = prometheus.NewDesc(
		namespace+"_system_memory_usage_ratio", "Used RAM as a fraction of total.", nil, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		namespace+"_system_uptime_seconds", "Host uptime.", nil, nil,
	)
	sessionsDesc = prometheus.NewDesc(
		namespace+"_system_sessions", "Active sessions on the host controller.", nil, nil,
	)
	systemUpdatedDesc = prometheus.NewDesc(
		namespace+"_system_last_update_timestamp_seconds", "Unix time of the last system snapshot.", nil, nil,
	)
)

// Collector implements prometheus.Collector over a Monitor.
type Collector struct {
	m *monitor.Monitor
}

func NewCollector(m *monitor.Monitor) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- connStatusDesc
	ch <- reconnectAttemptsDesc
	ch <- framesInDesc
	ch <- framesOutDesc
	ch <- sendFailuresDesc
	ch <- reconnectsDesc
	ch <- loggedInDesc
	ch <- devicesDesc
	ch <- deviceConnectedDesc
	ch <- deviceErrorDesc
	ch <- deviceCamerasDesc
	ch <- uniqueCamerasDesc
	ch <- cameraUpDesc
	ch <- autoScanDesc
	ch <- cpuTempDesc
	ch <- thermalDesc
	ch <- memoryDesc
	ch <- uptimeDesc
	ch <- sessionsDesc
	ch <- systemUpdatedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// 1. Connection
	stats := c.m.Conn().Stats()
	for _, s := range statuses {
		ch <- prometheus.MustNewConstMetric(connStatusDesc, prometheus.GaugeValue, boolValue(stats.Status == s), string(s))
	}
	ch <- prometheus.MustNewConstMetric(reconnectAttemptsDesc, prometheus.GaugeValue, float64(stats.Attempts))
	ch <- prometheus.MustNewConstMetric(framesInDesc, prometheus.CounterValue, float64(stats.FramesIn))
	ch <- prometheus.MustNewConstMetric(framesOutDesc, prometheus.CounterValue, float64(stats.FramesOut))
	ch <- prometheus.MustNewConstMetric(sendFailuresDesc, prometheus.CounterValue, float64(stats.SendFailures))
	ch <- prometheus.MustNewConstMetric(reconnectsDesc, prometheus.CounterValue, float64(stats.Reconnects))
	ch <- prometheus.MustNewConstMetric(loggedInDesc, prometheus.GaugeValue, boolValue(c.m.Auth.State().LoggedIn))

	// 2. Camera tree
	snap := c.m.Engine().Snapshot()
	ch <- prometheus.MustNewConstMetric(devicesDesc, prometheus.GaugeValue, float64(len(snap.Devices)))
	for _, d := range snap.Devices {
		ch <- prometheus.MustNewConstMetric(deviceConnectedDesc, prometheus.GaugeValue, float64(d.Connected), d.ID, d.DisplayID())
		ch <- prometheus.MustNewConstMetric(deviceErrorDesc, prometheus.GaugeValue, float64(d.IsError), d.ID)
		ch <- prometheus.MustNewConstMetric(deviceCamerasDesc, prometheus.GaugeValue, float64(len(d.Cameras)), d.ID)
	}
	ch <- prometheus.MustNewConstMetric(uniqueCamerasDesc, prometheus.GaugeValue, float64(len(snap.UniqueCameras)))
	for _, cam := range snap.UniqueCameras {
		ip := cam.CameraIP
		if ip == "" {
			ip = "unknown"
		}
		ch <- prometheus.MustNewConstMetric(cameraUpDesc, prometheus.GaugeValue, boolValue(cam.Connected), cam.Name, cam.DeviceID, ip)
	}
	ch <- prometheus.MustNewConstMetric(autoScanDesc, prometheus.GaugeValue, boolValue(snap.AutoScan))

	// 3. Host telemetry, only once a snapshot has arrived
	sys := c.m.System.State()
	if sys.LastUpdated.IsZero() {
		return
	}
	info := sys.Info
	ch <- prometheus.MustNewConstMetric(cpuTempDesc, prometheus.GaugeValue, info.CPUTemp)
	for zone, t := range info.Thermal {
		ch <- prometheus.MustNewConstMetric(thermalDesc, prometheus.GaugeValue, t, zone)
	}
	ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue, info.MemoryUsage())
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, float64(info.UptimeSeconds))
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(info.Sessions))
	ch <- prometheus.MustNewConstMetric(systemUpdatedDesc, prometheus.GaugeValue, float64(sys.LastUpdated.Unix()))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
