package protocol

// SystemInfo is the typed view of a system snapshot. Only the fields a
// consumer actually reads are typed; everything else lands in Extra.
type SystemInfo struct {
	CPUTemp       float64            `json:"cpu_temp"`
	Thermal       map[string]float64 `json:"thermal,omitempty"`
	TotalRAM      int64              `json:"total_ram"`
	FreeRAM       int64              `json:"free_ram"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Version       string             `json:"version,omitempty"`
	ServerTime    string             `json:"server_time,omitempty"`
	Eth0          string             `json:"eth0,omitempty"`
	PPP0          string             `json:"ppp0,omitempty"`
	TotalConns    int64              `json:"total_conns"`
	Sessions      int64              `json:"sessions"`
	GPS           *GPSFix            `json:"gps,omitempty"`
	Extra         map[string]any     `json:"extra,omitempty"`
}

// GPSFix is the last position reported by the host controller.
type GPSFix struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Speed float64 `json:"speed"`
}

// MemoryUsage returns used RAM as a fraction in [0,1], or 0 when the total
// is unknown.
func (s SystemInfo) MemoryUsage() float64 {
	if s.TotalRAM <= 0 || s.FreeRAM > s.TotalRAM || s.FreeRAM < 0 {
		return 0
	}
	return float64(s.TotalRAM-s.FreeRAM) / float64(s.TotalRAM)
}

var systemKeys = map[string]func(*SystemInfo, any){
	"cpuTemp":    func(s *SystemInfo, v any) { s.CPUTemp = AsFloat(v) },
	"cpu_temp":   func(s *SystemInfo, v any) { s.CPUTemp = AsFloat(v) },
	"totalRam":   func(s *SystemInfo, v any) { s.TotalRAM = AsInt(v) },
	"totalram":   func(s *SystemInfo, v any) { s.TotalRAM = AsInt(v) },
	"freeRam":    func(s *SystemInfo, v any) { s.FreeRAM = AsInt(v) },
	"freeram":    func(s *SystemInfo, v any) { s.FreeRAM = AsInt(v) },
	"upTime":     func(s *SystemInfo, v any) { s.UptimeSeconds = AsInt(v) },
	"uptime":     func(s *SystemInfo, v any) { s.UptimeSeconds = AsInt(v) },
	"version":    func(s *SystemInfo, v any) { s.Version = AsString(v) },
	"srvTime":    func(s *SystemInfo, v any) { s.ServerTime = AsString(v) },
	"eth0":       func(s *SystemInfo, v any) { s.Eth0 = AsString(v) },
	"ppp0":       func(s *SystemInfo, v any) { s.PPP0 = AsString(v) },
	"totalconns": func(s *SystemInfo, v any) { s.TotalConns = AsInt(v) },
	"sessions":   func(s *SystemInfo, v any) { s.Sessions = AsInt(v) },
	"thermal": func(s *SystemInfo, v any) {
		raw, ok := v.(map[string]any)
		if !ok {
			return
		}
		for zone, t := range raw {
			s.setThermal(zone, t)
		}
	},
	"gps": func(s *SystemInfo, v any) {
		raw, ok := v.(map[string]any)
		if !ok {
			return
		}
		s.GPS = &GPSFix{
			Lat:   AsFloat(firstOf(raw, "lat", "latitude")),
			Lon:   AsFloat(firstOf(raw, "lon", "lng", "longitude")),
			Speed: AsFloat(raw["speed"]),
		}
	},
}

func (s *SystemInfo) setThermal(zone string, v any) {
	if s.Thermal == nil {
		s.Thermal = make(map[string]float64)
	}
	s.Thermal[zone] = AsFloat(v)
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// ParseSystemInfo builds the typed view from raw snapshot fields. Unknown
// keys are kept verbatim in Extra; "msg" is dropped since it is a status
// line, not telemetry.
func ParseSystemInfo(fields map[string]any) SystemInfo {
	var s SystemInfo
	for k, v := range fields {
		if set, ok := systemKeys[k]; ok {
			set(&s, v)
			continue
		}
		if k == "msg" || k == "c" {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[k] = v
	}
	return s
}
