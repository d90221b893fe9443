package ecs

import (
	"strconv"
	"strings"
	"time"
)

// Device is one slave controller. ID is the raw key from the path (for
// example "m_32_BC_19_56_CE_FD") and is never rewritten.
type Device struct {
	ID             string    `json:"id"`
	Connected      int64     `json:"connected"`
	IPv4           string    `json:"ipv4"`
	IPv6           string    `json:"ipv6"`
	LastSeenAt     string    `json:"last_seen_at"`
	Uptime         string    `json:"uptime"`
	IsError        int64     `json:"is_error"`
	TestFinished   int64     `json:"test_finished"`
	TestFinishedAt string    `json:"test_finished_at"`
	Cameras        []*Camera `json:"cameras"`
}

// DisplayID renders the id as a MAC address for humans.
func (d *Device) DisplayID() string {
	return DisplayID(d.ID)
}

// DisplayID strips the "m_" prefix and turns underscores into colons.
func DisplayID(id string) string {
	return strings.ReplaceAll(strings.TrimPrefix(id, "m_"), "_", ":")
}

func (d *Device) clone() *Device {
	c := *d
	c.Cameras = make([]*Camera, len(d.Cameras))
	for i, cam := range d.Cameras {
		cc := *cam
		c.Cameras[i] = &cc
	}
	return &c
}

// Camera is one camera owned by a device, addressed by its index.
// Password is kept for command building but never serialized.
type Camera struct {
	Index        int    `json:"index"`
	DeviceID     string `json:"device_id"`
	Name         string `json:"name"`
	CameraIP     string `json:"camera_ip"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	MediaURI     string `json:"media_uri"`
	SubURI       string `json:"sub_uri"`
	RecordURI    string `json:"record_uri"`
	MainSnapshot string `json:"main_snapshot"`
	SubSnapshot  string `json:"sub_snapshot"`
	RecordCodec  string `json:"record_codec,omitempty"`
	RecordWidth  int64  `json:"record_width,omitempty"`
	RecordHeight int64  `json:"record_height,omitempty"`
	SubCodec     string `json:"sub_codec,omitempty"`
	SubWidth     int64  `json:"sub_width,omitempty"`
	SubHeight    int64  `json:"sub_height,omitempty"`
	SoundRec     bool   `json:"sound_rec"`
	Connected    bool   `json:"connected"`
}

func placeholderCamera(deviceID string, index int) *Camera {
	return &Camera{
		Index:     index,
		DeviceID:  deviceID,
		Name:      "Camera " + strconv.Itoa(index+1),
		Connected: true,
	}
}

// Snapshot is a consistent copy of the whole tree.
type Snapshot struct {
	Devices       []*Device `json:"devices"`
	UniqueCameras []*Camera `json:"unique_cameras"`
	AutoScan      bool      `json:"autoscan"`
	LastUpdated   time.Time `json:"last_updated"`
}
