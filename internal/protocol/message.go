package protocol

// Discriminator values of the "c" field.
const (
	TagLogin   = "login"
	TagLoginOK = "loginok"
	TagCameras = "cameras"
	TagSystem  = "system"
	TagSysinfo = "sysinfo"
	TagError   = "error"
	TagChanged = "changed"
)

// Message is a decoded inbound frame. The concrete type is one of *Login,
// *Cameras, *SystemSnapshot, *Changed, *Error or *Unknown.
type Message interface {
	// Tag returns the frame's discriminator as received.
	Tag() string
}

// UserInfo is the profile block attached to a successful login.
type UserInfo struct {
	Name    string         `json:"ad,omitempty"`
	Surname string         `json:"soyad,omitempty"`
	Type    string         `json:"utype,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Login is either a login challenge ("login") or an acknowledgement
// ("loginok").
type Login struct {
	OK       bool      `json:"ok"`
	Salt     string    `json:"salt,omitempty"`
	Msg      string    `json:"msg,omitempty"`
	Username string    `json:"username,omitempty"`
	Cookie   string    `json:"-"`
	Version  string    `json:"version,omitempty"`
	User     *UserInfo `json:"user,omitempty"`
}

func (m *Login) Tag() string {
	if m.OK {
		return TagLoginOK
	}
	return TagLogin
}

// CameraDescriptor is one entry of a "cameras" listing.
type CameraDescriptor struct {
	Name   string         `json:"name"`
	URL    string         `json:"url"`
	Status int            `json:"status"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Cameras is the flat camera listing sent by the host controller.
type Cameras struct {
	Cameras []CameraDescriptor `json:"cameras"`
}

func (m *Cameras) Tag() string { return TagCameras }

// SystemSnapshot carries host telemetry. Fields is untyped because the
// remote schema is not fixed; see ParseSystemInfo for the typed view.
type SystemSnapshot struct {
	Discriminator string         `json:"c"`
	Fields        map[string]any `json:"fields"`
}

func (m *SystemSnapshot) Tag() string { return m.Discriminator }

// Changed is an incremental mutation of the remote object tree.
type Changed struct {
	Path  string `json:"data"`
	Value any    `json:"val"`
}

func (m *Changed) Tag() string { return TagChanged }

// Error is a server-reported failure.
type Error struct {
	Message string `json:"msg"`
}

func (m *Error) Tag() string { return TagError }

// Unknown keeps frames with an unrecognised discriminator intact.
type Unknown struct {
	Discriminator string         `json:"c"`
	Raw           map[string]any `json:"raw"`
}

func (m *Unknown) Tag() string { return m.Discriminator }
