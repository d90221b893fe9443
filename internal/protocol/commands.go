package protocol

import (
	"strconv"
	"strings"
)

// Command verbs understood by the host controller.
const (
	CmdLogin        = "LOGIN"
	CmdLogout       = "LOGOUT"
	CmdSetPass      = "SETPASS"
	CmdReboot       = "DO REBOOT"
	CmdShutdown     = "DO SHUTDOWN"
	CmdTakeSnapshot = "DO TAKESNAPSHOT"
	CmdFiles        = "FILES"
	CmdScript       = "DO SCRIPT"
	CmdSetInt       = "DO SETINT"
	CmdSetBool      = "DO SETBOOL"
	CmdSetStr       = "DO SETSTR"
	CmdMonitor      = "DO MONITOR"
	CmdLoadJSON     = "DO LOADJSON"
	CmdMonitorECS   = "DO MONITORECS"
)

// Monitor topics.
const (
	TopicSystem        = "system"
	TopicConfiguration = "configuration"
)

// Scripts shipped on the host controller.
const (
	ScriptScanCameras       = "scan_cameras"
	ScriptAddCameraGroup    = "add_camera_group.sh"
	ScriptRemoveCameraGroup = "remove_camera_group.sh"
	ScriptAddGroupToCamera  = "add_group_to_cam.sh"
)

var (
	quoteEscaper  = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", " ", "\n", " ")
	lineFlattener = strings.NewReplacer("\r", " ", "\n", " ")
)

// Quote wraps s in double quotes. Embedded quotes and backslashes are
// escaped and line breaks flattened so a command always fits one frame.
func Quote(s string) string {
	return `"` + quoteEscaper.Replace(s) + `"`
}

func token(s string) string {
	return lineFlattener.Replace(s)
}

func LoginCommand(username, password string) string {
	return CmdLogin + " " + Quote(username) + " " + Quote(password)
}

func Logout() string { return CmdLogout }

func SetPass(oldPassword, newPassword string) string {
	return CmdSetPass + " " + Quote(oldPassword) + " " + Quote(newPassword)
}

func Reboot() string   { return CmdReboot }
func Shutdown() string { return CmdShutdown }

// Monitor subscribes to change notifications for topic.
func Monitor(topic string) string {
	return CmdMonitor + " " + token(topic)
}

// MonitorECS subscribes to the slave controller tree (ecs.slaves.*).
func MonitorECS() string { return CmdMonitorECS }

func SetBool(path string, v bool) string {
	return CmdSetBool + " " + token(path) + " " + strconv.FormatBool(v)
}

func SetInt(path string, v int64) string {
	return CmdSetInt + " " + token(path) + " " + strconv.FormatInt(v, 10)
}

func SetStr(path, v string) string {
	return CmdSetStr + " " + token(path) + " " + Quote(v)
}

func TakeSnapshot(camera string) string {
	return CmdTakeSnapshot + " " + Quote(camera)
}

func Files(path string) string {
	return CmdFiles + " " + token(path)
}

func LoadJSON(name string) string {
	return CmdLoadJSON + " " + Quote(name)
}

// Script runs a named script on the host with quoted arguments.
func Script(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(CmdScript)
	b.WriteByte(' ')
	b.WriteString(Quote(name))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(Quote(a))
	}
	return b.String()
}

func ScanCameras() string { return Script(ScriptScanCameras) }

func AddCameraGroup(group string) string {
	return Script(ScriptAddCameraGroup, group)
}

func RemoveCameraGroup(group string) string {
	return Script(ScriptRemoveCameraGroup, group)
}

func AddGroupToCamera(camera, group string) string {
	return Script(ScriptAddGroupToCamera, camera, group)
}

// Redact masks credentials in a command so it can be logged.
func Redact(cmd string) string {
	switch {
	case strings.HasPrefix(cmd, CmdLogin+" "):
		rest := strings.TrimPrefix(cmd, CmdLogin+" ")
		if user, _, ok := cutQuoted(rest); ok {
			return CmdLogin + " " + user + ` "***"`
		}
		return CmdLogin + " ***"
	case strings.HasPrefix(cmd, CmdSetPass+" "):
		return CmdSetPass + " ***"
	}
	return cmd
}

// cutQuoted splits a leading quoted token off s.
func cutQuoted(s string) (quoted, rest string, ok bool) {
	if !strings.HasPrefix(s, `"`) {
		return "", s, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return s[:i+1], s[i+1:], true
		}
	}
	return "", s, false
}
