package protocol

import (
	"strings"
	"testing"
)

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{LoginCommand("admin", "s3cret"), `LOGIN "admin" "s3cret"`},
		{Logout(), "LOGOUT"},
		{Monitor(TopicSystem), "DO MONITOR system"},
		{MonitorECS(), "DO MONITORECS"},
		{SetBool("configuration.autoscan", false), "DO SETBOOL configuration.autoscan false"},
		{SetInt("ecs.slaves.a.cam[0].recordwidth", 1920), "DO SETINT ecs.slaves.a.cam[0].recordwidth 1920"},
		{SetStr("ecs.slaves.a.cam[0].name", "Gate 1"), `DO SETSTR ecs.slaves.a.cam[0].name "Gate 1"`},
		{TakeSnapshot("Front"), `DO TAKESNAPSHOT "Front"`},
		{ScanCameras(), `DO SCRIPT "scan_cameras"`},
		{AddGroupToCamera("Front", "yard"), `DO SCRIPT "add_group_to_cam.sh" "Front" "yard"`},
		{RemoveCameraGroup("yard"), `DO SCRIPT "remove_camera_group.sh" "yard"`},
		{SetPass("a", "b"), `SETPASS "a" "b"`},
		{Files("/mnt/rec"), "FILES /mnt/rec"},
		{LoadJSON("cams"), `DO LOADJSON "cams"`},
		{Reboot(), "DO REBOOT"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestQuoteEscapes(t *testing.T) {
	got := Quote("a \"b\" \\c\r\nd")
	want := `"a \"b\" \\c  d"`
	if got != want {
		t.Errorf("Quote = %q, want %q", got, want)
	}
	if strings.ContainsAny(SetStr("p\nq", "x\ny"), "\r\n") {
		t.Error("command contains a line break")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{LoginCommand("admin", "s3cret"), `LOGIN "admin" "***"`},
		{LoginCommand(`ad"min`, "pw"), `LOGIN "ad\"min" "***"`},
		{"LOGIN garbage", "LOGIN ***"},
		{SetPass("old", "new"), "SETPASS ***"},
		{MonitorECS(), "DO MONITORECS"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
