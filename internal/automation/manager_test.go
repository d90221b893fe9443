//go:build !no_automation

package automation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)
	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Night Snapshots", Description: "gate at night", Enabled: true, CommandRate: 0.5},
		LuaCode: `smartweb.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "night_snapshots" {
		t.Errorf("id = %q, want night_snapshots", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != saved.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, saved.Meta)
	}
	if got.LuaCode != "smartweb.log(\"hello\")\n" {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)
	saved, err := m.Save(&Script{ID: "mine", Meta: ScriptMeta{Name: "Mine"}, LuaCode: "-- v1"})
	if err != nil {
		t.Fatal(err)
	}
	saved.LuaCode = "-- v2"
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get("mine")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, "v2") {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerListSorted(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}}); err != nil {
			t.Fatal(err)
		}
	}
	// Non-script files are ignored.
	os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("x"), 0o644)

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "alpha,beta,gamma" {
		t.Errorf("ids = %v", ids)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)
	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "Bye"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestManagerRejectsBadIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", ".", "..", "../x", `a\b`, "a/b"} {
		if _, err := m.Get(id); err == nil || errors.Is(err, ErrScriptNotFound) {
			t.Errorf("Get(%q) err = %v, want invalid id", id, err)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)
	s1, _ := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}})
	s2, _ := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}})
	s3, _ := m.Save(&Script{Meta: ScriptMeta{Name: "!!!"}})
	if s1.ID != "dup" || s2.ID != "dup_1" {
		t.Errorf("ids = %q, %q", s1.ID, s2.ID)
	}
	if s3.ID != "script" {
		t.Errorf("empty slug id = %q, want script", s3.ID)
	}
}

func TestReadScriptWithoutHeader(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.Dir(), "hand_written.lua")
	if err := os.WriteFile(path, []byte("smartweb.log('x')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := m.Get("hand_written")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Meta.Enabled || s.Meta.Name != "hand_written" {
		t.Errorf("meta = %+v", s.Meta)
	}
	if s.LuaCode != "smartweb.log('x')\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestReadScriptBadHeader(t *testing.T) {
	m := newTestManager(t)
	os.WriteFile(filepath.Join(m.Dir(), "broken.lua"), []byte("-- {not json\n"), 0o644)
	if _, err := m.Get("broken"); err == nil {
		t.Error("expected metadata error")
	}
	scripts, _ := m.List()
	if len(scripts) != 0 {
		t.Errorf("broken script listed: %+v", scripts)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Gate Camera", "gate_camera"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
		{strings.Repeat("a", 39) + " b", strings.Repeat("a", 39)},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
