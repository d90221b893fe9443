//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// ErrScriptNotFound is returned when no file exists for a script id.
var ErrScriptNotFound = errors.New("script not found")

const (
	scriptExt    = ".lua"
	headerPrefix = "-- "
)

// Manager loads and saves scripts in a directory. A script file is a JSON
// metadata comment line followed by Lua source.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates dir if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) Dir() string { return m.dir }

// List returns every parseable script, sorted by id.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	scripts := make([]*Script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scriptExt {
			continue
		}
		s, err := readScript(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (m *Manager) Get(id string) (*Script, error) {
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return readScript(path)
}

// Save writes s, deriving a unique id from its name when it has none.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	path, err := m.path(s.ID)
	if err != nil {
		return nil, err
	}
	s.FilePath = path

	data, err := encodeScript(s)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	path, err := m.path(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", id, ErrScriptNotFound)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid script id %q", id)
	}
	return filepath.Join(m.dir, id+scriptExt), nil
}

func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(m.dir, id+scriptExt)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func readScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrScriptNotFound)
		}
		return nil, err
	}
	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), scriptExt),
		FilePath: path,
	}

	code := string(data)
	first, rest, _ := strings.Cut(code, "\n")
	if strings.HasPrefix(first, headerPrefix+"{") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, headerPrefix)), &s.Meta); err != nil {
			return nil, fmt.Errorf("%s: metadata: %w", s.ID, err)
		}
		code = rest
	} else {
		// Hand-written file without a header: enabled under its file name.
		s.Meta = ScriptMeta{Name: s.ID, Enabled: true}
	}
	s.LuaCode = strings.TrimLeft(code, "\n")
	return s, nil
}

func encodeScript(s *Script) ([]byte, error) {
	meta, err := json.Marshal(s.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var b strings.Builder
	b.WriteString(headerPrefix)
	b.Write(meta)
	b.WriteString("\n")
	if s.LuaCode != "" {
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return []byte(b.String()), nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "_")
	}
	return s
}
