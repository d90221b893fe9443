//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"smartweb-monitor/internal/monitor"
)

var (
	ErrRateLimited    = errors.New("command rate limit exceeded")
	ErrScriptNotFound = errors.New("script not found")
	errDisabled       = errors.New("automation disabled")
)

type ScriptMeta struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`
	CommandRate float64 `json:"command_rate,omitempty"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

type Config struct {
	CommandRate  float64
	CommandBurst int
	RunTimeout   time.Duration
}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

func NewManager(string) (*Manager, error)     { return nil, nil }
func (m *Manager) Dir() string                { return "" }
func (m *Manager) List() ([]*Script, error)   { return nil, nil }
func (m *Manager) Get(string) (*Script, error) { return nil, ErrScriptNotFound }
func (m *Manager) Save(*Script) (*Script, error) {
	return nil, errDisabled
}
func (m *Manager) Delete(string) error { return errDisabled }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

func NewEngine(*monitor.Monitor, *Manager, *slog.Logger, Config) *Engine { return &Engine{} }

func (e *Engine) Start()                     {}
func (e *Engine) Stop()                      {}
func (e *Engine) Running() []string          { return nil }
func (e *Engine) ReloadScript(string) error  { return nil }
func (e *Engine) StopScript(string)          {}
func (e *Engine) RunScript(string) *RunResult { return &RunResult{Error: errDisabled.Error()} }
func (e *Engine) RunLuaCode(string) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}
