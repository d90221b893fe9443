package web

import (
	"errors"
	"net/http"
	"slices"

	"smartweb-monitor/internal/automation"
)

// inlineScriptID runs the request body's code without saving it.
const inlineScriptID = "_inline"

// scriptView is a saved script plus whether the engine has a live VM for it.
type scriptView struct {
	*automation.Script
	Running bool `json:"running"`
}

// scriptPatch is the body of create and update requests. Absent fields keep
// their current value on update.
type scriptPatch struct {
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	LuaCode     *string  `json:"lua_code"`
	Enabled     *bool    `json:"enabled"`
	CommandRate *float64 `json:"command_rate"`
}

func (p scriptPatch) apply(sc *automation.Script) {
	if p.Name != "" {
		sc.Meta.Name = p.Name
	}
	if p.Description != nil {
		sc.Meta.Description = *p.Description
	}
	if p.LuaCode != nil {
		sc.LuaCode = *p.LuaCode
	}
	if p.Enabled != nil {
		sc.Meta.Enabled = *p.Enabled
	}
	if p.CommandRate != nil {
		sc.Meta.CommandRate = *p.CommandRate
	}
}

func (s *Server) scriptsAvailable(w http.ResponseWriter) bool {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return false
	}
	return true
}

func (s *Server) runningScripts() []string {
	if s.autoEngine == nil {
		return nil
	}
	return s.autoEngine.Running()
}

func (s *Server) viewScripts(scripts []*automation.Script) []scriptView {
	running := s.runningScripts()
	out := make([]scriptView, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, scriptView{Script: sc, Running: slices.Contains(running, sc.ID)})
	}
	return out
}

// loadScript writes the error response itself when it returns false.
func (s *Server) loadScript(w http.ResponseWriter, id string) (*automation.Script, bool) {
	sc, err := s.scriptMgr.Get(id)
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil, false
	case err != nil:
		s.logger.Error("load script", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return sc, true
}

// persist saves sc and brings the engine in line with its enabled flag.
func (s *Server) persist(w http.ResponseWriter, sc *automation.Script, status int) {
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.logger.Error("save script", "name", sc.Meta.Name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.autoEngine != nil {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, status, s.viewScripts([]*automation.Script{saved})[0])
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []scriptView{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, s.viewScripts(scripts))
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	if sc, ok := s.loadScript(w, r.PathValue("id")); ok {
		s.writeJSON(w, http.StatusOK, s.viewScripts([]*automation.Script{sc})[0])
	}
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	var req scriptPatch
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	sc := &automation.Script{}
	req.apply(sc)
	s.persist(w, sc, http.StatusCreated)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	sc, ok := s.loadScript(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req scriptPatch
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.apply(sc)
	s.persist(w, sc, http.StatusOK)
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	sc, ok := s.loadScript(w, r.PathValue("id"))
	if !ok {
		return
	}
	sc.Meta.Enabled = !sc.Meta.Enabled
	s.persist(w, sc, http.StatusOK)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	err := s.scriptMgr.Delete(id)
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, "script not found")
	case err != nil:
		s.logger.Error("delete script", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		s.writeOK(w)
	}
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil || s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation engine not available")
		return
	}

	id := r.PathValue("id")
	if id == inlineScriptID {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		if !s.decodeBody(w, r, &req) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}

	if _, ok := s.loadScript(w, id); !ok {
		return
	}
	s.logger.Info("running script on request", "id", id)
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}
