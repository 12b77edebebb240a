package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"tahoma-go-home/internal/automation"
)

var errAutomationDisabled = map[string]string{"error": "automations not available"}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	script, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, errAutomationDisabled)
		return
	}

	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if s.autoEngine != nil && saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, errAutomationDisabled)
		return
	}
	existing, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}

	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name != "" {
		existing.Meta.Name = req.Name
	}
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.logger.Error("update script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.reload(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, errAutomationDisabled)
		return
	}

	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		if errors.Is(err, automation.ErrScriptNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
			return
		}
		s.logger.Error("delete script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automation engine not available"})
		return
	}

	// "_inline" runs the code from the request body instead of a saved script.
	if id := r.PathValue("id"); id != "_inline" {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}

	var req struct {
		LuaCode string `json:"lua_code"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, errAutomationDisabled)
		return
	}
	script, ok := s.lookupScript(w, r.PathValue("id"))
	if !ok {
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("toggle script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.reload(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) lookupScript(w http.ResponseWriter, id string) (*automation.Script, bool) {
	script, err := s.scriptMgr.Get(id)
	if errors.Is(err, automation.ErrScriptNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("get script", "id", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return nil, false
	}
	return script, true
}

// reload restarts an enabled script or stops a disabled one.
func (s *Server) reload(script *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if !script.Meta.Enabled {
		s.autoEngine.StopScript(script.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(script.ID); err != nil {
		s.logger.Error("reload script", "id", script.ID, "err", err)
	}
}
