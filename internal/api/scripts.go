package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-dmx/internal/engine"
	"github.com/nerrad567/gray-logic-dmx/internal/script"
)

// scriptRequest is the body of POST /scripts/check and POST /engine/start.
type scriptRequest struct {
	Script string `json:"script"`
}

// decodeScriptRequest reads a scriptRequest, writing a 400 on failure.
func decodeScriptRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return "", false
	}
	name := strings.TrimSpace(req.Script)
	if name == "" {
		writeBadRequest(w, "script is required")
		return "", false
	}
	return name, true
}

// handleListScripts returns the scripts in the script directory.
func (s *Server) handleListScripts(w http.ResponseWriter, _ *http.Request) {
	scripts, err := s.engine.ListScripts()
	if err != nil {
		s.logger.Error("failed to list scripts", "error", err)
		writeInternalError(w, "failed to list scripts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scripts": scripts,
		"count":   len(scripts),
	})
}

// handleCheckScript compiles a script without running it.
func (s *Server) handleCheckScript(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeScriptRequest(w, r)
	if !ok {
		return
	}

	statements, err := s.engine.Check(name)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"script":     name,
		"valid":      true,
		"statements": statements,
	})
}

// handleEngineStatus returns the engine snapshot.
func (s *Server) handleEngineStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleStartScript compiles and starts a script, replacing any running one.
func (s *Server) handleStartScript(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeScriptRequest(w, r)
	if !ok {
		return
	}

	trigger := engine.Trigger{Type: engine.TriggerAPI, Source: requestID(r)}
	if err := s.engine.Start(r.Context(), name, trigger); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.logger.Info("script started via API", "script", name, "request_id", trigger.Source)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"script": name,
	})
}

// handleStopScript stops the running script and waits for its blackout.
func (s *Server) handleStopScript(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// writeEngineError maps engine and compiler errors to HTTP responses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var compileErr *script.CompileError
	switch {
	case errors.As(err, &compileErr):
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeCompile,
			Message: compileErr.Error(),
			Details: compileErr.Messages(),
		})
	case errors.Is(err, engine.ErrScriptNotFound), errors.Is(err, engine.ErrRunNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, engine.ErrInvalidScriptName):
		writeBadRequest(w, err.Error())
	case errors.Is(err, engine.ErrStopTimeout):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Error("engine request failed", "error", err, "path", r.URL.Path, "request_id", requestID(r))
		writeInternalError(w, "engine request failed")
	}
}
