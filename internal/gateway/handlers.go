package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ojage/lokkito-backend/internal/chat"
	"github.com/ojage/lokkito-backend/internal/identity"
	"github.com/ojage/lokkito-backend/internal/llm"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the manager's error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Message: "Chat not found"})
	case errors.Is(err, chat.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Message: "Chat already exists"})
	case errors.Is(err, chat.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, chat.ErrProviderTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: perr.Error()})
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Message: r.URL.Path})
}

// handleSendMessage runs one non-streaming turn.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.manager.SendMessage(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	SessionID    string   `json:"chatId"`
	DocumentRefs []string `json:"documentNames,omitempty"`
	OwnerID      string   `json:"userId,omitempty"`
}

// handleCreateSession creates an empty session explicitly.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.manager.CreateSession(req.SessionID, req.DocumentRefs, req.OwnerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Chat created successfully",
		"chatId":        sess.ID,
		"createdAt":     sess.CreatedAt,
		"documentNames": sess.DocumentRefs,
		"userId":        sess.OwnerID,
	})
}

// handleListSessions lists sessions, optionally filtered by userId.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.ListSessions(r.URL.Query().Get("userId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleHistory returns the full session.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.GetHistory(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleStats returns counters for one session.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.GetStats(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDeleteSession deletes a session. Absent sessions map to 404.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.manager.DeleteSession(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, chat.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Chat deleted successfully",
		"chatId":  id,
		"deleted": true,
	})
}

// handleClearHistory clears a session's messages. Absent sessions map to 404.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cleared, err := s.manager.ClearHistory(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !cleared {
		s.writeError(w, chat.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Chat history cleared successfully",
		"chatId":  id,
		"cleared": true,
	})
}

// handleProfile resolves a user against the identity provider.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil || !s.identity.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "identity provider not configured"})
		return
	}

	profile, err := s.identity.Resolve(r.Context(), r.PathValue("userId"))
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Message: "User not found"})
			return
		}
		s.log.Error().Err(err).Msg("identity resolve failed")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "identity provider error"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type logoutRequest struct {
	UserID string `json:"userId"`
}

// handleLogout revokes the user's sessions. Always reports success so the
// response shape does not leak whether the user existed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if s.identity != nil && s.identity.Enabled() {
		s.identity.Revoke(r.Context(), req.UserID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Logged out successfully",
		"success": true,
	})
}
