package gateway

import (
	"net/http"

	"github.com/basket/taskchat/internal/persistence"
)

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	reply, err := s.cfg.Chat.Handle(r.Context(), ownerID(r), in.Message)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	conv, msgs, err := s.cfg.Chat.History(r.Context(), ownerID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []persistence.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        msgs,
	})
}

func (s *Server) handleClearChatHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.cfg.Chat.ClearHistory(r.Context(), ownerID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_count": n,
		"message":       "Chat history cleared",
	})
}

func (s *Server) handleChatStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Chat.Status())
}
