package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-teamchat/internal/server"
)

type EvictResponse struct {
	Evicted int `json:"evicted"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := NewApiErrorFrom(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) getPresence(w http.ResponseWriter, r *http.Request) {
	userId := r.PathValue("userId")
	if userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, s.cs.Presence(r.Context(), userId))
}

func (s *GoChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	update := &server.MessageUpdate{MessageId: r.PathValue("id"), Content: req.Content}
	if err := (&server.ClientMessage{MessageUpdated: update}).Validate(); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.cs.Router().EditMessage(r.Context(), server.Origin{UserId: userId}, update)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Router().DeleteMessage(r.Context(), server.Origin{UserId: userId}, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) evictFromChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	evicted, err := s.cs.Router().EvictFromChannel(r.Context(), server.Origin{UserId: userId}, r.PathValue("id"), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("evicted from channel", "channel_id", r.PathValue("id"), "user_id", r.PathValue("userId"), "connections", evicted)
	s.writeJson(w, http.StatusOK, EvictResponse{Evicted: evicted})
}

// serveWs upgrades the connection and hands it to a pending session. The
// client authenticates with its first event, not with the cookie.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	session, err := s.cs.NewSession()
	if err != nil {
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("error upgrading connection", "error", err)
		session.Close()
		return
	}

	client := server.NewClient(conn, session, s.log)
	go client.Write()
	go client.Read()
}
