package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("POST /api/chat", s.limiter.middleware(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionHistory)

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodChatSend, s.rpcChatSend)
	s.Handle(MethodSessionHistory, s.rpcSessionHistory)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		UptimeMs: s.uptime().Milliseconds(),
		Chat:     s.orchestrator != nil,
	})
}

// rpcChatSend runs a chat turn. Without a sessionId the turn joins the
// connection's own conversation. Reasoning and tool steps are pushed as
// chat.step events while the turn runs.
func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.orchestrator == nil {
		rc.RespondError(CodeUnavailable, "chat is not configured")
		return
	}
	if !s.limiter.allow(rc.Client.RemoteIP) {
		rc.RespondErrorShape(ErrorShape{
			Code:       CodeRateLimited,
			Message:    "too many requests",
			Retryable:  true,
			RetryAfter: 1000,
		})
		return
	}

	var p ChatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		sessionID = rc.Client.ConnID
	}

	unwatch := s.clients.Watch(sessionID, rc.Client)
	defer unwatch()

	result, err := s.orchestrator.SendChatTurn(context.Background(), sessionID, p.Message)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			rc.RespondError(CodeInvalidParams, err.Error())
			return
		}
		s.log.Error().Err(err).Str("sessionId", sessionID).Msg("chat turn failed")
		rc.RespondError(CodeInternal, "internal error")
		return
	}
	rc.Respond(result)
}

func (s *Server) rpcSessionHistory(rc *RequestContext) {
	if s.orchestrator == nil {
		rc.RespondError(CodeUnavailable, "chat is not configured")
		return
	}

	var p SessionHistoryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.SessionID == "" {
		p.SessionID = rc.Client.ConnID
	}

	sess, err := s.orchestrator.Sessions().Get(context.Background(), p.SessionID)
	if err != nil {
		s.log.Error().Err(err).Str("sessionId", p.SessionID).Msg("loading session")
		rc.RespondError(CodeInternal, "internal error")
		return
	}
	if sess == nil {
		rc.RespondError(CodeNotFound, "session not found: "+p.SessionID)
		return
	}
	rc.Respond(sess)
}
