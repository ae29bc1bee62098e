// Package controlplane implements the HTTP surface a local UI consumes:
// chat, chat_continue, approvals.pending, approvals.resolve, and the
// websocket event channel, all behind the bearer-token facade.
package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietloop/agentd/internal/appstate"
	"github.com/quietloop/agentd/internal/approvals"
	"github.com/quietloop/agentd/internal/authtoken"
	"github.com/quietloop/agentd/internal/eventhub"
	"github.com/quietloop/agentd/internal/policy"
)

// approvalDecision maps the wire string to the internal Decision type,
// defaulting unrecognised values to deny rather than silently allowing.
func approvalDecision(raw string) approvals.Decision {
	if raw == string(approvals.DecisionAllow) {
		return approvals.DecisionAllow
	}
	return approvals.DecisionDeny
}

// Server wires the daemon's AppState to its HTTP handlers.
type Server struct {
	app *appstate.AppState
	ws  *eventhub.Handler
}

// NewServer builds the control-plane HTTP handler tree.
func NewServer(app *appstate.AppState) *Server {
	return &Server{app: app, ws: eventhub.NewHandler(app.Hub, nil)}
}

// Routes returns the mux the caller should serve.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("/v1/chat/continue", s.withAuth(s.handleChatContinue))
	mux.HandleFunc("/v1/approvals", s.withAuth(s.handleApprovalsPending))
	mux.HandleFunc("/v1/approvals/resolve", s.withAuth(s.handleApprovalsResolve))
	mux.HandleFunc("/v1/audit/recent", s.withAuth(s.handleAuditRecent))
	mux.HandleFunc("/v1/events", s.withAuth(func(w http.ResponseWriter, r *http.Request, _ policy.AuthContext) {
		s.ws.ServeHTTP(w, r)
	}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	metricsHandler := promhttp.Handler()
	mux.HandleFunc("/metrics", s.withAuth(func(w http.ResponseWriter, r *http.Request, _ policy.AuthContext) {
		metricsHandler.ServeHTTP(w, r)
	}))
	return mux
}

// withAuth extracts the bearer token, validates it, and injects the
// resulting AuthContext before calling next. Every control-plane route
// except /healthz requires a valid token per the external-interfaces
// contract.
func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request, policy.AuthContext)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		scopes, err := s.app.Tokens.Validate(token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, authtoken.ErrInvalidToken) {
				status = http.StatusUnauthorized
			}
			http.Error(w, "invalid or expired token", status)
			return
		}

		typed := make([]policy.Scope, len(scopes))
		for i, sc := range scopes {
			typed[i] = policy.Scope(sc)
		}
		next(w, r, policy.NewAuthContext(token, typed...))
	}
}

type chatRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type chatContinueRequest struct {
	SessionID    string `json:"session_id"`
	ApprovalID   string `json:"approval_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type chatResponse struct {
	Reply             string `json:"reply"`
	SessionID         string `json:"session_id"`
	ToolCalls         any    `json:"tool_calls"`
	PendingApprovalID string `json:"pending_approval_id,omitempty"`
}

const defaultSystemPrompt = "You are a local personal assistant with access to a sandboxed workspace."

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, auth policy.AuthContext) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.app.Sessions.NewSession()
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	resp, err := s.app.Executor.Run(r.Context(), auth, sessionID, systemPrompt, req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = s.app.Audit.Record(r.Context(), "chat.turn", map[string]any{
		"session_id":          sessionID,
		"message":             req.Message,
		"pending_approval_id": resp.PendingApprovalID,
	})
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:             resp.Reply,
		SessionID:         sessionID,
		ToolCalls:         resp.ToolCalls,
		PendingApprovalID: resp.PendingApprovalID,
	})
}

func (s *Server) handleChatContinue(w http.ResponseWriter, r *http.Request, auth policy.AuthContext) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.ApprovalID == "" {
		http.Error(w, "session_id and approval_id are required", http.StatusBadRequest)
		return
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	resp, err := s.app.Executor.Resume(r.Context(), auth, req.SessionID, systemPrompt, req.ApprovalID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = s.app.Audit.Record(r.Context(), "chat.turn.resumed", map[string]any{
		"session_id":  req.SessionID,
		"approval_id": req.ApprovalID,
	})
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:             resp.Reply,
		SessionID:         req.SessionID,
		ToolCalls:         resp.ToolCalls,
		PendingApprovalID: resp.PendingApprovalID,
	})
}

func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request, auth policy.AuthContext) {
	if !auth.HasScope(policy.ScopeApprovals) {
		http.Error(w, "missing scope: approvals", http.StatusForbidden)
		return
	}
	pending, err := s.app.Approvals.Pending()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type approvalResolveRequest struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

func (s *Server) handleApprovalsResolve(w http.ResponseWriter, r *http.Request, auth policy.AuthContext) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !auth.HasScope(policy.ScopeApprovals) {
		http.Error(w, "missing scope: approvals", http.StatusForbidden)
		return
	}
	var req approvalResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	decision := approvalDecision(req.Decision)
	ok, err := s.app.Approvals.Resolve(req.ID, decision, "control-plane")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "approval not found or already resolved", http.StatusConflict)
		return
	}
	_ = s.app.Audit.Record(r.Context(), "approval.decision", map[string]any{
		"id":       req.ID,
		"decision": string(decision),
	})
	s.app.Hub.Broadcast("approval.resolved", map[string]any{"id": req.ID, "decision": string(decision)})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request, auth policy.AuthContext) {
	if !auth.HasScope(policy.ScopeAdmin) {
		http.Error(w, "missing scope: admin", http.StatusForbidden)
		return
	}
	records, err := s.app.Audit.Recent(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
