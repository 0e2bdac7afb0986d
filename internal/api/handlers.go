package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/service"
	"github.com/ernie/whitelister/internal/whitelist"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotStarted) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// AddMemberRequest is the request body for an operator add
type AddMemberRequest struct {
	Kind        string `json:"kind"`
	Username    string `json:"username"`
	XUID        string `json:"xuid,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// AddMemberResponse reports the outcome of an operator add
type AddMemberResponse struct {
	Status   string             `json:"status"`
	Message  string             `json:"message"`
	Degraded bool               `json:"degraded,omitempty"`
	Member   *domain.MemberView `json:"member,omitempty"`
}

// StatusResponse is the service status plus transport state
type StatusResponse struct {
	service.Status
	BusConnected     *bool `json:"bus_connected,omitempty"`
	WebSocketClients int   `json:"websocket_clients"`
}

// handleListMembers returns members, optionally filtered by ?space=
func (r *Router) handleListMembers(w http.ResponseWriter, req *http.Request) {
	space, ok := parseSpaceQuery(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid space")
		return
	}

	records, err := r.svc.List(req.Context(), space)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]domain.MemberView, len(records))
	for i, rec := range records {
		views[i] = rec.View()
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAddMember adds a member on an operator's behalf
func (r *Router) handleAddMember(w http.ResponseWriter, req *http.Request) {
	var body AddMemberRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	space, problem := validateAddRequest(body)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	if body.RequestedBy == "" {
		if claims := r.getAuthClaims(req); claims != nil {
			body.RequestedBy = "admin:" + claims.Username
		}
	}

	var (
		out whitelist.Outcome
		err error
	)
	if space == domain.SpaceBedrock {
		out, err = r.svc.AddBedrock(req.Context(), body.Username, body.XUID, body.RequestedBy)
	} else {
		out, err = r.svc.AddJava(req.Context(), body.Username, body.RequestedBy)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := AddMemberResponse{
		Status:   out.Status.String(),
		Message:  out.Reply,
		Degraded: out.Degraded,
	}
	if out.Record != nil {
		view := out.Record.View()
		resp.Member = &view
	}

	switch out.Status {
	case whitelist.StatusAccepted:
		writeJSON(w, http.StatusCreated, resp)
	case whitelist.StatusAlreadyWhitelisted:
		writeJSON(w, http.StatusConflict, resp)
	case whitelist.StatusInvalidFormat:
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// handleRemoveMember deletes a member by space and identifier
func (r *Router) handleRemoveMember(w http.ResponseWriter, req *http.Request) {
	space, err := parseSpacePath(req, "space")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid space")
		return
	}

	removed, err := r.svc.Remove(req.Context(), space, req.PathValue("identifier"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if removed == nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}
	writeJSON(w, http.StatusOK, removed.View())
}

// handleStatus returns the service summary
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.svc.Status(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := StatusResponse{Status: st, WebSocketClients: r.wsHub.ClientCount()}
	r.mu.RLock()
	if r.bus != nil {
		connected := r.bus.Connected()
		resp.BusConnected = &connected
	}
	r.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

// handleReload re-reads the configuration and rebuilds the pipeline
func (r *Router) handleReload(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Reload(req.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reloaded"})
}

// handleMessage runs one chat message through the pipeline. This is the
// HTTP twin of the bus chat subject.
func (r *Router) handleMessage(w http.ResponseWriter, req *http.Request) {
	var msg domain.ChatMessage
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, handled := r.svc.HandleMessage(req.Context(), msg)
	writeJSON(w, http.StatusOK, whitelist.NewChatReply(out, handled))
}

// handleLoginCheck answers whether a connecting player may join
func (r *Router) handleLoginCheck(w http.ResponseWriter, req *http.Request) {
	var id domain.LoginIdentity
	if err := json.NewDecoder(req.Body).Decode(&id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := r.svc.CheckLogin(req.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleHealth reports liveness
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
