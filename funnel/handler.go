package funnel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storefront-gateway/middleware/assignqueue"
	"storefront-gateway/middleware/ratelimit"
	"storefront-gateway/middleware/ratelimit/domain"

	"github.com/gorilla/mux"
)

// Queue é a fila usada pelo handler.
type Queue = assignqueue.Queue[Assignment, Result]

// Handler expõe a atribuição de recurso a funil passando pela fila
// sequencial do par (usuário, tenant).
type Handler struct {
	Queue    *Queue
	Assigner Assigner
	Identity ratelimit.IdentityFunc
	Logger   *slog.Logger
	// WaitTimeout limita quanto a requisição HTTP espera pelo resultado.
	// 0 usa só o contexto da requisição.
	WaitTimeout time.Duration
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/funnels/{funnelID}/assign", h.assign).Methods(http.MethodPost)
	r.HandleFunc("/api/queue", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/queue", h.clear).Methods(http.MethodDelete)
}

type assignRequest struct {
	ResourceID string `json:"resourceId"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body assignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	a := Assignment{
		TenantID:   id.TenantID,
		UserID:     id.UserID,
		FunnelID:   mux.Vars(r)["funnelID"],
		ResourceID: body.ResourceID,
	}
	if err := a.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if h.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.WaitTimeout)
		defer cancel()
	}

	res, err := h.Queue.Do(ctx, id.UserID, id.TenantID, a, h.Assigner.Assign)
	if err != nil {
		status := h.statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger().Error("funnel assignment failed",
				"tenant_id", id.TenantID, "user_id", id.UserID, "funnel_id", a.FunnelID, "error", err)
		}
		if errors.Is(err, assignqueue.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Status(id.UserID, id.TenantID))
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	n := h.Queue.Clear(id.UserID, id.TenantID)
	h.logger().Warn("assignment queue cleared",
		"tenant_id", id.TenantID, "user_id", id.UserID, "rejected", n)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *Handler) statusFor(err error) int {
	if s := assignqueue.StatusFor(err); s != 0 {
		return s
	}
	switch {
	case errors.Is(err, ErrResourceInUse):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAssignment):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// identity exige usuário além do tenant: a fila é por par.
func (h *Handler) identity(r *http.Request) (domain.Identity, bool) {
	fn := h.Identity
	if fn == nil {
		fn = ratelimit.HeaderIdentity(ratelimit.DefaultTenantHeader, ratelimit.DefaultUserHeader)
	}
	id, ok := fn(r)
	if !ok || id.UserID == "" {
		return domain.Identity{}, false
	}
	return id, true
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
