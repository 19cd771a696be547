package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gate-service/internal/config"
	"gate-service/internal/gate"
	"gate-service/internal/service"
	"gate-service/internal/util"
)

const sessionCookieName = "_gate_session"

// GateHandler exposes the two public endpoints per kind:
//
//	GET  /{kind-path}         page shell, no state change
//	POST /{kind-path}/unlock  door-code attempt
//	POST /{kind-path}         message submission
type GateHandler struct {
	gateService *service.GateService
	cfg         *config.Config
	logger      *zap.Logger
}

func NewGateHandler(gateService *service.GateService, cfg *config.Config, logger *zap.Logger) *GateHandler {
	return &GateHandler{
		gateService: gateService,
		cfg:         cfg,
		logger:      logger,
	}
}

// Response is the caller-facing JSON shape: {"success":true} or
// {"error":"..."}, nothing else.
type Response struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// unlockRequest and submitRequest accept the documented body fields; the
// honeypot field keeps its decoy name.
type unlockRequest struct {
	DoorCode string `json:"door_code"`
	Website  string `json:"website"`
}

type submitRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	Website string `json:"website"`
}

// RegisterRoutes mounts both kinds on their fixed paths.
func (h *GateHandler) RegisterRoutes(router chi.Router) {
	for _, kind := range gate.Kinds() {
		kind := kind
		router.Get(kind.Path(), h.showPage(kind))
		router.Post(kind.Path()+"/unlock", h.unlock(kind))
		router.Post(kind.Path(), h.submit(kind))
	}
}

func (h *GateHandler) showPage(kind gate.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.gateService.Enabled(kind) {
			h.respondWithJSON(w, http.StatusNotFound, Response{Error: "not found"})
			return
		}

		h.ensureSession(w, r)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, pageShell, kind.Path())
	}
}

func (h *GateHandler) unlock(kind gate.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unlockRequest
		if err := decodeBody(r, &req, func(form map[string]string) {
			req.DoorCode = form["door_code"]
			req.Website = form["website"]
		}); err != nil {
			h.respondWithJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
			return
		}

		err := h.gateService.AttemptUnlock(r.Context(), &service.UnlockRequest{
			Kind:          kind,
			SessionID:     h.ensureSession(w, r),
			RemoteAddress: remoteAddress(r),
			DoorCode:      req.DoorCode,
			Honeypot:      req.Website,
		})
		if err != nil {
			h.respondWithError(w, kind, err)
			return
		}

		h.respondWithJSON(w, http.StatusOK, Response{Success: true})
	}
}

func (h *GateHandler) submit(kind gate.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeBody(r, &req, func(form map[string]string) {
			req.Subject = form["subject"]
			req.Message = form["message"]
			req.Website = form["website"]
		}); err != nil {
			h.respondWithJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
			return
		}

		err := h.gateService.Submit(r.Context(), &service.SubmitRequest{
			Kind:      kind,
			SessionID: h.ensureSession(w, r),
			Subject:   req.Subject,
			Message:   req.Message,
			Honeypot:  req.Website,
		})
		if err != nil {
			h.respondWithError(w, kind, err)
			return
		}

		h.respondWithJSON(w, http.StatusOK, Response{Success: true})
	}
}

// ensureSession returns the caller's session id, issuing a cookie when none
// is present yet.
func (h *GateHandler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// remoteAddress extracts the caller address for client-id derivation. It is
// handed straight to the keyed hash and appears nowhere else.
func remoteAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody accepts JSON bodies and classic form posts.
func decodeBody(r *http.Request, jsonTarget interface{}, formAssign func(map[string]string)) error {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return json.NewDecoder(r.Body).Decode(jsonTarget)
	}

	if err := r.ParseForm(); err != nil {
		return err
	}
	form := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		form[key] = r.PostForm.Get(key)
	}
	formAssign(form)
	return nil
}

func (h *GateHandler) respondWithError(w http.ResponseWriter, kind gate.Kind, err error) {
	status, message := statusFor(err)

	if status == http.StatusInternalServerError {
		// Category only; the cause was already logged at the source.
		h.logger.Error("Request failed",
			util.String("kind", kind.Namespace()),
			util.Int("status", status))
	}

	h.respondWithJSON(w, status, Response{Error: message})
}

// statusFor maps the engine's error taxonomy onto the documented statuses:
// 400 invalid input, 403 refused, 429 throttled (wait embedded in the
// message), 500 server-side.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrFeatureDisabled):
		return http.StatusForbidden, "This form is currently disabled."
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusForbidden, "Invalid code."
	case errors.Is(err, service.ErrNotUnlocked):
		return http.StatusForbidden, "Unlock with the door code first."
	case errors.Is(err, service.ErrLocked),
		errors.Is(err, service.ErrTooFast),
		errors.Is(err, service.ErrRateLimited):
		wait := service.WaitSecondsFrom(err)
		return http.StatusTooManyRequests, fmt.Sprintf("Too many attempts. Try again in %d seconds.", wait)
	case errors.Is(err, service.ErrMissingFields):
		return http.StatusBadRequest, "Subject and message are required."
	case errors.Is(err, service.ErrTooLong):
		return http.StatusBadRequest, "Message is too long."
	case errors.Is(err, service.ErrGroupNotConfigured),
		errors.Is(err, service.ErrGroupNotFound):
		return http.StatusInternalServerError, "Server configuration error."
	case errors.Is(err, service.ErrSendFailed):
		return http.StatusInternalServerError, "Could not send the message. Please try again."
	default:
		return http.StatusInternalServerError, "Internal error."
	}
}

func (h *GateHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

// pageShell is the minimal form shell; the real UI is rendered client-side
// by the forum's frontend assets.
const pageShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body><div id="gate-app" data-endpoint="%s"></div></body>
</html>
`
