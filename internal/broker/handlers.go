package broker

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/access"
	"github.com/vdi-broker/vdi-broker/internal/secrets"
	"github.com/vdi-broker/vdi-broker/internal/tickets"
	"github.com/vdi-broker/vdi-broker/internal/transport"
	"github.com/vdi-broker/vdi-broker/pkg/apierror"
)

// Handler exposes the connection protocol: a positional-segment dispatch
// under /v1/connection plus the login and ticket-redemption endpoints.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
	now    func() time.Time
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/auth/login", h.handleLogin)
	r.Get("/v1/connection", h.handleConnection)
	r.Get("/v1/connection/*", h.handleConnection)
	r.Get("/v1/tickets/{ticketID}", h.handleRedeemTicket)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeBadRequest, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" || req.Scrambler == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeBadRequest, "username, password and scrambler are required")
		return
	}
	resp, err := h.svc.Login(r.Context(), req, r.Header.Get("X-Correlation-Id"))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error().Err(err).Msg("login failed")
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConnection dispatches on the shape of the trailing path segments:
//
//	(none)                          list available services/transports
//	{ticket}                        ticket content placeholder
//	{service}/{transport}           connection descriptor
//	{service}/{transport}/skipChecking   descriptor without access check
//	{service}/{transport}/udslink        one-time link
//	{service}/{transport}/{scrambler}/{hostname}   encoded script
func (h *Handler) handleConnection(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	segments := pathSegments(chi.URLParam(r, "*"))
	clientOS := clientOS(r)
	clientIP := clientIP(r)

	switch {
	case len(segments) == 0:
		offers, err := h.svc.ListOffers(r.Context(), claims.UserID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeEnvelope(w, http.StatusOK, ResultEnvelope(offers, h.now()))

	case len(segments) == 1:
		// Ticket content fetch is not part of the protocol yet; respond
		// with a stable non-retryable placeholder.
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeNotImplemented, false, h.now()))

	case len(segments) == 2:
		h.connect(w, r, claims, segments[0], segments[1], clientOS, clientIP, true)

	case len(segments) == 3 && segments[2] == "skipChecking":
		h.connect(w, r, claims, segments[0], segments[1], clientOS, clientIP, false)

	case len(segments) == 3 && segments[2] == "udslink":
		outcome, err := h.svc.Link(r.Context(), claims, segments[0], segments[1], clientOS, clientIP)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !outcome.Ready {
			writeEnvelope(w, http.StatusOK, CodeEnvelope(outcome.Code, true, h.now()))
			return
		}
		writeEnvelope(w, http.StatusOK, ResultEnvelope(outcome.URL, h.now()))

	case len(segments) == 4:
		outcome, err := h.svc.Script(r.Context(), claims, segments[0], segments[1], segments[2], segments[3], clientOS, clientIP)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !outcome.Ready {
			writeEnvelope(w, http.StatusOK, CodeEnvelope(outcome.Code, true, h.now()))
			return
		}
		writeEnvelope(w, http.StatusOK, ResultEnvelope(outcome.Script, h.now()))

	default:
		writeEnvelope(w, http.StatusBadRequest, CodeEnvelope(CodeInvalidRequest, false, h.now()))
	}
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request, claims access.Claims, serviceID, transportID, clientOS, clientIP string, validateAccess bool) {
	outcome, err := h.svc.Connect(r.Context(), claims, serviceID, transportID, clientOS, clientIP, validateAccess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !outcome.Ready {
		writeEnvelope(w, http.StatusOK, CodeEnvelope(outcome.Code, true, h.now()))
		return
	}
	writeEnvelope(w, http.StatusOK, ResultEnvelope(outcome.Info, h.now()))
}

func (h *Handler) handleRedeemTicket(w http.ResponseWriter, r *http.Request) {
	payload, err := h.svc.RedeemTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		if errors.Is(err, tickets.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeNotFound, "ticket not found")
			return
		}
		h.logger.Error().Err(err).Msg("ticket redemption failed")
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "ticket redemption failed")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (access.Claims, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "missing bearer token")
		return access.Claims{}, false
	}
	claims, err := h.svc.ParseToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid token")
		return access.Claims{}, false
	}
	return claims, true
}

// writeError recovers broker failures into envelopes. Internal errors are
// logged in full and surfaced only as an opaque message; their text is never
// trusted to be end-user safe.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeAccessDenied, false, h.now()))
	case errors.Is(err, ErrNotFound):
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeNotFound, false, h.now()))
	case errors.Is(err, ErrMaxServices):
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeMaxServicesReached, false, h.now()))
	case errors.Is(err, secrets.ErrDecryption):
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeBadCredential, false, h.now()))
	case errors.Is(err, transport.ErrUnsupportedOS):
		writeEnvelope(w, http.StatusOK, CodeEnvelope(CodeUnsupportedOS, false, h.now()))
	default:
		h.logger.Error().Err(err).Msg("connection request failed")
		writeEnvelope(w, http.StatusOK, MessageEnvelope("internal error", h.now()))
	}
}

func pathSegments(wildcard string) []string {
	trimmed := strings.Trim(wildcard, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func clientOS(r *http.Request) string {
	if osName := r.Header.Get("X-Client-Os"); osName != "" {
		return strings.ToLower(osName)
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		return "macos"
	default:
		return "linux"
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
