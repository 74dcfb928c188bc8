package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/gateway"
	"github.com/travelmate/authgate/internal/httpx"
	"github.com/travelmate/authgate/session"
)

const maxBodyBytes = 1 << 16

type handler struct {
	engine *authgate.Engine
	logger *slog.Logger
	now    func() time.Time
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

type tokenResponse struct {
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
	RefreshToken    string    `json:"refreshToken,omitempty"`
	SessionID       string    `json:"sessionId"`
	DeviceID        string    `json:"deviceId"`
}

type secondFactorResponse struct {
	RequiresSecondFactor bool `json:"requiresSecondFactor"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionView struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	DeviceLabel string    `json:"deviceLabel"`
	OriginIP    string    `json:"originIp"`
	IssuedAt    time.Time `json:"issuedAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		h.badRequest(w, "email and password are required")
		return
	}

	device := gateway.DeviceFromRequest(r)
	res, err := h.engine.Login(r.Context(), authgate.LoginRequest{
		Credential:  req.Email,
		Password:    req.Password,
		TOTPCode:    req.TOTPCode,
		DeviceID:    device.ID,
		DeviceLabel: device.Label,
		OriginIP:    gateway.ClientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	if res.RequiresSecondFactor {
		httpx.JSON(w, http.StatusAccepted, secondFactorResponse{RequiresSecondFactor: true})
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		RefreshToken:    res.RefreshToken,
		SessionID:       res.Session.ID,
		DeviceID:        res.Session.DeviceID,
	})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		SessionID:       res.Session.ID,
		DeviceID:        res.Session.DeviceID,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":        id.PrincipalID,
		"email":     id.Email,
		"name":      id.Name,
		"expiresAt": id.ExpiresAt,
	})
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFromContext(r.Context())
	list, err := h.engine.Sessions(r.Context(), id.PrincipalID)
	if err != nil {
		h.fail(w, r, "sessions", err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, viewOf(s))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *handler) logoutDevice(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFromContext(r.Context())
	n, err := h.engine.LogoutDevice(r.Context(), id.PrincipalID, chi.URLParam(r, "deviceID"))
	if err != nil {
		h.fail(w, r, "logout device", err)
		return
	}
	httpx.JSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), id.PrincipalID)
	if err != nil {
		h.fail(w, r, "logout all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.badRequest(w, "malformed request body")
		return false
	}
	return true
}

func (h *handler) badRequest(w http.ResponseWriter, msg string) {
	httpx.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, h.now())
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ae *authgate.Error
	if !errors.As(err, &ae) || ae.Kind == authgate.KindInternal {
		h.logger.LogAttrs(r.Context(), slog.LevelError, op+" failed", slog.Any("err", err))
	}
	httpx.EngineError(w, err, h.now())
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		ID:          s.ID,
		DeviceID:    s.DeviceID,
		DeviceLabel: s.DeviceLabel,
		OriginIP:    s.OriginIP,
		IssuedAt:    s.IssuedAt,
		LastUsedAt:  s.LastUsedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}
