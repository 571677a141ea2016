package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
)

// Handler exposes the session endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type IntrospectRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginInput
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	res, err := h.svc.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Logout requires the bearer middleware in front of it.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, apperr.MissingToken)
		return
	}
	if err := h.svc.Logout(r.Context(), p.UserID); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Message{Detail: LoggedOutMessage})
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestInput
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	msg, err := h.svc.RequestPasswordReset(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Message{Detail: msg})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmInput
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	msg, err := h.svc.ConfirmPasswordReset(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Message{Detail: msg})
}

// Introspect accepts the token as a form field or in a JSON body.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	var token string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			httpx.Error(w, h.logger, apperr.Validation.WithMessage("invalid form payload").WithCause(err))
			return
		}
		token = r.PostForm.Get("token")
	} else {
		var req IntrospectRequest
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.Error(w, h.logger, err)
			return
		}
		token = req.Token
	}
	res, err := h.svc.Introspect(r.Context(), strings.TrimSpace(token))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// RequireBearer rejects requests without a valid access token and attaches
// the caller to the request context.
func (h *Handler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := httpx.BearerToken(r)
		if !ok {
			httpx.Error(w, h.logger, apperr.MissingToken)
			return
		}
		claims, err := h.svc.Authenticate(raw)
		if err != nil {
			httpx.Error(w, h.logger, err)
			return
		}
		ctx := httpx.WithPrincipal(r.Context(), httpx.Principal{UserID: claims.UserID, Email: claims.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
