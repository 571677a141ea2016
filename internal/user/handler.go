package user

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
)

const DeletedMessage = "User deleted successfully."

// Handler exposes HTTP endpoints for registration, lookups and self-service changes.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	p, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

// List serves GET /users?skip=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", DefaultListLimit)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	out, err := h.svc.List(r.Context(), skip, limit)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, apperr.MissingToken)
		return
	}
	profile, err := h.svc.Get(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) FindByName(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.FindByName(r.Context(), r.PathValue("name"))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) FindByEmail(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.FindByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, apperr.MissingToken)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var req UpdateInput
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	profile, err := h.svc.Update(r.Context(), id, req, p.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, apperr.MissingToken)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id, p.UserID); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Message{Detail: DeletedMessage})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ValidationFailed([]apperr.FieldError{{
			Field: "id", Message: "must be a positive integer", Type: "int",
		}})
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.ValidationFailed([]apperr.FieldError{{
			Field: name, Message: "must be an integer", Type: "int",
		}})
	}
	return n, nil
}
