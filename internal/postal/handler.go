package postal

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
)

type Handler struct {
	client *Client
	logger *zap.SugaredLogger
}

func NewHandler(c *Client, logger *zap.SugaredLogger) *Handler {
	return &Handler{client: c, logger: logger}
}

// Lookup serves GET /postal-codes/{code}.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	a, err := h.client.Lookup(r.Context(), r.PathValue("code"))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}
