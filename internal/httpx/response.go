// Package httpx holds the JSON helpers shared by every HTTP handler.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 1 << 20

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Message is the body of endpoints that only report a human readable outcome.
type Message struct {
	Detail string `json:"detail"`
}

// Error renders err as the standard error body. Infrastructure failures are
// logged with their cause; the cause never reaches the client.
func Error(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	ae := apperr.From(err)
	status := ae.Status()
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "code", ae.Code, "details", ae.Details, "error", ae.Err)
	} else {
		log.Debugw("request rejected", "code", ae.Code, "status", status)
	}
	JSON(w, status, ae.ToBody())
}

// DecodeJSON reads a JSON body of at most MaxBodyBytes into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Validation.WithMessage("request body too large").WithDetail("limit_bytes", MaxBodyBytes)
		case errors.Is(err, io.EOF):
			return apperr.Validation.WithMessage("request body is empty")
		}
		return apperr.Validation.WithMessage("invalid JSON payload").WithCause(err)
	}
	return nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}
