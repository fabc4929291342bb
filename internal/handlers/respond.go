package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/services"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(ctx context.Context, schema string, body []byte) error
}

// decodeBody reads the request body, validates it against schema when a
// validator is configured and decodes it into dst. An empty body decodes to
// the zero value when allowEmpty is set.
func decodeBody(r *http.Request, v BodyValidator, schema string, dst any, allowEmpty bool) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if len(raw) == 0 {
		if allowEmpty {
			return nil
		}
		raw = []byte("{}")
	}
	if v != nil {
		if err := v.Validate(r.Context(), schema, raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to their status and code. Unclassified
// errors are logged and reported as internal.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "code": string(apperr.CodeInvalidInput)})
		return
	case errors.Is(err, errBadBody):
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	code := apperr.CodeOf(err)
	if code == "" {
		log.Error("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}
