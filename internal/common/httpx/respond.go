package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
)

const maxBody = 1 << 20

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a Problem+JSON body (RFC 7807, reduced).
func WriteProblem(w http.ResponseWriter, code int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// WriteError maps a classified error to its status code. Unclassified
// errors become 500 without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		WriteProblem(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case apperr.KindNotFound:
		WriteProblem(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.KindConflict:
		WriteProblem(w, http.StatusConflict, "conflict", err.Error())
	default:
		WriteProblem(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// DecodeJSON reads a single JSON document from the request body. The error
// is already phrased for a 400 response.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
