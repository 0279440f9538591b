package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/hilbu/internal/apperr"
)

const maxBodySize = 1 << 20

type envelope struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: code, Message: msg})
}

// errorStatus maps the error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code"
	case errors.Is(err, apperr.ErrIncompleteCode):
		return http.StatusBadRequest, "incomplete_code"
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

// decode reads a single JSON object into dst and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperr.Validation("malformed JSON")
		case errors.As(err, &typeErr):
			return apperr.Validation("invalid type for field %q", typeErr.Field)
		case errors.As(err, &maxErr):
			return apperr.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is empty")
		default:
			return apperr.Validation("%s", err.Error())
		}
	}
	if dec.More() {
		return apperr.Validation("body must contain a single JSON object")
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return apperr.Validation("%s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
