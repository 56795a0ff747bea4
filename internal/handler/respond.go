package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

var requestValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// storeFor returns the store for the namespace in the URL, or the default one.
func storeFor(reg *config.Registry, r *http.Request) (*config.Store, error) {
	return reg.Store(chi.URLParam(r, "namespace"))
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
// An empty body leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: request body is required", config.ErrBadRequest)
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", config.ErrBadRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid json: %v", config.ErrBadRequest, err)
	}

	if err := requestValidate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is %s", config.ErrBadRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", config.ErrBadRequest, err)
	}
	return nil
}

// operator picks the operator recorded for a mutation.
func operator(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-Operator") // Future: extract from auth token
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps store error kinds to HTTP status and error code.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, config.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, config.ErrBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, config.ErrExpired):
		status, code = http.StatusGone, "expired"
	case errors.Is(err, config.ErrClosed):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, logger, status, errorBody{Error: msg, Code: code})
}
