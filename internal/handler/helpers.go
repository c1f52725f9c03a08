package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
	"github.com/kitbay/kitbay/internal/store"
	"github.com/kitbay/kitbay/internal/validate"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeJSON writes v with status as application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respond writes a success envelope.
func respond(w http.ResponseWriter, status int, data interface{}, meta *model.ResponseMeta) {
	writeJSON(w, status, model.Response{Success: true, Data: data, Meta: meta})
}

// writeError writes the failure envelope; ctx, when given, becomes
// error.context.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.Response{
		Error: &model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// errorStatus maps a service-layer error to its HTTP status.
func errorStatus(err error) int {
	var ve *validate.Error
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrKeyRevoked),
		errors.Is(err, service.ErrUserDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, jobs.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, jobs.ErrChecksumMismatch):
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// writeServiceError renders err with the status errorStatus picks. The
// message is surfaced as is; validation errors carry their fields under
// error.context.fields.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, "Validation failed", map[string]interface{}{
			"fields": validate.Fields(err),
		})
		return
	case http.StatusUnauthorized:
		writeError(w, status, "Invalid credentials")
		return
	case http.StatusForbidden:
		writeError(w, status, "You do not have access to this resource")
		return
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, validate.Fail("body", "could not read request body: "+err.Error())
	}
	if len(data) > maxBodyBytes {
		return nil, validate.Fail("body", fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	return data, nil
}

// decodeBody reads the request body and validates it into dst.
func decodeBody(r *http.Request, schema *openapi3.Schema, dst interface{}) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	return validate.Body(schema, data, dst)
}

// queryInt falls back to defaultVal for absent or non-numeric values.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryBool is true only for "true" and "1".
func queryBool(r *http.Request, key string) bool {
	val := r.URL.Query().Get(key)
	return val == "true" || val == "1"
}

// page reads limit/offset with the listing defaults.
func page(r *http.Request) (limit, offset int) {
	return clampInt(queryInt(r, "limit", 25), 1, 100), clampInt(queryInt(r, "offset", 0), 0, 1<<30)
}

func clampInt(val, lo, hi int) int {
	return max(lo, min(val, hi))
}

// tookMs reports the milliseconds elapsed since start.
func tookMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
