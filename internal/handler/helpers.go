// Package handler implements the gateway's HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorEnvelope renders err with the stable message only. Causes never
// reach the response.
func errorEnvelope(r *http.Request, err error) (int, model.ErrorResponse) {
	e := apierr.From(err)
	status := e.Kind.HTTPStatus()
	ctx := e.Context()
	if id := middleware.GetRequestID(r.Context()); id != "" {
		ctx["request_id"] = id
	}
	return status, model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: e.Message, Context: ctx},
	}
}

// writeError writes a structured error response using the standard error
// envelope. Rate-limit errors also set Retry-After.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e := apierr.From(err); e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((e.RetryAfter+time.Second-1)/time.Second)))
	}
	status, body := errorEnvelope(r, err)
	writeJSON(w, status, body)
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Unknown fields are rejected.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.Validation("body", "exceeds maximum size")
		}
		return apierr.Validation("body", "must be a valid JSON object")
	}
	return nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
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

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryTime parses an RFC 3339 timestamp or a duration counted back from
// now (e.g. "24h"). Missing values return def.
func queryTime(r *http.Request, key string, now time.Time, def time.Time) (time.Time, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, apierr.Validation(key, "must be an RFC 3339 time or a duration")
}

// queryDuration parses a positive duration query parameter.
func queryDuration(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, apierr.Validation(key, "must be a positive duration")
	}
	return d, nil
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
