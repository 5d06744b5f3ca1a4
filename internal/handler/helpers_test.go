package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?limit=0", "limit", 10, 0},
		{"parses negative", "/test?limit=-5", "limit", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queryTime tests
// ---------------------------------------------------------------------------

func TestQueryTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	def := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		url     string
		want    time.Time
		wantErr bool
	}{
		{"missing uses default", "/test", def, false},
		{"rfc3339", "/test?since=2026-02-28T10:00:00Z", time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), false},
		{"duration counts back", "/test?since=2h", now.Add(-2 * time.Hour), false},
		{"negative duration rejected", "/test?since=-2h", time.Time{}, true},
		{"garbage rejected", "/test?since=yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got, err := queryTime(r, "since", now, def)
			if tt.wantErr {
				if apierr.KindOf(err) != apierr.KindValidation {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("queryTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("queryTime = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queryDuration tests
// ---------------------------------------------------------------------------

func TestQueryDuration(t *testing.T) {
	tests := []struct {
		url     string
		want    time.Duration
		wantErr bool
	}{
		{"/test", time.Hour, false},
		{"/test?older_than=30m", 30 * time.Minute, false},
		{"/test?older_than=0s", 0, true},
		{"/test?older_than=soon", 0, true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", tt.url, nil)
		got, err := queryDuration(r, "older_than", time.Hour)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct{ val, min, max, want int }{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{50, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.val, tt.min, tt.max); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSON(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr string
	}{
		{"valid object", `{"title":"plans"}`, 0, ""},
		{"unknown field", `{"title":"plans","extra":1}`, 0, "must be a valid JSON object"},
		{"not json", `title=plans`, 0, "must be a valid JSON object"},
		{"too large", `{"title":"` + strings.Repeat("x", 64) + `"}`, 16, "exceeds maximum size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/test", strings.NewReader(tt.body))
			if tt.limit > 0 {
				r.Body = http.MaxBytesReader(httptest.NewRecorder(), r.Body, tt.limit)
			}
			var p payload
			err := readJSON(r, &p)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("readJSON: %v", err)
				}
				if p.Title != "plans" {
					t.Errorf("Title = %q", p.Title)
				}
				return
			}
			var e *apierr.Error
			if !errors.As(err, &e) || e.Kind != apierr.KindValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if !strings.Contains(e.Error(), tt.wantErr) {
				t.Errorf("err = %q, want it to contain %q", e.Error(), tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeError tests
// ---------------------------------------------------------------------------

func TestWriteErrorEnvelope(t *testing.T) {
	r := httptest.NewRequest("GET", "/test", nil)
	r = r.WithContext(observability.WithRequestID(r.Context(), "req-7"))
	w := httptest.NewRecorder()

	writeError(w, r, apierr.Validation("title", "must not be empty"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != http.StatusBadRequest {
		t.Errorf("code = %d", body.Error.Code)
	}
	if body.Error.Context["field"] != "title" || body.Error.Context["request_id"] != "req-7" {
		t.Errorf("context = %v", body.Error.Context)
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	r := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	writeError(w, r, apierr.RateLimited(1500*time.Millisecond))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestWriteErrorHidesCause(t *testing.T) {
	r := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	writeError(w, r, errors.New("dial tcp 10.0.0.5:5432: secret-host"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret-host") {
		t.Errorf("body leaks cause: %s", w.Body.String())
	}
}
