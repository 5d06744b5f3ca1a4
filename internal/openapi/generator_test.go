package openapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestGenerate_ValidOpenAPI(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.2.3")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil {
		t.Fatal("Info is nil")
	}
	if doc.Info.Title != "canvasgate API" {
		t.Errorf("Info.Title = %q", doc.Info.Title)
	}
	if doc.Info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q, want %q", doc.Info.Version, "1.2.3")
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGenerate_DefaultVersion(t *testing.T) {
	doc := Generate("", "")
	if doc.Info.Version != "dev" {
		t.Errorf("Info.Version = %q, want dev", doc.Info.Version)
	}
}

func TestGenerate_BearerAuth(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	bearer, ok := doc.Components.SecuritySchemes["bearerAuth"]
	if !ok {
		t.Fatal("bearerAuth security scheme not found")
	}
	if bearer.Value.Type != "http" || bearer.Value.Scheme != "bearer" || bearer.Value.BearerFormat != "JWT" {
		t.Errorf("bearerAuth = %+v", bearer.Value)
	}
	if len(doc.Security) != 1 {
		t.Errorf("Security requirements count = %d, want 1", len(doc.Security))
	}

	health := doc.Paths.Find("/healthz")
	if health == nil || health.Get == nil {
		t.Fatal("/healthz GET not found")
	}
	if health.Get.Security == nil || len(*health.Get.Security) != 0 {
		t.Error("/healthz should override security with an empty requirement")
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	tests := []struct {
		path   string
		method string
		id     string
	}{
		{"/api/v1/boards/{boardID}/nodes/{nodeID}/completion", http.MethodPost, "complete"},
		{"/api/v1/boards/{boardID}/nodes/{nodeID}/completion/stream", http.MethodPost, "complete_stream"},
		{"/api/v1/credentials", http.MethodPost, "add_credential"},
		{"/api/v1/credentials", http.MethodGet, "list_credentials"},
		{"/api/v1/credentials/{credentialID}", http.MethodDelete, "revoke_credential"},
		{"/api/v1/credentials/{credentialID}/verify", http.MethodPost, "verify_credential"},
		{"/api/v1/boards", http.MethodPost, "create_board"},
		{"/api/v1/boards/{boardID}", http.MethodGet, "get_board"},
		{"/api/v1/boards/{boardID}/nodes", http.MethodPost, "create_node"},
		{"/api/v1/boards/{boardID}/default-credential", http.MethodPut, "set_default_credential"},
		{"/api/v1/boards/{boardID}/shares", http.MethodPost, "share_board"},
		{"/api/v1/boards/{boardID}/shares/{shareID}", http.MethodDelete, "unshare_board"},
		{"/api/v1/boards/{boardID}/exports", http.MethodPost, "export_board"},
		{"/api/v1/operator/metrics", http.MethodGet, "list_metrics"},
		{"/api/v1/operator/metrics/purge", http.MethodPost, "purge_metrics"},
		{"/api/v1/operator/activity", http.MethodGet, "get_activity"},
		{"/api/v1/operator/activity/reset", http.MethodPost, "reset_activity"},
		{"/api/v1/operator/thresholds", http.MethodGet, "get_thresholds"},
		{"/api/v1/operator/thresholds", http.MethodPut, "set_thresholds"},
		{"/api/v1/operator/usage", http.MethodGet, "get_usage"},
		{"/api/v1/operator/audit", http.MethodGet, "list_audit"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			item := doc.Paths.Find(tt.path)
			if item == nil {
				t.Fatalf("path %s not found", tt.path)
			}
			op := item.GetOperation(tt.method)
			if op == nil {
				t.Fatalf("%s %s not found", tt.method, tt.path)
			}
			if op.OperationID != tt.id {
				t.Errorf("OperationID = %q, want %q", op.OperationID, tt.id)
			}
			for _, seg := range strings.Split(tt.path, "/") {
				if !strings.HasPrefix(seg, "{") {
					continue
				}
				name := strings.Trim(seg, "{}")
				if op.Parameters.GetByInAndName("path", name) == nil {
					t.Errorf("missing path parameter %q", name)
				}
			}
		})
	}
}

func TestGenerate_ErrorResponses(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	op := doc.Paths.Find("/api/v1/boards/{boardID}/nodes/{nodeID}/completion").Post
	for _, code := range []string{"200", "400", "401", "403", "424", "429", "500", "502"} {
		resp := op.Responses.Value(code)
		if resp == nil {
			t.Errorf("missing %s response", code)
			continue
		}
		if code == "200" {
			continue
		}
		media := resp.Value.Content.Get("application/json")
		if media == nil || media.Schema == nil || media.Schema.Ref != "#/components/schemas/ErrorResponse" {
			t.Errorf("%s response does not reference ErrorResponse", code)
		}
	}

	stream := doc.Paths.Find("/api/v1/boards/{boardID}/nodes/{nodeID}/completion/stream").Post
	if stream.Responses.Value("200").Value.Content.Get("text/event-stream") == nil {
		t.Error("stream response is not text/event-stream")
	}
}

func TestGenerate_RefsResolve(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	var check func(where string, s *openapi3.SchemaRef)
	check = func(where string, s *openapi3.SchemaRef) {
		if s == nil {
			return
		}
		if s.Ref != "" {
			name := strings.TrimPrefix(s.Ref, "#/components/schemas/")
			if _, ok := doc.Components.Schemas[name]; !ok {
				t.Errorf("%s: dangling ref %s", where, s.Ref)
			}
			return
		}
		if s.Value == nil {
			return
		}
		for k, p := range s.Value.Properties {
			check(where+"."+k, p)
		}
		check(where+"[]", s.Value.Items)
	}

	for name, s := range doc.Components.Schemas {
		check(name, s)
	}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			where := method + " " + path
			if op.RequestBody != nil {
				check(where+" body", op.RequestBody.Value.Content.Get("application/json").Schema)
			}
			for code, resp := range op.Responses.Map() {
				if media := resp.Value.Content.Get("application/json"); media != nil {
					check(where+" "+code, media.Schema)
				}
			}
		}
	}
}

func TestGenerate_OperatorOnlyDescribed(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	put := doc.Paths.Find("/api/v1/operator/thresholds").Put
	if !strings.Contains(put.Description, "operator role") {
		t.Errorf("set_thresholds description = %q", put.Description)
	}
	get := doc.Paths.Find("/api/v1/operator/thresholds").Get
	if get.Description != "" {
		t.Errorf("get_thresholds description = %q, want empty", get.Description)
	}
}

func TestGenerate_MarshalsJSON(t *testing.T) {
	doc := Generate("http://localhost:8080", "1")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", out["openapi"])
	}
	paths, _ := out["paths"].(map[string]any)
	if _, ok := paths["/api/v1/credentials"]; !ok {
		t.Error("marshaled document lacks /api/v1/credentials")
	}
}
