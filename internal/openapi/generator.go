// Package openapi describes the gateway API as an OpenAPI 3.1 document.
package openapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate returns the OpenAPI 3.1 document for the gateway API.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "canvasgate API",
			Description: "Secure completion gateway: credential vault, board access control, completions and operator surface.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}

	for name, s := range componentSchemas() {
		doc.Components.Schemas[name] = s
	}

	doc.Paths = openapi3.NewPaths()
	for _, op := range operations() {
		addOperation(doc, op)
	}
	return doc
}

// operation is one documented route.
type operation struct {
	method       string
	path         string
	id           string
	tag          string
	summary      string
	request      string // component schema name of the JSON body
	response     string // component schema name of the success body
	status       string
	query        []string
	stream       bool
	public       bool
	operatorOnly bool
}

func operations() []operation {
	const (
		board = "/api/v1/boards/{boardID}"
		node  = board + "/nodes/{nodeID}"
	)
	return []operation{
		{method: http.MethodPost, path: node + "/completion", id: "complete", tag: "completion",
			summary: "Generate the node's content", request: "CompletionRequest", response: "CompletionResult", status: "200"},
		{method: http.MethodPost, path: node + "/completion/stream", id: "complete_stream", tag: "completion",
			summary: "Stream the node's content as server-sent events (delta, done, error)", request: "CompletionRequest", stream: true, status: "200"},

		{method: http.MethodPost, path: "/api/v1/credentials", id: "add_credential", tag: "credentials",
			summary: "Store a provider credential", request: "AddCredentialRequest", response: "Credential", status: "201"},
		{method: http.MethodGet, path: "/api/v1/credentials", id: "list_credentials", tag: "credentials",
			summary: "List own credentials (last four characters only)", response: "CredentialList", status: "200"},
		{method: http.MethodDelete, path: "/api/v1/credentials/{credentialID}", id: "revoke_credential", tag: "credentials",
			summary: "Revoke a credential", response: "Object", status: "200"},
		{method: http.MethodPost, path: "/api/v1/credentials/{credentialID}/verify", id: "verify_credential", tag: "credentials",
			summary: "Check a credential against its provider", response: "VerifyResult", status: "200"},

		{method: http.MethodPost, path: "/api/v1/boards", id: "create_board", tag: "boards",
			summary: "Create a board", request: "BoardRequest", response: "Board", status: "201"},
		{method: http.MethodGet, path: board, id: "get_board", tag: "boards",
			summary: "Get a board and its nodes", response: "Board", status: "200"},
		{method: http.MethodPost, path: board + "/nodes", id: "create_node", tag: "boards",
			summary: "Add a node", request: "NodeRequest", response: "Node", status: "201"},
		{method: http.MethodPut, path: board + "/default-credential", id: "set_default_credential", tag: "boards",
			summary: "Set or clear the board's default credential", request: "DefaultCredentialRequest", response: "Object", status: "200"},
		{method: http.MethodPost, path: board + "/shares", id: "share_board", tag: "boards",
			summary: "Grant view or comment access", request: "ShareRequest", response: "ShareGrant", status: "201"},
		{method: http.MethodDelete, path: board + "/shares/{shareID}", id: "unshare_board", tag: "boards",
			summary: "Remove a share grant", status: "204"},
		{method: http.MethodPost, path: board + "/exports", id: "export_board", tag: "boards",
			summary: "Export the board document", response: "Object", status: "200"},

		{method: http.MethodGet, path: "/api/v1/operator/metrics", id: "list_metrics", tag: "operator",
			summary: "Tracked request metrics", response: "RequestMetricList", query: []string{"subject"}, status: "200"},
		{method: http.MethodPost, path: "/api/v1/operator/metrics/purge", id: "purge_metrics", tag: "operator",
			summary: "Drop old request metrics", response: "Object", query: []string{"older_than"}, status: "200", operatorOnly: true},
		{method: http.MethodGet, path: "/api/v1/operator/activity", id: "get_activity", tag: "operator",
			summary: "Anomaly activity window", response: "ActivityWindow", query: []string{"subject"}, status: "200"},
		{method: http.MethodPost, path: "/api/v1/operator/activity/reset", id: "reset_activity", tag: "operator",
			summary: "Reset an activity window", response: "Object", query: []string{"subject"}, status: "200"},
		{method: http.MethodGet, path: "/api/v1/operator/thresholds", id: "get_thresholds", tag: "operator",
			summary: "Active anomaly thresholds", response: "Thresholds", status: "200"},
		{method: http.MethodPut, path: "/api/v1/operator/thresholds", id: "set_thresholds", tag: "operator",
			summary: "Replace anomaly thresholds", request: "Thresholds", response: "Thresholds", status: "200", operatorOnly: true},
		{method: http.MethodGet, path: "/api/v1/operator/usage", id: "get_usage", tag: "operator",
			summary: "Usage summary and recent events", response: "Usage", query: []string{"subject", "since", "limit"}, status: "200"},
		{method: http.MethodGet, path: "/api/v1/operator/audit", id: "list_audit", tag: "operator",
			summary: "Access-control audit entries", response: "AuditList", query: []string{"subject", "since", "limit"}, status: "200"},

		{method: http.MethodGet, path: "/healthz", id: "healthz", tag: "system", summary: "Liveness probe", response: "Object", status: "200", public: true},
		{method: http.MethodGet, path: "/readyz", id: "readyz", tag: "system", summary: "Readiness probe", response: "Object", status: "200", public: true},
	}
}

func addOperation(doc *openapi3.T, o operation) {
	op := &openapi3.Operation{
		Tags:        []string{o.tag},
		Summary:     o.summary,
		OperationID: o.id,
	}
	if o.operatorOnly {
		op.Description = "Requires the operator role."
	}
	if o.public {
		op.Security = &openapi3.SecurityRequirements{}
	}

	for _, name := range pathParams(o.path) {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
		})
	}
	for _, name := range o.query {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter(name).
				WithDescription(queryDescriptions[name]).
				WithSchema(openapi3.NewStringSchema()),
		})
	}

	if o.request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithContent(openapi3.NewContentWithJSONSchemaRef(ref(o.request))),
		}
	}

	switch {
	case o.stream:
		op.Responses = newResponses(o.status, "Event stream", nil)
		desc := "Event stream"
		op.Responses.Set(o.status, &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &desc,
			Content: openapi3.Content{
				"text/event-stream": &openapi3.MediaType{Schema: openapi3.NewStringSchema().NewRef()},
			},
		}})
	case o.response != "":
		op.Responses = newResponses(o.status, "Success", ref(o.response))
	default:
		op.Responses = newResponses(o.status, "Success", nil)
	}

	item := doc.Paths.Value(o.path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(o.path, item)
	}
	item.SetOperation(o.method, op)
}

var queryDescriptions = map[string]string{
	"subject":    "Subject to inspect. Defaults to the caller; other subjects require the operator role.",
	"since":      "RFC 3339 time or a duration counted back from now, e.g. 24h.",
	"limit":      "Maximum number of rows.",
	"older_than": "Duration; finished metrics older than this are dropped.",
}

// pathParams returns the {name} segments of path in order.
func pathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, seg[1:len(seg)-1])
		}
	}
	return out
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(fmt.Sprintf("#/components/schemas/%s", name), nil)
}

// newResponses builds a Responses map with a success response and the
// gateway's error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	success := &openapi3.Response{Description: &successDesc}
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(statusCode, &openapi3.ResponseRef{Value: success})

	errorRef := ref("ErrorResponse")
	for _, e := range []struct{ code, desc string }{
		{"400", "Validation error"},
		{"401", "Authentication required"},
		{"403", "Access denied"},
		{"424", "No usable credential for the provider"},
		{"429", "Rate limit exceeded"},
		{"500", "Internal error"},
		{"502", "Upstream provider error or interrupted stream"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// componentSchemas are the request and response bodies.
func componentSchemas() openapi3.Schemas {
	str := func() *openapi3.SchemaRef { return openapi3.NewStringSchema().NewRef() }
	dt := func() *openapi3.SchemaRef { return openapi3.NewDateTimeSchema().NewRef() }
	integer := func() *openapi3.SchemaRef { return openapi3.NewInt64Schema().NewRef() }
	number := func() *openapi3.SchemaRef { return openapi3.NewFloat64Schema().NewRef() }
	boolean := func() *openapi3.SchemaRef { return openapi3.NewBoolSchema().NewRef() }
	object := func(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
		s := openapi3.NewObjectSchema()
		s.Properties = props
		s.Required = required
		return s.NewRef()
	}
	list := func(item string) *openapi3.SchemaRef {
		return object(openapi3.Schemas{
			"resource": arrayOf(ref(item)),
			"meta":     object(openapi3.Schemas{"count": integer()}),
		})
	}
	enum := func(values ...string) *openapi3.SchemaRef {
		s := openapi3.NewStringSchema()
		for _, v := range values {
			s.Enum = append(s.Enum, v)
		}
		return s.NewRef()
	}

	usage := object(openapi3.Schemas{"input_tokens": integer(), "output_tokens": integer()})
	providers := enum("openai", "anthropic", "google")

	schemas := openapi3.Schemas{
		"ErrorResponse": object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    openapi3.NewInt32Schema().NewRef(),
				"message": str(),
				"context": openapi3.NewObjectSchema().NewRef(),
			}),
		}),
		"Object": openapi3.NewObjectSchema().NewRef(),
		"Message": object(openapi3.Schemas{
			"role":    enum("user", "assistant", "system"),
			"content": str(),
		}, "role", "content"),
		"CompletionRequest": object(openapi3.Schemas{
			"provider":    providers,
			"model":       str(),
			"messages":    arrayOf(ref("Message")),
			"temperature": number(),
			"max_tokens":  integer(),
		}, "provider", "messages"),
		"CompletionResult": object(openapi3.Schemas{
			"request_id":    str(),
			"text":          str(),
			"usage":         usage,
			"cost_estimate": number(),
			"web_search":    boolean(),
		}),
		"AddCredentialRequest": object(openapi3.Schemas{
			"provider": providers,
			"nickname": str(),
			"secret":   str(),
		}, "provider", "nickname", "secret"),
		"Credential": object(openapi3.Schemas{
			"id":         str(),
			"owner_id":   str(),
			"provider":   providers,
			"nickname":   str(),
			"last4":      str(),
			"status":     enum("active", "revoked"),
			"created_at": dt(),
			"updated_at": dt(),
			"revoked_at": dt(),
		}),
		"VerifyResult": object(openapi3.Schemas{"id": str(), "ok": boolean()}),
		"BoardRequest": object(openapi3.Schemas{
			"title":       str(),
			"description": str(),
			"is_public":   boolean(),
		}, "title"),
		"Node": object(openapi3.Schemas{
			"id":         str(),
			"board_id":   str(),
			"role":       enum("user", "assistant", "system"),
			"content":    str(),
			"tokens":     integer(),
			"streaming":  boolean(),
			"created_at": dt(),
			"updated_at": dt(),
		}),
		"NodeRequest": object(openapi3.Schemas{
			"role":    enum("user", "assistant", "system"),
			"content": str(),
		}, "role"),
		"DefaultCredentialRequest": object(openapi3.Schemas{"credential_id": str()}),
		"ShareRequest": object(openapi3.Schemas{
			"subject_id": str(),
			"capability": enum("view", "comment"),
			"expires_at": dt(),
		}, "subject_id", "capability"),
		"ShareGrant": object(openapi3.Schemas{
			"id":         str(),
			"board_id":   str(),
			"subject_id": str(),
			"capability": enum("view", "comment"),
			"created_by": str(),
			"expires_at": dt(),
			"created_at": dt(),
		}),
		"RequestMetric": object(openapi3.Schemas{
			"request_id":    str(),
			"subject_id":    str(),
			"operation":     str(),
			"start_time":    dt(),
			"end_time":      dt(),
			"duration_ms":   integer(),
			"status":        enum("pending", "completed", "failed"),
			"token_count":   integer(),
			"cost_estimate": number(),
			"error_summary": str(),
		}),
		"ActivityWindow": object(openapi3.Schemas{
			"subject_id":               str(),
			"request_count":            integer(),
			"hourly_request_count":     integer(),
			"daily_cost_accrued":       number(),
			"export_count":             integer(),
			"failed_auth_count":        integer(),
			"concurrent_session_count": integer(),
			"last_activity_at":         dt(),
		}),
		"Thresholds": object(openapi3.Schemas{
			"requests_per_hour":    integer(),
			"exports_per_hour":     integer(),
			"cost_per_day":         number(),
			"failed_auth_per_hour": integer(),
			"concurrent_sessions":  integer(),
		}),
		"UsageEvent": object(openapi3.Schemas{
			"id":            str(),
			"subject_id":    str(),
			"resource_id":   str(),
			"request_id":    str(),
			"provider":      providers,
			"model":         str(),
			"input_tokens":  integer(),
			"output_tokens": integer(),
			"cost_estimate": number(),
			"status":        enum("completed", "failed"),
			"created_at":    dt(),
		}),
		"AuditEntry": object(openapi3.Schemas{
			"id":            str(),
			"subject_id":    str(),
			"resource_type": str(),
			"resource_id":   str(),
			"action":        str(),
			"success":       boolean(),
			"request_id":    str(),
			"created_at":    dt(),
		}),
	}
	schemas["Board"] = object(openapi3.Schemas{
		"id":                    str(),
		"owner_id":              str(),
		"title":                 str(),
		"description":           str(),
		"is_public":             boolean(),
		"default_credential_id": str(),
		"nodes":                 arrayOf(ref("Node")),
		"created_at":            dt(),
		"updated_at":            dt(),
	})
	schemas["Usage"] = object(openapi3.Schemas{
		"summary": object(openapi3.Schemas{
			"subject_id":    str(),
			"since":         dt(),
			"requests":      integer(),
			"failed":        integer(),
			"input_tokens":  integer(),
			"output_tokens": integer(),
			"cost_estimate": number(),
		}),
		"events": arrayOf(ref("UsageEvent")),
	})
	schemas["CredentialList"] = list("Credential")
	schemas["RequestMetricList"] = list("RequestMetric")
	schemas["AuditList"] = list("AuditEntry")
	return schemas
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	s := openapi3.NewArraySchema()
	s.Items = items
	return s.NewRef()
}
