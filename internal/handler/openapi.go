package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/openapi"
)

// OpenAPIHandler serves the gateway's OpenAPI 3.1 document. The document is
// generated once and cached.
type OpenAPIHandler struct {
	baseURL string
	version string

	once     sync.Once
	jsonDoc  []byte
	yamlDoc  []byte
	buildErr error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version}
}

func (h *OpenAPIHandler) build() {
	h.once.Do(func() {
		doc := openapi.Generate(h.baseURL, h.version)
		h.jsonDoc, h.buildErr = json.Marshal(doc)
		if h.buildErr != nil {
			return
		}
		var generic map[string]any
		if h.buildErr = json.Unmarshal(h.jsonDoc, &generic); h.buildErr != nil {
			return
		}
		h.yamlDoc, h.buildErr = yaml.Marshal(generic)
	})
}

// ServeJSON returns the document as JSON.
// GET /openapi.json
func (h *OpenAPIHandler) ServeJSON(w http.ResponseWriter, r *http.Request) {
	h.build()
	if h.buildErr != nil {
		writeError(w, r, apierr.Internal(h.buildErr))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.jsonDoc)
}

// ServeYAML returns the document as YAML.
// GET /openapi.yaml
func (h *OpenAPIHandler) ServeYAML(w http.ResponseWriter, r *http.Request) {
	h.build()
	if h.buildErr != nil {
		writeError(w, r, apierr.Internal(h.buildErr))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(h.yamlDoc)
}
