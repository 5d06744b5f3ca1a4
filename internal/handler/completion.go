package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/canvasgate/canvasgate/internal/completion"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
	"github.com/canvasgate/canvasgate/internal/validate"
)

// Completer runs completions for a subject.
type Completer interface {
	Complete(ctx context.Context, subjectID string, target completion.Target, req model.CompletionRequest) (*model.CompletionResult, error)
	CompleteStream(ctx context.Context, subjectID string, target completion.Target, req model.CompletionRequest, emit completion.Emitter) (*model.CompletionResult, error)
}

// CompletionHandler serves the synchronous and streaming completion
// endpoints of a node.
type CompletionHandler struct {
	completer Completer
}

// NewCompletionHandler creates a new CompletionHandler.
func NewCompletionHandler(c Completer) *CompletionHandler {
	return &CompletionHandler{completer: c}
}

func nodeTarget(r *http.Request) (completion.Target, error) {
	boardID, err := validate.ID("board_id", chi.URLParam(r, "boardID"))
	if err != nil {
		return completion.Target{}, err
	}
	nodeID, err := validate.ID("node_id", chi.URLParam(r, "nodeID"))
	if err != nil {
		return completion.Target{}, err
	}
	return completion.Target{BoardID: boardID, NodeID: nodeID}, nil
}

// Complete generates the node's content in one response.
// POST /api/v1/boards/{boardID}/nodes/{nodeID}/completion
func (h *CompletionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	target, err := nodeTarget(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.CompletionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.completer.Complete(r.Context(), middleware.SubjectID(r.Context()), target, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stream generates the node's content as server-sent events: "delta" per
// chunk, then "done" with the final result or "error" with the error
// envelope. Failures before the first chunk are answered as plain JSON errors
// with their HTTP status.
// POST /api/v1/boards/{boardID}/nodes/{nodeID}/completion/stream
func (h *CompletionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	target, err := nodeTarget(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.CompletionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sse := &sseWriter{w: w, rc: http.NewResponseController(w)}
	res, err := h.completer.CompleteStream(r.Context(), middleware.SubjectID(r.Context()), target, req, func(text string) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		return sse.event("delta", map[string]string{"text": text})
	})
	if err != nil {
		if !sse.started {
			writeError(w, r, err)
			return
		}
		_, body := errorEnvelope(r, err)
		sse.event("error", body)
		return
	}
	sse.event("done", res)
}

// sseWriter writes server-sent events, sending the stream headers with the
// first event.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}
