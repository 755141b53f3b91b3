package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/shrinkrank/internal/app"
	"github.com/okian/shrinkrank/internal/domain/model"
)

// maxResultBytes bounds a POST /results body.
const maxResultBytes = 64 << 10

// ResultDependencies defines the interface for result intake.
type ResultDependencies interface {
	Submit(ctx context.Context, r model.SubmissionResult) (service.Ack, error)
}

// ResultsHandler handles result submissions.
type ResultsHandler struct {
	deps ResultDependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps ResultDependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandlePostResult handles POST /results requests.
func (h *ResultsHandler) HandlePostResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_result"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req model.SubmissionResult
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResultBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ack, err := h.deps.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if ack.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: ack.ID})
}
