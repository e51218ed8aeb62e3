package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"reelcast/internal/engine"
	"reelcast/internal/httpkit"
	apperrors "reelcast/internal/pkg/errors"
)

const maxBatchBody = 1 << 20

// PostBatches creates one batch per request object. The body is a single
// object or an array of them. With ?dry_run=true nothing is written and the
// resolved recipients are returned instead.
func (h *Handler) PostBatches(w http.ResponseWriter, r *http.Request) error {
	reqs, err := decodeBatchRequests(r)
	if err != nil {
		return err
	}

	if r.URL.Query().Get("dry_run") == "true" {
		previews := make([]*engine.BatchPreview, 0, len(reqs))
		for _, req := range reqs {
			p, err := h.batches.Preview(r.Context(), req)
			if err != nil {
				return err
			}
			previews = append(previews, p)
		}
		httpkit.WriteJSON(w, http.StatusOK, map[string]any{"previews": previews})
		return nil
	}

	batches, err := h.batches.Create(r.Context(), reqs)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"batches": batches})
	return nil
}

func decodeBatchRequests(r *http.Request) ([]engine.BatchRequest, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBody))
	if err != nil {
		return nil, apperrors.Validation("unreadable body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, apperrors.Validation("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if raw[0] == '[' {
		var reqs []engine.BatchRequest
		if err := dec.Decode(&reqs); err != nil {
			return nil, apperrors.Validation("invalid json body: " + err.Error())
		}
		return reqs, nil
	}
	var req engine.BatchRequest
	if err := dec.Decode(&req); err != nil {
		return nil, apperrors.Validation("invalid json body: " + err.Error())
	}
	return []engine.BatchRequest{req}, nil
}

// GetBatch returns the progress view of one batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) error {
	id := strings.TrimSpace(chi.URLParam(r, "batchId"))
	if id == "" {
		return apperrors.ValidationField("batchId", "batch id is required")
	}
	st, err := h.progress.Status(r.Context(), id)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, st)
	return nil
}
