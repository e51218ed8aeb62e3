package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"reelcast/internal/engine"
	"reelcast/internal/httpkit"
	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"
)

// renderCallback is the render service's webhook body. Metadata is the
// string we submitted, though an object is accepted as well.
type renderCallback struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	URL          string          `json:"url"`
	ErrorMessage string          `json:"error_message"`
	Duration     float64         `json:"duration"`
	FileSize     int64           `json:"file_size"`
	Credits      float64         `json:"credits"`
	Metadata     json.RawMessage `json:"metadata"`
}

func (c renderCallback) correlation() (ports.CorrelationMetadata, error) {
	var meta ports.CorrelationMetadata
	raw := bytes.TrimSpace(c.Metadata)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return meta, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return meta, err
		}
		if strings.TrimSpace(s) == "" {
			return meta, nil
		}
		raw = []byte(s)
	}
	err := json.Unmarshal(raw, &meta)
	return meta, err
}

// PostRenderWebhook applies a render callback. Redelivery is expected: a
// 503 asks the sender to retry, and a repeat of an applied callback is a 200.
func (h *Handler) PostRenderWebhook(w http.ResponseWriter, r *http.Request) error {
	if h.webhookSecret != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookSecret)) != 1 {
			return apperrors.Unauthorized("invalid webhook token")
		}
	}

	var body renderCallback
	if err := httpkit.DecodeJSONLenient(r, &body); err != nil {
		return apperrors.Validation("invalid json body: " + err.Error())
	}
	meta, err := body.correlation()
	if err != nil {
		return apperrors.ValidationField("metadata", "metadata is not valid json")
	}
	if strings.TrimSpace(body.ID) == "" && meta.JobID == "" {
		return apperrors.Validation("callback carries neither a render id nor a job id")
	}

	res, err := h.completion.Handle(r.Context(), engine.Callback{
		ExternalID:   strings.TrimSpace(body.ID),
		Status:       body.Status,
		ResultURL:    body.URL,
		ErrorMessage: body.ErrorMessage,
		Result: models.ResultMetadata{
			DurationSeconds: body.Duration,
			FileSizeBytes:   body.FileSize,
			CostUnits:       body.Credits,
		},
		Metadata: meta,
	})
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, res)
	return nil
}
