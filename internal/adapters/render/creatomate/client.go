// Package creatomate submits renders to the Creatomate REST API and fetches
// the finished files.
package creatomate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelcast/internal/models"
	apperrors "reelcast/internal/pkg/errors"
	"reelcast/internal/ports"
)

const (
	DefaultBaseURL = "https://api.creatomate.com/v1"

	// Finished videos come off the CDN; the API timeout is too short for them.
	downloadTimeout = 2 * time.Minute
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	download *http.Client
}

var _ ports.RenderClient = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.ValidationField("api_key", "creatomate api key is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  base,
		client:   &http.Client{Timeout: timeout},
		download: &http.Client{Timeout: downloadTimeout},
	}, nil
}

type renderRequest struct {
	TemplateID    string            `json:"template_id"`
	Modifications map[string]string `json:"modifications"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
	// Metadata is an opaque string that Creatomate echoes on the webhook.
	Metadata string `json:"metadata,omitempty"`
}

type renderResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	URL          string  `json:"url"`
	ErrorMessage string  `json:"error_message"`
	Duration     float64 `json:"duration"`
	FileSize     int64   `json:"file_size"`
	Credits      float64 `json:"credits"`
}

// Submit starts one render. Creatomate answers 202 with an array holding a
// single render.
func (c *Client) Submit(ctx context.Context, in ports.SubmitRenderInput) (ports.SubmitRenderOutput, error) {
	const op = "creatomate.Submit"
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return ports.SubmitRenderOutput{}, apperrors.Wrap(err, op, "encode metadata")
	}
	body, err := json.Marshal(renderRequest{
		TemplateID:    in.TemplateID,
		Modifications: in.Modifications,
		WebhookURL:    in.WebhookURL,
		Metadata:      string(meta),
	})
	if err != nil {
		return ports.SubmitRenderOutput{}, apperrors.Wrap(err, op, "encode request")
	}

	var renders []renderResponse
	if err := c.do(ctx, op, http.MethodPost, "/renders", body, &renders); err != nil {
		return ports.SubmitRenderOutput{}, err
	}
	if len(renders) == 0 || renders[0].ID == "" {
		return ports.SubmitRenderOutput{}, apperrors.Unavailable("creatomate", fmt.Errorf("empty render response"))
	}
	return ports.SubmitRenderOutput{ExternalID: renders[0].ID, Status: renders[0].Status}, nil
}

func (c *Client) Status(ctx context.Context, externalID string) (ports.RenderStatus, error) {
	const op = "creatomate.Status"
	var r renderResponse
	if err := c.do(ctx, op, http.MethodGet, "/renders/"+externalID, nil, &r); err != nil {
		return ports.RenderStatus{}, err
	}
	if r.ID == "" {
		r.ID = externalID
	}
	return ports.RenderStatus{
		ExternalID:   r.ID,
		Status:       r.Status,
		URL:          r.URL,
		ErrorMessage: r.ErrorMessage,
		Result:       models.ResultMetadata{DurationSeconds: r.Duration, FileSizeBytes: r.FileSize, CostUnits: r.Credits},
	}, nil
}

// Download streams the file at locator. The caller closes the reader.
func (c *Client) Download(ctx context.Context, locator string) (io.ReadCloser, int64, error) {
	const op = "creatomate.Download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, 0, apperrors.WrapWithCode(err, apperrors.CodeBadRequest, op, "bad result locator")
	}
	res, err := c.download.Do(req)
	if err != nil {
		return nil, 0, apperrors.Unavailable("creatomate-cdn", err)
	}
	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		res.Body.Close()
		return nil, 0, apperrors.Unavailable("creatomate-cdn",
			fmt.Errorf("download http %d: %s", res.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return res.Body, res.ContentLength, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return apperrors.Unavailable("creatomate", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		cause := fmt.Errorf("creatomate http %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return apperrors.Unavailable("creatomate", cause).WithField("status", res.StatusCode)
		}
		return apperrors.WrapWithCode(cause, apperrors.CodeBadRequest, op, "render request rejected").
			WithField("status", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return apperrors.Unavailable("creatomate", fmt.Errorf("decode response: %w", err))
	}
	return nil
}
